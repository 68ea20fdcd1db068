package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildRespectsConfiguredSources(t *testing.T) {
	src := Sources{Maildir: "/tmp/mail", RepoPath: "/tmp/repo"}

	watchers := Build(nil, src)
	ids := make([]string, 0, len(watchers))
	for _, w := range watchers {
		ids = append(ids, w.ID())
	}
	assert.Equal(t, []string{"mail", "repo"}, ids)
}

func TestBuildFiltersByRequestedIDs(t *testing.T) {
	src := Sources{
		Maildir:          "/tmp/mail",
		CalendarPath:     "/tmp/cal.ics",
		NotificationsLog: "/tmp/n.log",
	}

	watchers := Build([]string{"calendar", "mail"}, src)
	assert.Len(t, watchers, 2)
	assert.Equal(t, "calendar", watchers[0].ID())
	assert.Equal(t, "mail", watchers[1].ID())
}

func TestBuildUnknownIDIgnored(t *testing.T) {
	watchers := Build([]string{"telegraph"}, Sources{Maildir: "/tmp/mail"})
	assert.Empty(t, watchers)
}

func TestBuildUnconfiguredSourceSkipped(t *testing.T) {
	watchers := Build([]string{"messages"}, Sources{})
	assert.Empty(t, watchers)
}
