package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"info", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" trace ", zerolog.TraceLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Errorf("parseLevel(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeMaxBytes(t *testing.T) {
	if got := normalizeMaxBytes(0); got != int64(defaultMaxSizeMB)*bytesPerMB {
		t.Fatalf("zero size should use default, got %d", got)
	}
	if got := normalizeMaxBytes(-5); got != int64(defaultMaxSizeMB)*bytesPerMB {
		t.Fatalf("negative size should use default, got %d", got)
	}
	if got := normalizeMaxBytes(2); got != 2*bytesPerMB {
		t.Fatalf("expected 2MB in bytes, got %d", got)
	}
}

func TestNormalizeMaxAge(t *testing.T) {
	if got := normalizeMaxAge(0); got != 0 {
		t.Fatalf("zero days should disable cleanup, got %v", got)
	}
	if got := normalizeMaxAge(-1); got != time.Duration(defaultMaxAgeDays)*24*time.Hour {
		t.Fatalf("negative days should use default, got %v", got)
	}
	if got := normalizeMaxAge(7); got != 7*24*time.Hour {
		t.Fatalf("expected 7 days, got %v", got)
	}
}

func TestRollingFileWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "darby.log")

	w := &rollingFileWriter{
		path:     path,
		maxBytes: 64,
	}
	t.Cleanup(func() { _ = w.Close() })

	line := strings.Repeat("x", 40) + "\n"
	for i := 0; i < 4; i++ {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	rotated := 0
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "darby.log.") {
			rotated++
		}
	}
	if rotated == 0 {
		t.Fatal("expected at least one rotated log file")
	}
}

func TestRollingFileWriterCleanupRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "darby.log")

	old := path + ".20200101-000000"
	if err := os.WriteFile(old, []byte("old"), 0o600); err != nil {
		t.Fatalf("seed old rotated file: %v", err)
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatalf("age old rotated file: %v", err)
	}

	w := &rollingFileWriter{
		path:     path,
		maxBytes: 1024,
		maxAge:   24 * time.Hour,
	}
	t.Cleanup(func() { _ = w.Close() })
	w.cleanupOldFiles()

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old rotated file removed, stat err = %v", err)
	}
}

func TestValidateExistingRegularFileRefusesSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.log")
	if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
		t.Fatalf("write target: %v", err)
	}
	link := filepath.Join(dir, "link.log")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if err := validateExistingRegularFile(link); err == nil {
		t.Fatal("expected error for symlink path")
	}
	if err := validateExistingRegularFile(target); err != nil {
		t.Fatalf("regular file should validate: %v", err)
	}
	if err := validateExistingRegularFile(filepath.Join(dir, "missing.log")); err != nil {
		t.Fatalf("missing file should validate: %v", err)
	}
}
