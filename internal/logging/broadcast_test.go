package logging

import (
	"container/ring"
	"testing"
)

func newTestBroadcaster(bufferSize int) *Broadcaster {
	return &Broadcaster{
		buffer:      ring.New(bufferSize),
		subscribers: make(map[string]chan string),
	}
}

func historyContains(history []string, want string) bool {
	for _, entry := range history {
		if entry == want {
			return true
		}
	}
	return false
}

func TestBroadcasterWriteBroadcastsAndSkipsBlockedSubscribers(t *testing.T) {
	b := newTestBroadcaster(4)
	fast := make(chan string, 1)
	blocked := make(chan string, 1)
	blocked <- "already-full"
	b.subscribers["fast"] = fast
	b.subscribers["blocked"] = blocked

	n, err := b.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if n != len("hello") {
		t.Fatalf("Write returned %d bytes, want %d", n, len("hello"))
	}

	select {
	case got := <-fast:
		if got != "hello" {
			t.Fatalf("subscriber received %q, want %q", got, "hello")
		}
	default:
		t.Fatal("expected fast subscriber to receive message")
	}

	select {
	case got := <-blocked:
		if got != "already-full" {
			t.Fatalf("blocked subscriber payload changed: got %q", got)
		}
	default:
		t.Fatal("expected blocked channel to still contain original message")
	}

	if !historyContains(b.History(), "hello") {
		t.Fatal("expected history to contain written line")
	}
}

func TestBroadcasterHistoryKeepsMostRecentLines(t *testing.T) {
	b := newTestBroadcaster(2)
	for _, msg := range []string{"one", "two", "three"} {
		if _, err := b.Write([]byte(msg)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	history := b.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 buffered lines, got %d", len(history))
	}
	if historyContains(history, "one") {
		t.Fatal("oldest line should have been evicted")
	}
	if !historyContains(history, "two") || !historyContains(history, "three") {
		t.Fatalf("unexpected history contents: %v", history)
	}
}

func TestBroadcasterSubscribeReturnsSnapshotAndLiveLines(t *testing.T) {
	b := newTestBroadcaster(4)
	if _, err := b.Write([]byte("early")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	id, ch, history := b.Subscribe()
	t.Cleanup(func() { b.Unsubscribe(id) })

	if !historyContains(history, "early") {
		t.Fatal("expected snapshot to contain earlier line")
	}

	if _, err := b.Write([]byte("late")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case got := <-ch:
		if got != "late" {
			t.Fatalf("subscriber received %q, want %q", got, "late")
		}
	default:
		t.Fatal("expected subscriber to receive live line")
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := newTestBroadcaster(4)
	id, ch, _ := b.Subscribe()

	b.Unsubscribe(id)

	if _, open := <-ch; open {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
	if _, err := b.Write([]byte("after")); err != nil {
		t.Fatalf("Write after unsubscribe: %v", err)
	}
}
