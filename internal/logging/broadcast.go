package logging

import (
	"container/ring"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultBufferSize is the number of log lines kept in memory for
// late-joining subscribers.
const DefaultBufferSize = 1000

var (
	broadcaster   *Broadcaster
	broadcastOnce sync.Once
)

// Broadcaster captures log writes, buffers the most recent lines, and fans
// them out to subscribers. The daemon status API streams from it.
type Broadcaster struct {
	mu          sync.RWMutex
	buffer      *ring.Ring
	subscribers map[string]chan string
}

// GetBroadcaster returns the singleton broadcaster instance.
func GetBroadcaster() *Broadcaster {
	broadcastOnce.Do(func() {
		broadcaster = &Broadcaster{
			buffer:      ring.New(DefaultBufferSize),
			subscribers: make(map[string]chan string),
		}
	})
	return broadcaster
}

// Write implements io.Writer. A slow subscriber never blocks the logger; the
// line is dropped for that subscriber instead.
func (b *Broadcaster) Write(p []byte) (int, error) {
	msg := string(p)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffer.Value = msg
	b.buffer = b.buffer.Next()

	for _, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}

	return len(p), nil
}

// Subscribe registers a subscriber and returns its id, a channel of new log
// lines, and a snapshot of the buffered history.
func (b *Broadcaster) Subscribe() (string, chan string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan string, 256)
	b.subscribers[id] = ch

	return id, ch, b.historyLocked()
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// History returns the buffered log lines, oldest first.
func (b *Broadcaster) History() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.historyLocked()
}

func (b *Broadcaster) historyLocked() []string {
	history := make([]string, 0, DefaultBufferSize)
	b.buffer.Do(func(p interface{}) {
		if p != nil {
			history = append(history, p.(string))
		}
	})
	return history
}

// Shutdown closes all subscriber channels.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// SetGlobalLevel updates the global zerolog level at runtime.
func SetGlobalLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	zerolog.SetGlobalLevel(parseLevel(level))
}

// GetGlobalLevel returns the current global level string.
func GetGlobalLevel() string {
	return zerolog.GlobalLevel().String()
}
