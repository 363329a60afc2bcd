// Package toast carries short, recoverable, user-visible messages from
// background work back to the view that started it.
package toast

import (
	"sync"
	"time"

	"github.com/ts4z/hearth/he"
	"github.com/ts4z/hearth/ts"
	"github.com/ts4z/hearth/varz"
)

var posted = varz.NewMap("posted", "level")

type Level string

const (
	Success Level = "success"
	Error   Level = "error"
	Warning Level = "warning"
	Info    Level = "info"
)

type Toast struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Sink accepts toasts.  Post must not block.
type Sink interface {
	Post(t Toast)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Toast)

func (f SinkFunc) Post(t Toast) { f(t) }

// Discard drops everything.
var Discard Sink = SinkFunc(func(Toast) {})

// Queue is a bounded ring of toasts.  When full, the oldest toast is
// dropped.  Subscribers get a nudge (not the toast) on every post and are
// expected to Drain.
type Queue struct {
	lock   sync.Mutex
	clock  *ts.Clock
	ring   []Toast
	limit  int
	notify []chan struct{}
}

func NewQueue(limit int, clock *ts.Clock) *Queue {
	if limit <= 0 {
		limit = 16
	}
	return &Queue{clock: clock, limit: limit}
}

func (q *Queue) Post(t Toast) {
	if t.At.IsZero() {
		t.At = q.clock.Now()
	}
	posted.WithLabelValues(string(t.Level)).Inc()

	q.lock.Lock()
	defer q.lock.Unlock()
	if len(q.ring) == q.limit {
		copy(q.ring, q.ring[1:])
		q.ring = q.ring[:len(q.ring)-1]
	}
	q.ring = append(q.ring, t)
	for _, ch := range q.notify {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Drain returns the queued toasts, oldest first, and empties the queue.
func (q *Queue) Drain() []Toast {
	q.lock.Lock()
	defer q.lock.Unlock()
	out := q.ring
	q.ring = nil
	return out
}

func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.ring)
}

// Subscribe returns a channel that receives a value (coalesced) whenever a
// toast is posted, and a func that unsubscribes.
func (q *Queue) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	q.lock.Lock()
	q.notify = append(q.notify, ch)
	q.lock.Unlock()
	return ch, func() {
		q.lock.Lock()
		defer q.lock.Unlock()
		for i, c := range q.notify {
			if c == ch {
				q.notify = append(q.notify[:i], q.notify[i+1:]...)
				return
			}
		}
	}
}

// Say posts a plain toast.
func Say(s Sink, level Level, message string) {
	s.Post(Toast{Level: level, Message: message})
}

// Failed posts an error toast for err, with fallback used when the error
// carries no message of its own.
func Failed(s Sink, err error, fallback string) {
	s.Post(Toast{Level: Error, Message: he.UserMessage(err, fallback)})
}
