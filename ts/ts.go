// Package ts wraps clockwork so that staleness, polling and debouncing can
// run against a fake clock in tests.
package ts

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock wraps clockwork.Clock so that the Now method is a little more
// convenient.
type Clock struct {
	realClock clockwork.Clock
}

func NewRealClock() *Clock {
	return &Clock{
		realClock: clockwork.NewRealClock(),
	}
}

// NewClock wraps any clockwork clock, usually a fake one.
func NewClock(c clockwork.Clock) *Clock {
	return &Clock{realClock: c}
}

// Now provides a timestamp truncated to the second, and in local time,
// convenient for human-readable times.
func (c *Clock) Now() time.Time {
	return c.realClock.Now().Local().Truncate(time.Second)
}

// Precise is Now without the truncation, for staleness arithmetic.
func (c *Clock) Precise() time.Time {
	return c.realClock.Now()
}

func (c *Clock) Since(t time.Time) time.Duration {
	return c.realClock.Since(t)
}

func (c *Clock) RealClock() clockwork.Clock {
	return c.realClock
}
