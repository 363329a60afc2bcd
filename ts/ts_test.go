package ts

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	fc := clockwork.NewFakeClockAt(start)
	c := NewClock(fc)

	assert.Equal(t, start, c.Precise())
	assert.Equal(t, start.Truncate(time.Second), c.Now().UTC())

	fc.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, c.Since(start))
	assert.Same(t, fc, c.RealClock())
}
