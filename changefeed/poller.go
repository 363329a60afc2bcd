package changefeed

import (
	"context"
	"time"

	"github.com/ts4z/hearth/cache"
)

// Pollable is the cache's Poll.
type Pollable interface {
	Poll(ctx context.Context, key cache.Key, interval time.Duration) (stop func())
}

// Poller refetches a fixed set of keys every Interval, whether or not
// anything says they changed.  It is the fallback when there is no push
// channel, and delivers changes at least every Interval.
type Poller struct {
	Cache    Pollable
	Keys     []cache.Key
	Interval time.Duration
}

var _ Source = (*Poller)(nil)

// Start begins polling and returns a func that stops all of it.
func (p *Poller) Start(ctx context.Context) (stop func()) {
	stops := make([]func(), 0, len(p.Keys))
	for _, k := range p.Keys {
		stops = append(stops, p.Cache.Poll(ctx, k, p.Interval))
	}
	return func() {
		for _, s := range stops {
			s()
		}
	}
}

// Run polls until ctx is done.  The dispatcher is unused: polling refreshes
// the cache directly.
func (p *Poller) Run(ctx context.Context, _ *Dispatcher) error {
	stop := p.Start(ctx)
	defer stop()
	<-ctx.Done()
	return ctx.Err()
}
