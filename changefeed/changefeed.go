/*
Package changefeed moves news of server-side changes into the cache.

A Source produces Events; the Dispatcher routes each one to the Consumer
for its resource; a ChangeDispatcher (the usual consumer) invalidates the
cache keys the change touches and optionally reads them back through, so
anyone listening on those keys hears the new version.

The server may or may not offer a push channel.  WSSource uses it when it
is there and falls back to a Poller when it isn't.
*/
package changefeed

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/varz"
)

var (
	events     = varz.NewMap("events", "resource")
	unroutable = varz.NewInt("unroutable_events")
)

// Event says a resource changed.  ID is the resource's id as a string
// (usernames for users and conversations).  Version, if the server sends
// one, is informational.
type Event struct {
	Resource string `json:"resource"`
	ID       string `json:"id,omitempty"`
	Version  int64  `json:"version,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
}

type Source interface {
	Run(ctx context.Context, d *Dispatcher) error
}

type Consumer interface {
	Resource() string
	Consume(ctx context.Context, ev *Event)
}

// Dispatcher routes events by resource name.
type Dispatcher struct {
	consumers map[string]Consumer
}

func NewDispatcher(consumers ...Consumer) (*Dispatcher, error) {
	m := make(map[string]Consumer)
	for _, c := range consumers {
		r := c.Resource()
		if _, exists := m[r]; exists {
			return nil, fmt.Errorf("duplicate consumer for resource %s", r)
		}
		m[r] = c
	}
	return &Dispatcher{consumers: m}, nil
}

// Dispatch hands ev to its consumer.  Events are consumed in the order
// they arrive.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) {
	c, ok := d.consumers[ev.Resource]
	if !ok {
		unroutable.Add(1)
		zap.S().Debugf("changefeed: no consumer for resource %q", ev.Resource)
		return
	}
	events.WithLabelValues(ev.Resource).Inc()
	c.Consume(ctx, ev)
}

// Cache is what a ChangeDispatcher does to the cache.
type Cache interface {
	Invalidate(keys ...cache.Key)
	InvalidateKind(kinds ...string)
	Remove(key cache.Key)
	Read(ctx context.Context, key cache.Key) cache.Snapshot
	Peek(key cache.Key) (cache.Snapshot, bool)
}

// ChangeDispatcher is a Consumer that turns an event into cache work:
// the keys it names are invalidated (removed, for a deletion), whole kinds
// are invalidated, and with readThrough the named keys that are cached are
// read back so a refetch starts now rather than when someone next looks.
type ChangeDispatcher struct {
	resource    string
	cache       Cache
	keys        func(ev *Event) []cache.Key
	kinds       []string
	readThrough bool
}

var _ Consumer = (*ChangeDispatcher)(nil)

func NewChangeDispatcher(resource string, c Cache, keys func(ev *Event) []cache.Key, kinds []string, readThrough bool) *ChangeDispatcher {
	return &ChangeDispatcher{
		resource:    resource,
		cache:       c,
		keys:        keys,
		kinds:       kinds,
		readThrough: readThrough,
	}
}

func (cd *ChangeDispatcher) Resource() string {
	return cd.resource
}

func (cd *ChangeDispatcher) Consume(ctx context.Context, ev *Event) {
	var keys []cache.Key
	if cd.keys != nil {
		keys = cd.keys(ev)
	}

	if ev.Deleted {
		for _, k := range keys {
			cd.cache.Remove(k)
		}
	} else if len(keys) > 0 {
		cd.cache.Invalidate(keys...)
	}
	if len(cd.kinds) > 0 {
		cd.cache.InvalidateKind(cd.kinds...)
	}

	if !cd.readThrough || ev.Deleted {
		return
	}
	for _, k := range keys {
		if _, cached := cd.cache.Peek(k); !cached {
			continue
		}
		if snap := cd.cache.Read(ctx, k); snap.Err != nil {
			zap.S().Infof("changefeed: read-through of %s after %s %s: %v", k, ev.Resource, ev.ID, snap.Err)
		}
	}
}
