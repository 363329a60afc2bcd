package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ts4z/hearth/varz"
)

var (
	listenersParked = varz.NewGauge("listeners")
	notifications   = varz.NewInt("notifications")
)

// ErrDeleted is sent to listeners of a key that went away.
var ErrDeleted = errors.New("resource deleted")

// A listen request eventually results in exactly one write to one of these
// channels (possibly before the pair is constructed).  Callers should buffer
// both by one so that write never blocks.
type channels struct {
	errCh   chan<- error
	valueCh chan<- Update
	stop    func() bool
}

// Gossiper provides a tattletale for changes to cache entries.
type Gossiper struct {
	listenersMu sync.Mutex
	listeners   map[string]map[*channels]struct{}
	source      Source
}

func New(source Source) *Gossiper {
	return &Gossiper{
		listeners: make(map[string]map[*channels]struct{}),
		source:    source,
	}
}

// SetSource is for when the source needs the gossiper to be constructed.
func (g *Gossiper) SetSource(source Source) {
	g.listenersMu.Lock()
	defer g.listenersMu.Unlock()
	g.source = source
}

// ListenVersion reports the next version of key newer than version.  If the
// source already has something different, it is sent right away.  If ctx
// ends first, ctx.Err() is sent instead.
func (g *Gossiper) ListenVersion(ctx context.Context, key string, version int64, errCh chan<- error, valueCh chan<- Update) {
	g.listenersMu.Lock()
	defer g.listenersMu.Unlock()

	if g.source != nil {
		if v, have, ok := g.source.Current(ctx, key); ok && have != version {
			if have < version {
				// A client claiming to be ahead of us is confused or lying.
				zap.S().Warnf("gossiper: reported version %d is newer than cached version %d for %s", version, have, key)
			}
			valueCh <- Update{Key: key, Version: have, Value: v}
			return
		}
	}

	if err := ctx.Err(); err != nil {
		errCh <- err
		return
	}

	chs := &channels{errCh: errCh, valueCh: valueCh}
	set, ok := g.listeners[key]
	if !ok {
		set = map[*channels]struct{}{}
		g.listeners[key] = set
	}
	set[chs] = struct{}{}
	listenersParked.Add(1)
	chs.stop = context.AfterFunc(ctx, func() {
		if g.remove(key, chs) {
			chs.errCh <- ctx.Err()
		}
	})
	zap.S().Debugf("gossiper: listening for %s changes from version %d", key, version)
}

// remove takes chs out of the listener set, and reports whether it was
// still there.  Whoever removes a listener owns its one write.
func (g *Gossiper) remove(key string, chs *channels) bool {
	g.listenersMu.Lock()
	defer g.listenersMu.Unlock()
	set := g.listeners[key]
	if _, ok := set[chs]; !ok {
		return false
	}
	delete(set, chs)
	if len(set) == 0 {
		delete(g.listeners, key)
	}
	listenersParked.Add(-1)
	return true
}

func (g *Gossiper) resetListeners(key string) []*channels {
	g.listenersMu.Lock()
	defer g.listenersMu.Unlock()
	set := g.listeners[key]
	delete(g.listeners, key)
	out := make([]*channels, 0, len(set))
	for chs := range set {
		out = append(out, chs)
	}
	listenersParked.Add(-int64(len(out)))
	return out
}

// NotifyUpdated wakes everyone listening on key.
func (g *Gossiper) NotifyUpdated(key string, version int64, value any) {
	listeners := g.resetListeners(key)
	if len(listeners) == 0 {
		return
	}
	notifications.Add(int64(len(listeners)))
	for _, chs := range listeners {
		chs.stop()
		chs.valueCh <- Update{Key: key, Version: version, Value: value}
	}
	zap.S().Debugf("gossiper: notified %d listeners of %s version %d", len(listeners), key, version)
}

// NotifyDeleted fails everyone listening on key.
func (g *Gossiper) NotifyDeleted(key string) {
	for _, chs := range g.resetListeners(key) {
		chs.stop()
		chs.errCh <- fmt.Errorf("%s: %w", key, ErrDeleted)
	}
}

// Listening counts parked listeners on key.
func (g *Gossiper) Listening(key string) int {
	g.listenersMu.Lock()
	defer g.listenersMu.Unlock()
	return len(g.listeners[key])
}
