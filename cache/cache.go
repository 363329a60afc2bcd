// Package cache is the client's remote data cache.  Entries are keyed by
// query identity and hold the last good value from the server along with a
// staleness flag, the last fetch time and the last fetch error.
//
// Reads never block on a refetch when there is something to show: a stale
// entry is served as-is while a background fetch runs.  Fetch failures keep
// the old value.  Every fetch is tagged with the entry's generation; a
// response that lands after an invalidation, a local write or a Clear is
// dropped rather than stored.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ts4z/hearth/gossip"
	"github.com/ts4z/hearth/varz"
)

var (
	cacheHits     = varz.NewInt("hits")
	cacheMisses   = varz.NewInt("misses")
	staleServes   = varz.NewInt("stale_serves")
	fetchErrors   = varz.NewInt("fetch_errors")
	droppedLate   = varz.NewInt("dropped_late_responses")
	invalidations = varz.NewInt("invalidations")
)

// ErrNoFetcher means nobody registered the key's kind.
var ErrNoFetcher = errors.New("no fetcher registered")

// ErrSuperseded is returned by a read whose fetches kept being overtaken by
// invalidations.
var ErrSuperseded = errors.New("fetch superseded")

// Fetcher loads the value for key from the server.
type Fetcher func(ctx context.Context, key Key) (any, error)

// Snapshot is what a read sees.  Value is shared with the cache and must be
// treated as read-only.
type Snapshot struct {
	Key        Key
	Value      any
	Err        error
	Stale      bool
	Refreshing bool
	FetchedAt  time.Time
	Version    int64
}

// Has reports whether there is a value to show.
func (s Snapshot) Has() bool {
	return s.Value != nil
}

// As extracts a typed value from a snapshot.
func As[T any](s Snapshot) (T, bool) {
	v, ok := s.Value.(T)
	return v, ok
}

type entry struct {
	value     any
	err       error
	fetchedAt time.Time
	stale     bool
	version   int64

	// generation changes whenever the entry's contents are superseded
	// locally.  Fetches started under an older generation are dropped.
	generation uint64
	fetching   bool
	fetchGen   uint64

	polls int
}

type Options struct {
	Size         int
	StaleAfter   time.Duration
	FetchTimeout time.Duration
	Clock        clockwork.Clock
}

type Cache struct {
	lock       sync.Mutex
	entries    *lru.Cache[Key, *entry]
	fetchers   map[string]Fetcher
	nextGen    uint64
	epoch      uint64
	staleAfter time.Duration
	timeout    time.Duration
	clock      clockwork.Clock

	group    singleflight.Group
	gossiper *gossip.Gossiper

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ gossip.Source = (*Cache)(nil)

func New(opts Options) *Cache {
	size := opts.Size
	if size < 1 {
		size = 512
	}
	entries, err := lru.New[Key, *entry](size)
	if err != nil {
		// Only fails for size < 1.
		panic(fmt.Sprintf("cache: can't create lru: %v", err))
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		entries:    entries,
		fetchers:   map[string]Fetcher{},
		staleAfter: opts.StaleAfter,
		timeout:    opts.FetchTimeout,
		clock:      clock,
		ctx:        ctx,
		cancel:     cancel,
	}
	c.gossiper = gossip.New(c)
	return c
}

// Close stops pollers and waits for in-flight fetches to finish.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Cache) Gossiper() *gossip.Gossiper {
	return c.gossiper
}

// Register sets the fetcher for every key of the given kind.
func (c *Cache) Register(kind string, f Fetcher) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.fetchers[kind] = f
}

// RegisterTyped is Register for fetchers that return a concrete type.
func RegisterTyped[T any](c *Cache, kind string, f func(ctx context.Context, key Key) (T, error)) {
	c.Register(kind, func(ctx context.Context, key Key) (any, error) {
		v, err := f(ctx, key)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
}

func (c *Cache) newGenLocked() uint64 {
	c.nextGen++
	return c.nextGen
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries.Get(key)
	if !ok {
		e = &entry{generation: c.newGenLocked(), stale: true}
		c.entries.Add(key, e)
	}
	return e
}

func (c *Cache) expiredLocked(e *entry) bool {
	if e.stale || e.fetchedAt.IsZero() {
		return true
	}
	return c.staleAfter > 0 && c.clock.Since(e.fetchedAt) > c.staleAfter
}

func (c *Cache) snapshotLocked(key Key, e *entry) Snapshot {
	return Snapshot{
		Key:        key,
		Value:      e.value,
		Err:        e.err,
		Stale:      c.expiredLocked(e),
		Refreshing: e.fetching && e.fetchGen == e.generation,
		FetchedAt:  e.fetchedAt,
		Version:    e.version,
	}
}

// Read returns the entry for key.  Fresh data comes straight back.  Stale
// data also comes straight back, with a refetch started behind it.  With
// nothing to show, Read waits for the fetch (or ctx).
func (c *Cache) Read(ctx context.Context, key Key) Snapshot {
	c.lock.Lock()
	e := c.entryLocked(key)
	if e.value != nil {
		if !c.expiredLocked(e) {
			cacheHits.Add(1)
			defer c.lock.Unlock()
			return c.snapshotLocked(key, e)
		}
		staleServes.Add(1)
		c.startBackgroundLocked(key, e)
		defer c.lock.Unlock()
		return c.snapshotLocked(key, e)
	}
	cacheMisses.Add(1)
	// A fetch overtaken by an invalidation leaves nothing to show; wait for
	// one that started after it.
	for attempt := 0; ; attempt++ {
		gen := e.generation
		ch := c.fetchLocked(key, e)
		c.lock.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			s := c.peekSnapshot(key)
			if s.Err == nil {
				s.Err = ctx.Err()
			}
			return s
		}

		c.lock.Lock()
		var ok bool
		if e, ok = c.entries.Peek(key); !ok {
			c.lock.Unlock()
			return Snapshot{Key: key}
		}
		if e.value != nil || e.err != nil || e.generation == gen || attempt == 2 {
			s := c.snapshotLocked(key, e)
			c.lock.Unlock()
			if !s.Has() && s.Err == nil {
				s.Err = fmt.Errorf("cache: %s: %w", key, ErrSuperseded)
			}
			return s
		}
	}
}

// peekSnapshot is Peek for callers that don't care whether the entry is
// still there.  A Clear while waiting leaves nothing to show.
func (c *Cache) peekSnapshot(key Key) Snapshot {
	s, _ := c.Peek(key)
	return s
}

// Get is a blocking read-through: it returns fresh data, fetching if it has
// to.  A failed fetch returns the last good value (if any) and the error.
func (c *Cache) Get(ctx context.Context, key Key) (any, error) {
	// A fetch overtaken by a local write is retried; the second attempt
	// starts after that write.
	for attempt := 0; attempt < 3; attempt++ {
		c.lock.Lock()
		e := c.entryLocked(key)
		if e.value != nil && !c.expiredLocked(e) {
			cacheHits.Add(1)
			v := e.value
			c.lock.Unlock()
			return v, nil
		}
		cacheMisses.Add(1)
		gen := e.generation
		ch := c.fetchLocked(key, e)
		c.lock.Unlock()

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		c.lock.Lock()
		var v any
		superseded := true
		if e, ok := c.entries.Peek(key); ok {
			superseded = e.generation != gen
			v = e.value
		}
		c.lock.Unlock()
		if res.Err != nil {
			return v, res.Err
		}
		if !superseded {
			return res.Val, nil
		}
	}
	s := c.peekSnapshot(key)
	return s.Value, s.Err
}

// GetAs is Get with a type assertion.
func GetAs[T any](ctx context.Context, c *Cache, key Key) (T, error) {
	var zero T
	v, err := c.Get(ctx, key)
	if v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: %s holds %T, not %T", key, v, zero)
	}
	return t, err
}

// startBackgroundLocked kicks off a fetch for the current generation unless
// one is already running.
func (c *Cache) startBackgroundLocked(key Key, e *entry) {
	if e.fetching && e.fetchGen == e.generation {
		return
	}
	c.fetchLocked(key, e)
}

// fetchLocked starts or joins the fetch of key for the entry's current
// generation.  The returned channel yields the result once.
func (c *Cache) fetchLocked(key Key, e *entry) <-chan singleflight.Result {
	gen, epoch := e.generation, c.epoch
	f := c.fetchers[key.Kind()]
	e.fetching, e.fetchGen = true, gen

	out := make(chan singleflight.Result, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		v, err, shared := c.group.Do(key.String()+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
			return c.runFetch(key, f, gen, epoch)
		})
		out <- singleflight.Result{Val: v, Err: err, Shared: shared}
	}()
	return out
}

func (c *Cache) runFetch(key Key, f Fetcher, gen, epoch uint64) (any, error) {
	var v any
	var err error
	if f == nil {
		err = fmt.Errorf("cache: %s: %w", key.Kind(), ErrNoFetcher)
	} else {
		ctx := c.ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		v, err = f(ctx, key)
	}
	c.complete(key, gen, epoch, v, err)
	return v, err
}

// complete stores a fetch result if nothing has superseded it.
func (c *Cache) complete(key Key, gen, epoch uint64, v any, err error) {
	c.lock.Lock()
	if epoch != c.epoch {
		c.lock.Unlock()
		droppedLate.Add(1)
		zap.S().Debugf("cache: dropping %s fetched before clear", key)
		return
	}
	e, ok := c.entries.Get(key)
	if !ok {
		// Evicted mid-flight; start over with what we got.
		e = &entry{generation: gen}
		c.entries.Add(key, e)
	}
	if e.fetchGen == gen {
		e.fetching = false
	}
	if e.generation != gen {
		c.lock.Unlock()
		droppedLate.Add(1)
		zap.S().Debugf("cache: dropping late response for %s (generation %d, now %d)", key, gen, e.generation)
		return
	}
	if err != nil {
		fetchErrors.Add(1)
		e.err = err
		c.lock.Unlock()
		zap.S().Infof("cache: fetch %s failed: %v", key, err)
		return
	}
	if v == nil {
		// A nil result would read as "nothing yet" forever.
		e.err = fmt.Errorf("cache: fetcher for %s returned nothing", key)
		c.lock.Unlock()
		return
	}
	c.storeLocked(e, v)
	version := e.version
	c.lock.Unlock()
	c.gossiper.NotifyUpdated(key.String(), version, v)
}

func (c *Cache) storeLocked(e *entry, v any) {
	e.value = v
	e.err = nil
	e.stale = false
	e.fetchedAt = c.clock.Now()
	e.version++
}

// Invalidate marks entries stale without dropping their values.  The next
// read refetches; entries someone is polling or listening to refetch now.  A
// fetch already in flight for one of these keys is ignored when it lands.
func (c *Cache) Invalidate(keys ...Key) {
	c.lock.Lock()
	watched := []Key{}
	for _, key := range keys {
		e, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		if c.invalidateLocked(key, e) {
			watched = append(watched, key)
		}
	}
	c.lock.Unlock()
	c.refetchListened(watched)
}

// invalidateLocked reports whether the entry should be refetched if anyone
// is listening to it.
func (c *Cache) invalidateLocked(key Key, e *entry) bool {
	invalidations.Add(1)
	e.stale = true
	e.generation = c.newGenLocked()
	if e.value == nil {
		return false
	}
	if e.polls > 0 {
		c.fetchLocked(key, e)
		return false
	}
	return true
}

// refetchListened refetches those keys that have gossip listeners.  The
// gossiper calls back into the cache, so this runs unlocked.
func (c *Cache) refetchListened(keys []Key) {
	for _, key := range keys {
		if c.gossiper.Listening(key.String()) == 0 {
			continue
		}
		c.lock.Lock()
		if e, ok := c.entries.Peek(key); ok && e.value != nil {
			c.startBackgroundLocked(key, e)
		}
		c.lock.Unlock()
	}
}

// InvalidateKind invalidates every entry of a kind, e.g. all feed pages.
func (c *Cache) InvalidateKind(kinds ...string) {
	c.lock.Lock()
	watched := []Key{}
	for _, key := range c.entries.Keys() {
		for _, kind := range kinds {
			if key.Kind() != kind {
				continue
			}
			if e, ok := c.entries.Peek(key); ok && c.invalidateLocked(key, e) {
				watched = append(watched, key)
			}
			break
		}
	}
	c.lock.Unlock()
	c.refetchListened(watched)
}

// Set stores v as if it had just been fetched.  Any fetch in flight for key
// is superseded.
func (c *Cache) Set(key Key, v any) {
	if v == nil {
		c.Remove(key)
		return
	}
	c.lock.Lock()
	e := c.entryLocked(key)
	e.generation = c.newGenLocked()
	c.storeLocked(e, v)
	version := e.version
	c.lock.Unlock()
	c.gossiper.NotifyUpdated(key.String(), version, v)
}

// Update rewrites the cached value for key in place.  fn gets the current
// value (nil if none) and returns the new one and whether to store it.
// Staleness and fetch time are left alone: a merge is not a refetch.
func (c *Cache) Update(key Key, fn func(old any) (any, bool)) bool {
	c.lock.Lock()
	e, ok := c.entries.Get(key)
	if !ok {
		c.lock.Unlock()
		return false
	}
	nv, store := fn(e.value)
	if !store || nv == nil {
		c.lock.Unlock()
		return false
	}
	e.value = nv
	e.version++
	e.generation = c.newGenLocked()
	version := e.version
	c.lock.Unlock()
	c.gossiper.NotifyUpdated(key.String(), version, nv)
	return true
}

// UpdateAs is Update for callers that know the type.  Entries holding
// anything else are left alone.
func UpdateAs[T any](c *Cache, key Key, fn func(old T) T) bool {
	return c.Update(key, func(old any) (any, bool) {
		t, ok := old.(T)
		if !ok {
			return nil, false
		}
		return fn(t), true
	})
}

// Remove forgets key entirely.
func (c *Cache) Remove(key Key) {
	c.lock.Lock()
	c.entries.Remove(key)
	c.lock.Unlock()
	c.gossiper.NotifyDeleted(key.String())
}

// Clear forgets everything, for logout.  Fetches in flight are dropped when
// they land.
func (c *Cache) Clear() {
	c.lock.Lock()
	keys := c.entries.Keys()
	c.entries.Purge()
	c.epoch++
	c.lock.Unlock()
	for _, key := range keys {
		c.gossiper.NotifyDeleted(key.String())
	}
}

// Peek returns what is cached for key without fetching anything.
func (c *Cache) Peek(key Key) (Snapshot, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	e, ok := c.entries.Peek(key)
	if !ok {
		return Snapshot{Key: key}, false
	}
	return c.snapshotLocked(key, e), true
}

// Current implements gossip.Source.
func (c *Cache) Current(_ context.Context, key string) (any, int64, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	e, ok := c.entries.Peek(Key(key))
	if !ok || e.value == nil {
		return nil, 0, false
	}
	return e.value, e.version, true
}

// Listen reports the next version of key after version.  See
// gossip.Gossiper.ListenVersion.
func (c *Cache) Listen(ctx context.Context, key Key, version int64, errCh chan<- error, valueCh chan<- gossip.Update) {
	c.gossiper.ListenVersion(ctx, key.String(), version, errCh, valueCh)
}

// Poll refetches key every interval whether or not it is stale, until ctx
// ends or stop is called.
func (c *Cache) Poll(ctx context.Context, key Key, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.lock.Lock()
	c.entryLocked(key).polls++
	c.lock.Unlock()

	ticker := c.clock.NewTicker(interval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()
		defer func() {
			c.lock.Lock()
			if e, ok := c.entries.Peek(key); ok && e.polls > 0 {
				e.polls--
			}
			c.lock.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.ctx.Done():
				return
			case <-ticker.Chan():
				c.lock.Lock()
				c.startBackgroundLocked(key, c.entryLocked(key))
				c.lock.Unlock()
			}
		}
	}()
	return cancel
}
