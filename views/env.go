/*
Package views holds the client's screens as state: the feed, a post card,
stories, friends, chat, profiles and search.

Views read through the cache and write through storage.  Values that change
optimistically (like state, friend request status) live in the Env's
mutation coordinators and are laid over whatever the cache holds when a
view renders.  Each view has a Lifetime; work that finishes after the view
was unmounted is dropped.
*/
package views

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/dep"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/mutation"
	"github.com/ts4z/hearth/state"
	"github.com/ts4z/hearth/storecache"
	"github.com/ts4z/hearth/toast"
	"github.com/ts4z/hearth/varz"
)

var droppedResults = varz.NewInt("dropped_results")

// ErrUnmounted is returned for work whose view went away before it
// finished.  The result was not applied.
var ErrUnmounted = errors.New("views: view was unmounted")

const (
	DefaultChatPoll       = 3 * time.Second
	DefaultSearchDebounce = 500 * time.Millisecond
)

// Identity is who is looking.  *session.Session implements it.
type Identity interface {
	User() *model.User
	RefreshUser(ctx context.Context) (*model.User, error)
}

type Options struct {
	Store *storecache.Storage
	Me    Identity
	Sink  toast.Sink
	Clock clockwork.Clock

	ChatPoll       time.Duration
	SearchDebounce time.Duration
}

// Env is what every view shares.
type Env struct {
	store    state.Storage
	cache    *cache.Cache
	me       Identity
	sink     toast.Sink
	clock    clockwork.Clock
	chatPoll time.Duration
	debounce time.Duration

	Likes    *mutation.Coordinator[model.LikeState]
	Requests *mutation.Coordinator[RequestStatus]
}

func NewEnv(opts Options) *Env {
	store := dep.Required(opts.Store)
	e := &Env{
		store:    store,
		cache:    store.Cache(),
		me:       dep.Required(opts.Me),
		sink:     opts.Sink,
		clock:    opts.Clock,
		chatPoll: opts.ChatPoll,
		debounce: opts.SearchDebounce,
	}
	if e.sink == nil {
		e.sink = toast.Discard
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.chatPoll <= 0 {
		e.chatPoll = DefaultChatPoll
	}
	if e.debounce <= 0 {
		e.debounce = DefaultSearchDebounce
	}
	e.Likes = mutation.New[model.LikeState](mutation.Options{
		Name:  "like",
		Cache: e.cache,
		Sink:  e.sink,
		Clock: e.clock,
	})
	e.Requests = mutation.New[RequestStatus](mutation.Options{
		Name:  "friend_request",
		Cache: e.cache,
		Sink:  e.sink,
		Clock: e.clock,
	})
	return e
}

func (e *Env) Cache() *cache.Cache {
	return e.cache
}

func (e *Env) Store() state.Storage {
	return e.store
}

func (e *Env) Sink() toast.Sink {
	return e.sink
}

// Me is the logged-in user, or nil.
func (e *Env) Me() *model.User {
	return e.me.User()
}

// Wait blocks until no optimistic request is in flight.
func (e *Env) Wait(ctx context.Context) error {
	if err := e.Likes.Wait(ctx); err != nil {
		return err
	}
	return e.Requests.Wait(ctx)
}

// Reset forgets optimistic state.  Called at logout, after the cache is
// cleared.
func (e *Env) Reset() {
	e.Likes.Forget()
	e.Requests.Forget()
}

// Lifetime is a view's mount state.  Async work notes the generation it
// started in and applies its result only if that generation is still
// current.
type Lifetime struct {
	gen  atomic.Uint64
	live atomic.Bool
}

// Mount (re)starts the view's lifetime and returns the new generation.
func (m *Lifetime) Mount() uint64 {
	m.live.Store(true)
	return m.gen.Add(1)
}

func (m *Lifetime) Unmount() {
	m.live.Store(false)
	m.gen.Add(1)
}

func (m *Lifetime) Generation() uint64 {
	return m.gen.Load()
}

func (m *Lifetime) Mounted() bool {
	return m.live.Load()
}

// Current reports whether work started in gen may still be applied.
func (m *Lifetime) Current(gen uint64) bool {
	if m.live.Load() && m.gen.Load() == gen {
		return true
	}
	droppedResults.Add(1)
	return false
}

// notifier tells listeners a view changed.  Listeners run on whatever
// goroutine made the change and must not block.
type notifier struct {
	listenLock sync.Mutex
	listeners  []func()
}

func (n *notifier) OnChange(f func()) {
	n.listenLock.Lock()
	defer n.listenLock.Unlock()
	n.listeners = append(n.listeners, f)
}

func (n *notifier) changed() {
	n.listenLock.Lock()
	listeners := append([]func(){}, n.listeners...)
	n.listenLock.Unlock()
	for _, f := range listeners {
		f()
	}
}

// readList reads a list through the cache.  A failed refetch with a last
// good value returns that value along with the error.
func readList[T any](ctx context.Context, c *cache.Cache, key cache.Key) ([]T, cache.Snapshot, error) {
	snap := c.Read(ctx, key)
	v, _ := cache.As[[]T](snap)
	return v, snap, snap.Err
}

func readOne[T any](ctx context.Context, c *cache.Cache, key cache.Key) (T, cache.Snapshot, error) {
	snap := c.Read(ctx, key)
	v, _ := cache.As[T](snap)
	return v, snap, snap.Err
}
