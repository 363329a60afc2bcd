package views

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/fakes"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/state"
	"github.com/ts4z/hearth/storecache"
	"github.com/ts4z/hearth/toast"
	"github.com/ts4z/hearth/ts"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// viewer is a stand-in for the session.
type viewer struct {
	store state.AuthStorage

	lock sync.Mutex
	user *model.User
}

func (v *viewer) User() *model.User {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.user.Clone()
}

func (v *viewer) RefreshUser(ctx context.Context) (*model.User, error) {
	u, err := v.store.Me(ctx)
	if err != nil {
		return nil, err
	}
	v.lock.Lock()
	v.user = u
	v.lock.Unlock()
	return u.Clone(), nil
}

type fixture struct {
	api    *fakes.API
	env    *Env
	me     *viewer
	clock  clockwork.Clock
	toasts *toast.Queue
}

// newFixture logs ada in against a fake server with bob and carol on it.
// clock is nil for real time.
func newFixture(t *testing.T, clock clockwork.Clock) *fixture {
	t.Helper()
	api := fakes.NewAPI()
	api.Start()
	t.Cleanup(api.Close)
	_, tok := api.AddUser("ada", "pw")
	api.AddUser("bob", "pw")
	api.AddUser("carol", "pw")

	next, err := state.NewAPIStorage(state.Options{BaseURL: api.BaseURL()})
	require.NoError(t, err)
	next.SetToken(tok)
	t.Cleanup(next.Close)

	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := cache.New(cache.Options{Clock: clock})
	t.Cleanup(c.Close)

	me := &viewer{store: next}
	_, err = me.RefreshUser(context.Background())
	require.NoError(t, err)

	toasts := toast.NewQueue(16, ts.NewClock(clock))
	env := NewEnv(Options{
		Store: storecache.New(c, next),
		Me:    me,
		Sink:  toasts,
		Clock: clock,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, env.Wait(ctx))
	})
	return &fixture{api: api, env: env, me: me, clock: clock, toasts: toasts}
}

func (f *fixture) messages() []string {
	var out []string
	for _, t := range f.toasts.Drain() {
		out = append(out, t.Message)
	}
	return out
}

// soon is a context for waiting on something that should happen quickly.
func soon(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLifetime(t *testing.T) {
	var l Lifetime
	assert.False(t, l.Mounted())
	gen := l.Mount()
	assert.True(t, l.Current(gen))
	l.Unmount()
	assert.False(t, l.Current(gen))
	gen2 := l.Mount()
	assert.False(t, l.Current(gen), "work from before a remount is stale")
	assert.True(t, l.Current(gen2))
}
