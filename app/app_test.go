package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ts4z/hearth/changefeed"
	"github.com/ts4z/hearth/fakes"
	"github.com/ts4z/hearth/session"
	"github.com/ts4z/hearth/storecache"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newApp(t *testing.T, opts Options) (*App, *fakes.API) {
	t.Helper()
	api := fakes.NewAPI()
	api.Start()
	t.Cleanup(api.Close)
	api.AddUser("ada", "pw")
	opts.APIURL = api.BaseURL()
	a, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, a.Close(ctx))
	})
	return a, api
}

func TestNewNeedsSomewhereToKeepTheSession(t *testing.T) {
	_, err := New(Options{APIURL: "http://localhost:1/api/"})
	assert.Error(t, err)

	_, err = New(Options{APIURL: "ftp://nope/", Jar: &session.MemJar{}})
	assert.Error(t, err)
}

func TestLoginSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		SessionFile: filepath.Join(dir, "session"),
		KeyRingFile: filepath.Join(dir, "keys.yaml"),
	}
	a, api := newApp(t, opts)
	ctx := context.Background()

	assert.ErrorContains(t, a.RequireLogin(ctx), "not logged in")
	_, err := a.Session.Login(ctx, "ada", "pw")
	require.NoError(t, err)

	opts.APIURL = api.BaseURL()
	b, err := New(opts)
	require.NoError(t, err)
	defer b.Close(ctx)
	require.NoError(t, b.RequireLogin(ctx))
	assert.Equal(t, "ada", b.Session.Username())
	assert.Equal(t, "ada", b.Env.Me().Username)
}

func TestLogoutForgetsCache(t *testing.T) {
	a, api := newApp(t, Options{Jar: &session.MemJar{}})
	api.AddPost("ada", "hello")
	ctx := context.Background()
	_, err := a.Session.Login(ctx, "ada", "pw")
	require.NoError(t, err)

	feed := a.Env.NewFeed()
	require.NoError(t, feed.Load(ctx))
	_, ok := a.Cache.Peek(storecache.Posts(1))
	require.True(t, ok)

	a.Session.Logout()
	_, ok = a.Cache.Peek(storecache.Posts(1))
	assert.False(t, ok)
	assert.Nil(t, a.Env.Me())
}

func TestWatchPollsUntilCancelled(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a, api := newApp(t, Options{Jar: &session.MemJar{}, Clock: fc, WatchInterval: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := a.Session.Login(ctx, "ada", "pw")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Watch(ctx) }()

	// One ticker per polled key.
	require.NoError(t, fc.BlockUntilContext(ctx, len(changefeed.DefaultPollKeys())))
	before := api.Calls("GET", "posts/")
	fc.Advance(time.Minute)
	assert.Eventually(t, func() bool {
		return api.Calls("GET", "posts/") > before
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
