package gossip

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mu       sync.Mutex
	versions map[string]int64
}

func (f *fakeSource) Current(ctx context.Context, key string) (any, int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.versions[key]
	return key, v, ok
}

func chans() (chan error, chan Update) {
	return make(chan error, 1), make(chan Update, 1)
}

func TestListenNewerVersionReturnsImmediately(t *testing.T) {
	g := New(&fakeSource{versions: map[string]int64{"posts?page=1": 3}})
	errCh, valueCh := chans()
	g.ListenVersion(context.Background(), "posts?page=1", 2, errCh, valueCh)

	select {
	case u := <-valueCh:
		assert.Equal(t, int64(3), u.Version)
	default:
		t.Fatal("expected immediate update")
	}
	assert.Equal(t, 0, g.Listening("posts?page=1"))
}

func TestListenParksUntilUpdated(t *testing.T) {
	g := New(&fakeSource{versions: map[string]int64{"k": 1}})
	errCh, valueCh := chans()
	g.ListenVersion(context.Background(), "k", 1, errCh, valueCh)
	assert.Equal(t, 1, g.Listening("k"))

	g.NotifyUpdated("k", 2, "new")
	u := <-valueCh
	assert.Equal(t, Update{Key: "k", Version: 2, Value: "new"}, u)
	assert.Equal(t, 0, g.Listening("k"))

	// A second notify doesn't write again.
	g.NotifyUpdated("k", 3, "newer")
	assert.Len(t, valueCh, 0)
	assert.Len(t, errCh, 0)
}

func TestListenUnknownKeyParks(t *testing.T) {
	g := New(&fakeSource{versions: map[string]int64{}})
	errCh, valueCh := chans()
	g.ListenVersion(context.Background(), "k", 0, errCh, valueCh)
	assert.Equal(t, 1, g.Listening("k"))
	g.NotifyUpdated("k", 1, nil)
	<-valueCh
}

func TestNotifyDeleted(t *testing.T) {
	g := New(nil)
	errCh, valueCh := chans()
	g.ListenVersion(context.Background(), "k", 0, errCh, valueCh)
	g.NotifyDeleted("k")
	err := <-errCh
	assert.True(t, errors.Is(err, ErrDeleted))
}

func TestContextEndsListen(t *testing.T) {
	g := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh, valueCh := chans()
	g.ListenVersion(ctx, "k", 0, errCh, valueCh)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("listener never released")
	}
	assert.Equal(t, 0, g.Listening("k"))

	// Nothing more arrives after release.
	g.NotifyUpdated("k", 1, nil)
	assert.Len(t, valueCh, 0)
}

func TestAlreadyCancelled(t *testing.T) {
	g := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	errCh, valueCh := chans()
	g.ListenVersion(ctx, "k", 0, errCh, valueCh)
	require.Len(t, errCh, 1)
	assert.Equal(t, 0, g.Listening("k"))
}

func TestManyListenersEachHearOnce(t *testing.T) {
	g := New(nil)
	var all []chan Update
	for i := 0; i < 5; i++ {
		errCh, valueCh := chans()
		g.ListenVersion(context.Background(), "k", 0, errCh, valueCh)
		all = append(all, valueCh)
	}
	g.NotifyUpdated("k", 1, "v")
	for _, ch := range all {
		u := <-ch
		assert.Equal(t, "v", u.Value)
	}
}
