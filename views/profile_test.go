package views

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/state"
	"github.com/ts4z/hearth/storecache"
)

func TestProfileRelationship(t *testing.T) {
	f := newFixture(t, nil)
	f.api.AddPost("bob", "bob's post")
	ctx := context.Background()

	bob := f.env.NewProfile("bob")
	require.NoError(t, bob.Load(ctx))
	assert.Equal(t, "bob", bob.Profile().User.Username)
	assert.Equal(t, []string{"bob's post"}, contents(bob.Posts()))
	assert.Equal(t, RelNone, bob.Relationship())

	_, err := bob.Accept(ctx)
	assert.ErrorIs(t, err, errNoRequest)

	f.api.AddFriendRequest("bob", "ada")
	f.env.Cache().InvalidateKind(storecache.KindIncoming)
	assert.Eventually(t, func() bool {
		return bob.Load(ctx) == nil && bob.Relationship() == RelIncoming
	}, 5*time.Second, 10*time.Millisecond)

	ticket, err := bob.Accept(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, RelIncoming, bob.Relationship(), "answered at once")
	_, err = ticket.Wait(soon(t))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return bob.Load(ctx) == nil && bob.Relationship() == RelFriend
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, RelMe, f.env.NewProfile("ada").Relationship())
}

func TestProfileSentRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	carol := f.env.NewProfile("carol")
	require.NoError(t, carol.Load(ctx))

	require.NoError(t, carol.SendRequest(ctx))
	assert.Equal(t, []string{ProfileRequestSent}, f.messages())
	assert.Eventually(t, func() bool {
		return carol.Load(ctx) == nil && carol.Relationship() == RelSent
	}, 5*time.Second, 10*time.Millisecond)
}

func TestProfileUpdate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bio := "likes ducks"

	bob := f.env.NewProfile("bob")
	require.NoError(t, bob.Load(ctx))
	assert.ErrorIs(t, bob.Update(ctx, &state.ProfileUpdate{ProfileUpdate: model.ProfileUpdate{Bio: &bio}}), ErrNotMine)

	ada := f.env.NewProfile("ada")
	require.NoError(t, ada.Load(ctx))
	require.NoError(t, ada.Update(ctx, &state.ProfileUpdate{ProfileUpdate: model.ProfileUpdate{Bio: &bio}}))
	assert.Equal(t, bio, ada.Profile().Bio)
	require.NotNil(t, f.me.User().Profile)
	assert.Equal(t, bio, f.me.User().Profile.Bio)
}

func TestUnmountedProfileIgnoresLoad(t *testing.T) {
	f := newFixture(t, nil)
	bob := f.env.NewProfile("bob")
	gate := f.api.Hold("GET", "profiles/bob/")
	errc := make(chan error, 1)
	go func() {
		errc <- bob.Load(context.Background())
	}()
	<-gate.Arrived()
	bob.Unmount()
	gate.Release()
	assert.ErrorIs(t, <-errc, ErrUnmounted)
	assert.Nil(t, bob.Profile())
}

func TestSearchDebounces(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := newFixture(t, fc)
	s := f.env.NewSearch()
	defer s.Close()

	changed := make(chan struct{}, 8)
	s.OnChange(func() { changed <- struct{}{} })

	s.SetQuery("c")
	s.SetQuery("ca")
	s.SetQuery("car")
	require.NoError(t, fc.BlockUntilContext(soon(t), 1))
	fc.Advance(DefaultSearchDebounce - time.Millisecond)
	assert.Equal(t, 0, f.api.Calls("GET", "users/"), "still typing")

	fc.Advance(time.Millisecond)
	select {
	case <-changed:
	case <-soon(t).Done():
		t.Fatal("no results")
	}
	assert.Equal(t, []string{"carol"}, usernames(s.Results()))
	assert.Equal(t, 1, f.api.Calls("GET", "users/"))

	s.SetQuery("   ")
	assert.Empty(t, s.Results(), "cleared without a request")
	assert.Equal(t, 1, f.api.Calls("GET", "users/"))
}
