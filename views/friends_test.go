package views

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ts4z/hearth/model"
)

func usernames(users []*model.User) []string {
	out := []string{}
	for _, u := range users {
		out = append(out, u.Username)
	}
	return out
}

func TestAcceptAndRejectExcludeEachOther(t *testing.T) {
	f := newFixture(t, nil)
	id := f.api.AddFriendRequest("bob", "ada")
	ctx := context.Background()
	friends := f.env.NewFriends()
	require.NoError(t, friends.Load(ctx))
	require.Len(t, friends.Incoming(), 1)

	gate := f.api.Hold("POST", "friends/"+strconv.FormatInt(id, 10)+"/accept/")
	ticket, err := friends.Accept(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, friends.Incoming(), "gone before the server answers")

	_, err = friends.Reject(ctx, id)
	assert.ErrorIs(t, err, ErrAnswered)
	_, err = friends.Accept(ctx, id)
	assert.ErrorIs(t, err, ErrAnswered)

	gate.Release()
	status, err := ticket.Wait(soon(t))
	require.NoError(t, err)
	assert.Equal(t, RequestAccepted, status)
	assert.True(t, f.api.AreFriends("ada", "bob"))
	assert.Equal(t, 0, f.api.PendingRequests())
	assert.Equal(t, 1, f.api.Calls("POST", "friends/"+strconv.FormatInt(id, 10)+"/accept/"))
	assert.Equal(t, 0, f.api.Calls("POST", "friends/"+strconv.FormatInt(id, 10)+"/reject/"))

	// The lists were invalidated; a load shows the old ones while they
	// refetch.
	assert.Eventually(t, func() bool {
		return friends.Load(ctx) == nil && len(friends.Friends()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, friends.Incoming())
	assert.Equal(t, []string{"bob"}, usernames(friends.Friends()))
}

func TestFailedAcceptBringsRequestBack(t *testing.T) {
	f := newFixture(t, nil)
	id := f.api.AddFriendRequest("bob", "ada")
	ctx := context.Background()
	friends := f.env.NewFriends()
	require.NoError(t, friends.Load(ctx))

	f.api.Fail("POST", "friends/"+strconv.FormatInt(id, 10)+"/accept/", 1, 500, "")
	ticket, err := friends.Accept(ctx, id)
	require.NoError(t, err)
	_, err = ticket.Wait(soon(t))
	require.Error(t, err)
	assert.Len(t, friends.Incoming(), 1)
	assert.Equal(t, []string{acceptFailed}, f.messages())

	// Answering is allowed again.
	ticket, err = friends.Reject(ctx, id)
	require.NoError(t, err)
	status, err := ticket.Wait(soon(t))
	require.NoError(t, err)
	assert.Equal(t, RequestRejected, status)
	assert.Empty(t, friends.Incoming())
	assert.False(t, f.api.AreFriends("ada", "bob"))
}

func TestSendRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	friends := f.env.NewFriends()
	require.NoError(t, friends.Load(ctx))
	assert.Empty(t, friends.Sent())

	require.NoError(t, friends.Send(ctx, "carol"))
	assert.Equal(t, []string{RequestSent}, f.messages())

	err := friends.Send(ctx, "carol")
	require.Error(t, err)
	assert.Equal(t, []string{"Request already sent"}, f.messages())

	assert.Eventually(t, func() bool {
		return friends.Load(ctx) == nil && len(friends.Sent()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	sent := friends.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "carol", sent[0].ToUser.Username)
}

func TestFindPeople(t *testing.T) {
	f := newFixture(t, nil)
	f.api.AddUser("Bobby", "pw")
	friends := f.env.NewFriends()
	tests := []struct {
		query string
		want  []string
	}{
		{"bob", []string{"bob", "Bobby"}},
		{"BOB", []string{"bob", "Bobby"}},
		{"car", []string{"carol"}},
		{"ada", []string{}},
		{"", []string{"bob", "carol", "Bobby"}},
	}
	for _, tc := range tests {
		got, err := friends.FindPeople(context.Background(), tc.query)
		require.NoError(t, err)
		assert.Equal(t, tc.want, usernames(got), "query %q", tc.query)
	}
	assert.Equal(t, 1, f.api.Calls("GET", "users/"), "the user list is read once")
}
