package storecache

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/fakes"
	"github.com/ts4z/hearth/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStorage(t *testing.T) (*fakes.API, *Storage) {
	t.Helper()
	api := fakes.NewAPI()
	api.Start()
	t.Cleanup(api.Close)
	_, tok := api.AddUser("ada", "pw")
	api.AddUser("bob", "pw")

	next, err := state.NewAPIStorage(state.Options{BaseURL: api.BaseURL()})
	require.NoError(t, err)
	next.SetToken(tok)

	c := cache.New(cache.Options{})
	t.Cleanup(c.Close)
	return api, New(c, next)
}

func TestKeys(t *testing.T) {
	tests := []struct {
		key  cache.Key
		want string
	}{
		{Posts(2), "posts?page=2"},
		{Post(7), "post?id=7"},
		{Messages("bob"), "messages?with=bob"},
		{Profile("a b"), "profile?user=a+b"},
		{Search("Ad"), "search?q=Ad"},
		{Incoming(), "friend_requests"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.key.String())
	}
	assert.Equal(t, []cache.Key{"post?id=3", "profile_posts?user=ada"}, PostDependents(3, "ada"))
	assert.Equal(t, []cache.Key{"post?id=3"}, PostDependents(3, ""))
}

func TestReadsThroughOnce(t *testing.T) {
	api, s := newTestStorage(t)
	ctx := context.Background()
	p := api.AddPost("ada", "hello")

	for i := 0; i < 3; i++ {
		got, err := s.FetchPost(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Content)
	}
	assert.Equal(t, 1, api.Calls("GET", "posts/"+itoa(p.ID)+"/"))

	s.Cache().Invalidate(Post(p.ID))
	_, err := s.FetchPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, api.Calls("GET", "posts/"+itoa(p.ID)+"/"))
}

func TestWritesPassThrough(t *testing.T) {
	api, s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SendFriendRequest(ctx, "bob"))
	assert.Equal(t, 1, api.PendingRequests())

	sent, err := s.FetchSentRequests(ctx)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "bob", sent[0].ToUser.Username)
}

func TestFailedFetchKeepsLastGood(t *testing.T) {
	api, s := newTestStorage(t)
	ctx := context.Background()
	api.AddPost("ada", "one")

	page, err := s.FetchPostsPage(ctx, 1)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)

	api.Fail("GET", "posts/", 1, 500, `{"detail": "boom"}`)
	s.Cache().Invalidate(Posts(1))
	page, err = s.FetchPostsPage(ctx, 1)
	assert.Error(t, err)
	require.NotNil(t, page)
	assert.Len(t, page.Results, 1)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
