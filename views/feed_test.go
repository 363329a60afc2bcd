package views

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/state"
)

func contents(posts []*model.Post) []string {
	out := []string{}
	for _, p := range posts {
		out = append(out, p.Content)
	}
	return out
}

func TestFeedPagesAppend(t *testing.T) {
	f := newFixture(t, nil)
	f.api.PageSize = 2
	for i := 1; i <= 5; i++ {
		f.api.AddPost("bob", fmt.Sprintf("post %d", i))
	}
	ctx := context.Background()
	feed := f.env.NewFeed()

	require.NoError(t, feed.Load(ctx))
	assert.Equal(t, []string{"post 5", "post 4"}, contents(feed.Posts()))
	assert.True(t, feed.HasMore())

	more, err := feed.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, []string{"post 5", "post 4", "post 3", "post 2"}, contents(feed.Posts()))

	more, err = feed.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, 3, feed.Pages())
	assert.False(t, feed.HasMore())

	more, err = feed.LoadMore(ctx)
	require.NoError(t, err)
	assert.False(t, more, "no next page, nothing read")
	assert.Equal(t, 3, f.api.Calls("GET", "posts/"))
	assert.Len(t, feed.Posts(), 5)
}

func TestFeedShowsShiftedPostOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.api.PageSize = 2
	for i := 1; i <= 4; i++ {
		f.api.AddPost("bob", fmt.Sprintf("post %d", i))
	}
	ctx := context.Background()
	feed := f.env.NewFeed()
	require.NoError(t, feed.Load(ctx))

	// A new post pushes "post 3" onto page 2.
	f.api.AddPost("carol", "post 5")
	_, err := feed.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"post 4", "post 3", "post 2"}, contents(feed.Posts()))

	require.NoError(t, feed.Refresh(ctx))
	assert.Equal(t, 1, feed.Pages())
	assert.Equal(t, []string{"post 5", "post 4"}, contents(feed.Posts()))
}

func likers(t *testing.T, f *fixture, n int) []string {
	t.Helper()
	var names []string
	for i := 0; i < n; i++ {
		name := "fan" + strconv.Itoa(i)
		f.api.AddUser(name, "pw")
		names = append(names, name)
	}
	return names
}

func TestFeedLikeRollsBackOnFailure(t *testing.T) {
	f := newFixture(t, nil)
	p := f.api.AddPost("bob", "hello", likers(t, f, 10)...)
	ctx := context.Background()
	feed := f.env.NewFeed()
	require.NoError(t, feed.Load(ctx))

	got, ok := feed.Post(p.ID)
	require.True(t, ok)
	assert.Equal(t, model.LikeState{Count: 10}, got.Like())

	f.api.Fail("POST", "posts/"+strconv.FormatInt(p.ID, 10)+"/like/", 1, 500, `{"detail": "boom"}`)
	ticket, err := f.env.ToggleLike(ctx, got)
	require.NoError(t, err)

	got, _ = feed.Post(p.ID)
	assert.Equal(t, model.LikeState{Liked: true, Count: 11}, got.Like(), "shown before the server answers")

	_, err = ticket.Wait(soon(t))
	require.Error(t, err)
	got, _ = feed.Post(p.ID)
	assert.Equal(t, model.LikeState{Count: 10}, got.Like())
	assert.Equal(t, []string{"boom"}, f.messages())
	assert.Equal(t, 10, f.api.LikesCount(p.ID))

	ticket, err = f.env.ToggleLike(ctx, got)
	require.NoError(t, err)
	_, err = ticket.Wait(soon(t))
	require.NoError(t, err)
	got, _ = feed.Post(p.ID)
	assert.Equal(t, model.LikeState{Liked: true, Count: 11}, got.Like())
	assert.Equal(t, 11, f.api.LikesCount(p.ID))
}

func TestFeedStalePageDoesNotUndoLike(t *testing.T) {
	f := newFixture(t, nil)
	p := f.api.AddPost("bob", "hello")
	ctx := context.Background()
	feed := f.env.NewFeed()
	require.NoError(t, feed.Load(ctx))

	ticket, err := f.env.ToggleLikeID(ctx, p.ID)
	require.NoError(t, err)
	_, err = ticket.Wait(soon(t))
	require.NoError(t, err)

	// The page still says unliked; it was read before the like.
	got, _ := feed.Post(p.ID)
	assert.Equal(t, model.LikeState{Liked: true, Count: 1}, got.Like())
}

func TestUnmountedFeedDropsLateResult(t *testing.T) {
	f := newFixture(t, nil)
	f.api.AddPost("bob", "hello")
	feed := f.env.NewFeed()

	gate := f.api.Hold("GET", "posts/")
	errc := make(chan error, 1)
	go func() {
		errc <- feed.Load(context.Background())
	}()
	<-gate.Arrived()
	feed.Unmount()
	gate.Release()

	assert.ErrorIs(t, <-errc, ErrUnmounted)
	assert.Empty(t, feed.Posts())
	assert.Equal(t, 0, feed.Pages())
}

func TestFeedKeepsPagesWhenRefetchFails(t *testing.T) {
	f := newFixture(t, nil)
	f.api.AddPost("bob", "hello")
	ctx := context.Background()
	feed := f.env.NewFeed()
	require.NoError(t, feed.Load(ctx))

	f.api.Fail("GET", "posts/", 1, 503, `{"detail": "down"}`)
	assert.Error(t, feed.Refresh(ctx))
	assert.Equal(t, []string{"hello"}, contents(feed.Posts()))
	assert.Error(t, feed.Err())
}

func TestDraft(t *testing.T) {
	upload := func(name string) *state.Upload {
		return &state.Upload{Name: name, Reader: strings.NewReader("x")}
	}
	tests := []struct {
		name    string
		draft   Draft
		wantErr string
		image   bool
		video   bool
	}{
		{name: "empty", draft: Draft{Content: "  "}, wantErr: NothingToPost},
		{name: "text", draft: Draft{Content: "hi"}},
		{name: "image", draft: Draft{File: upload("cat.png")}, image: true},
		{name: "video", draft: Draft{Content: "look", File: upload("cat.mp4")}, video: true},
		{name: "other", draft: Draft{File: upload("notes.txt")}, wantErr: UnsupportedFile},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			np, err := tc.draft.NewPost()
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.VisibilityPublic, np.Visibility)
			assert.Equal(t, tc.image, np.Image != nil)
			assert.Equal(t, tc.video, np.Video != nil)
		})
	}
}

func TestFeedCreate(t *testing.T) {
	f := newFixture(t, nil)
	f.api.AddPost("bob", "old")
	ctx := context.Background()
	feed := f.env.NewFeed()
	require.NoError(t, feed.Load(ctx))

	_, err := feed.Create(ctx, Draft{})
	require.Error(t, err)
	assert.Equal(t, []string{NothingToPost}, f.messages())

	p, err := feed.Create(ctx, Draft{Content: "new"})
	require.NoError(t, err)
	assert.Equal(t, "new", p.Content)
	assert.Equal(t, []string{"new", "old"}, contents(feed.Posts()))

	f.api.Fail("POST", "posts/", 1, 500, "")
	_, err = feed.Create(ctx, Draft{Content: "again"})
	require.Error(t, err)
	assert.Equal(t, []string{PostFailed}, f.messages())
}
