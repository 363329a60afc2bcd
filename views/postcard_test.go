package views

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/state"
)

func comments(cs []*model.Comment) []string {
	out := []string{}
	for _, c := range cs {
		out = append(out, c.Content)
	}
	return out
}

func TestPostCardComments(t *testing.T) {
	f := newFixture(t, nil)
	p := f.api.AddPost("bob", "hello")
	ctx := context.Background()
	card := f.env.NewPostCard(p)
	assert.False(t, card.Mine())

	_, err := card.AddComment(ctx, "  ")
	assert.ErrorIs(t, err, ErrBlank)

	first, err := card.AddComment(ctx, "first")
	require.NoError(t, err)
	_, err = card.AddComment(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, comments(card.Comments()))

	require.NoError(t, card.EditComment(ctx, first.ID, "first!"))
	assert.Equal(t, []string{"first!", "second"}, comments(card.Comments()))

	require.NoError(t, card.DeleteComment(ctx, first.ID))
	assert.Equal(t, []string{"second"}, comments(card.Comments()))

	fresh, err := f.env.Store().FetchPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, comments(fresh.Comments))
}

func TestPostCardOwnerActions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p, err := f.env.CreatePost(ctx, Draft{Content: "mine"})
	require.NoError(t, err)
	card := f.env.NewPostCard(p)
	assert.True(t, card.Mine())

	require.NoError(t, card.Edit(ctx, "mine, edited"))
	assert.Equal(t, "mine, edited", card.Post().Content)

	require.NoError(t, card.Delete(ctx))
	assert.True(t, card.Deleted())

	feed := f.env.NewFeed()
	require.NoError(t, feed.Load(ctx))
	assert.Empty(t, feed.Posts())
}

func TestPostCardEditRefused(t *testing.T) {
	f := newFixture(t, nil)
	p := f.api.AddPost("bob", "not yours")
	card := f.env.NewPostCard(p)

	err := card.Edit(context.Background(), "mine now")
	require.Error(t, err)
	assert.Equal(t, "not yours", card.Post().Content)
	assert.Equal(t, []string{"You do not have permission to perform this action."}, f.messages())
}

func TestPostCardShare(t *testing.T) {
	f := newFixture(t, nil)
	p := f.api.AddPost("bob", "worth sharing")
	ctx := context.Background()
	card := f.env.NewPostCard(p)

	shared, err := card.Share(ctx, "look")
	require.NoError(t, err)
	require.NotNil(t, shared.SharedPost)
	assert.Equal(t, p.ID, shared.SharedPost.ID)
	assert.Equal(t, []string{PostShared}, f.messages())

	ada := f.env.NewProfile("ada")
	require.NoError(t, ada.Load(ctx))
	assert.Equal(t, []string{"look"}, contents(ada.Posts()))
}

func TestPostCardLike(t *testing.T) {
	f := newFixture(t, nil)
	p := f.api.AddPost("bob", "hello", "carol")
	card := f.env.NewPostCard(p)
	changed := make(chan struct{}, 4)
	card.OnChange(func() { changed <- struct{}{} })

	ticket, err := card.ToggleLike(context.Background())
	require.NoError(t, err)
	<-changed
	assert.Equal(t, model.LikeState{Liked: true, Count: 2}, card.Post().Like())
	_, err = ticket.Wait(soon(t))
	require.NoError(t, err)
	assert.Equal(t, 2, f.api.LikesCount(p.ID))
}

func TestStories(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now()
	f.api.AddStory("bob", "/media/a.jpg", now.Add(-time.Hour))
	f.api.AddStory("carol", "/media/b.jpg", now.Add(-2*time.Hour))
	f.api.AddStory("bob", "/media/c.jpg", now.Add(-3*time.Hour))
	ctx := context.Background()
	stories := f.env.NewStories()
	require.NoError(t, stories.Load(ctx))

	groups := stories.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, "bob", groups[0].User.Username)
	assert.Len(t, groups[0].Stories, 2)
	assert.Equal(t, "carol", groups[1].User.Username)

	bob, ok := stories.Group("bob")
	require.True(t, ok)
	assert.Len(t, bob.Stories, 2)
	_, ok = stories.Group("dave")
	assert.False(t, ok)

	_, err := stories.Create(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, []string{NoStoryFile}, f.messages())

	_, err = stories.Create(ctx, &state.Upload{Name: "me.jpg", Reader: strings.NewReader("jpeg")})
	require.NoError(t, err)
	groups = stories.Groups()
	require.Len(t, groups, 3)
	assert.Equal(t, "ada", groups[0].User.Username)
}
