package views

import (
	"context"
	"strconv"
	"time"

	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/mutation"
	"github.com/ts4z/hearth/storecache"
)

const likeFailed = "Couldn't update like"

func postID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// seedLikes records the like state of posts read from the server at at.
func (e *Env) seedLikes(posts []*model.Post, at time.Time) {
	for _, p := range posts {
		e.Likes.SeedAt(postID(p.ID), p.Like(), at)
	}
}

// withLikes returns clones of posts with the current like state laid over
// what the server last said.
func (e *Env) withLikes(posts []*model.Post) []*model.Post {
	out := make([]*model.Post, 0, len(posts))
	for _, p := range posts {
		out = append(out, e.withLike(p))
	}
	return out
}

func (e *Env) withLike(p *model.Post) *model.Post {
	cpy := p.Clone()
	ls := e.Likes.ValueOr(postID(p.ID), p.Like())
	cpy.IsLiked, cpy.LikesCount = ls.Liked, ls.Count
	return cpy
}

// ToggleLike flips the like on p.  The heart and count change at once; if
// the server refuses, they change back and a toast says so.
func (e *Env) ToggleLike(ctx context.Context, p *model.Post) (*mutation.Ticket[model.LikeState], error) {
	id := postID(p.ID)
	if _, ok := e.Likes.Value(id); !ok {
		e.Likes.Seed(id, p.Like())
	}
	author := ""
	if p.User != nil {
		author = p.User.Username
	}
	pid := p.ID
	return e.Likes.Mutate(ctx, mutation.Intent[model.LikeState]{
		ID:      id,
		Predict: model.LikeState.Toggled,
		Send: func(ctx context.Context, _ model.LikeState) (model.LikeState, error) {
			res, err := e.store.ToggleLike(ctx, pid)
			if err != nil {
				return model.LikeState{}, err
			}
			return res.State(), nil
		},
		Invalidate: storecache.PostDependents(pid, author),
		Failure:    likeFailed,
	})
}

// ToggleLikeID is ToggleLike for a post known only by id.  The post is read
// through the cache for its author and like state.
func (e *Env) ToggleLikeID(ctx context.Context, id int64) (*mutation.Ticket[model.LikeState], error) {
	p, err := cache.GetAs[*model.Post](ctx, e.cache, storecache.Post(id))
	if p == nil {
		return nil, err
	}
	return e.ToggleLike(ctx, p)
}
