package views

import (
	"context"
	"strings"
	"sync"

	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/mutation"
	"github.com/ts4z/hearth/storecache"
	"github.com/ts4z/hearth/toast"
)

const (
	PostShared = "Post shared to your profile!"

	editFailed          = "Failed to update post"
	deleteFailed        = "Failed to delete post"
	shareFailed         = "Failed to share post"
	commentFailed       = "Failed to add comment"
	commentEditFailed   = "Failed to update comment"
	commentDeleteFailed = "Failed to delete comment"
)

// PostCard is one post with its comments, as drawn in the feed or on a
// profile.  Comment changes are applied to the card from the server's
// answer; the lists the post appears in are invalidated when the post
// itself changes.
type PostCard struct {
	Lifetime
	notifier

	env *Env

	lock    sync.Mutex
	post    *model.Post
	deleted bool
}

func (e *Env) NewPostCard(p *model.Post) *PostCard {
	pc := &PostCard{env: e, post: p.Clone()}
	pc.Mount()
	return pc
}

// Post is the card's post with the current like state.
func (pc *PostCard) Post() *model.Post {
	pc.lock.Lock()
	defer pc.lock.Unlock()
	return pc.env.withLike(pc.post)
}

func (pc *PostCard) Comments() []*model.Comment {
	return pc.Post().Comments
}

// Deleted is true once the post is gone.
func (pc *PostCard) Deleted() bool {
	pc.lock.Lock()
	defer pc.lock.Unlock()
	return pc.deleted
}

// Mine reports whether the viewer wrote the post, and so may edit or
// delete it.
func (pc *PostCard) Mine() bool {
	pc.lock.Lock()
	defer pc.lock.Unlock()
	return pc.post.IsOwnedBy(pc.env.Me())
}

func (pc *PostCard) snapshot() *model.Post {
	pc.lock.Lock()
	defer pc.lock.Unlock()
	return pc.post.Clone()
}

func (pc *PostCard) author() string {
	pc.lock.Lock()
	defer pc.lock.Unlock()
	if pc.post.User == nil {
		return ""
	}
	return pc.post.User.Username
}

// update applies f to the card's post if the card is still mounted under
// gen.
func (pc *PostCard) update(gen uint64, f func(p *model.Post)) error {
	if !pc.Current(gen) {
		return ErrUnmounted
	}
	pc.lock.Lock()
	f(pc.post)
	pc.lock.Unlock()
	pc.changed()
	return nil
}

// invalidateLists marks stale every list the post shows up in.
func (pc *PostCard) invalidateLists(id int64) {
	pc.env.cache.Invalidate(storecache.PostDependents(id, pc.author())...)
	pc.env.cache.InvalidateKind(storecache.KindPosts, storecache.KindProfilePosts)
}

func (pc *PostCard) ToggleLike(ctx context.Context) (*mutation.Ticket[model.LikeState], error) {
	t, err := pc.env.ToggleLike(ctx, pc.snapshot())
	if err == nil {
		pc.changed()
	}
	return t, err
}

func (pc *PostCard) Edit(ctx context.Context, content string) error {
	gen := pc.Generation()
	id := pc.snapshot().ID
	edited, err := pc.env.store.EditPost(ctx, id, content)
	if err != nil {
		toast.Failed(pc.env.sink, err, editFailed)
		return err
	}
	pc.invalidateLists(id)
	return pc.update(gen, func(p *model.Post) {
		p.Content = edited.Content
	})
}

func (pc *PostCard) Delete(ctx context.Context) error {
	gen := pc.Generation()
	id := pc.snapshot().ID
	if err := pc.env.store.DeletePost(ctx, id); err != nil {
		toast.Failed(pc.env.sink, err, deleteFailed)
		return err
	}
	pc.env.cache.Remove(storecache.Post(id))
	pc.invalidateLists(id)
	pc.env.Likes.Forget(postID(id))
	return pc.update(gen, func(*model.Post) {
		pc.deleted = true
	})
}

// Share reposts the post to the viewer's profile with content as the
// caption.
func (pc *PostCard) Share(ctx context.Context, content string) (*model.Post, error) {
	id := pc.snapshot().ID
	shared, err := pc.env.store.SharePost(ctx, id, content)
	if err != nil {
		toast.Failed(pc.env.sink, err, shareFailed)
		return nil, err
	}
	pc.env.cache.InvalidateKind(storecache.KindPosts, storecache.KindProfilePosts)
	toast.Say(pc.env.sink, toast.Success, PostShared)
	return shared, nil
}

func (pc *PostCard) AddComment(ctx context.Context, content string) (*model.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrBlank
	}
	gen := pc.Generation()
	id := pc.snapshot().ID
	c, err := pc.env.store.AddComment(ctx, id, content)
	if err != nil {
		toast.Failed(pc.env.sink, err, commentFailed)
		return nil, err
	}
	pc.env.cache.Invalidate(storecache.Post(id))
	return c, pc.update(gen, func(p *model.Post) {
		p.Comments = append(p.Comments, c.Clone())
	})
}

func (pc *PostCard) EditComment(ctx context.Context, commentID int64, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrBlank
	}
	gen := pc.Generation()
	id := pc.snapshot().ID
	edited, err := pc.env.store.EditComment(ctx, commentID, content)
	if err != nil {
		toast.Failed(pc.env.sink, err, commentEditFailed)
		return err
	}
	pc.env.cache.Invalidate(storecache.Post(id))
	return pc.update(gen, func(p *model.Post) {
		for i, c := range p.Comments {
			if c.ID == commentID {
				p.Comments[i] = edited.Clone()
			}
		}
	})
}

func (pc *PostCard) DeleteComment(ctx context.Context, commentID int64) error {
	gen := pc.Generation()
	id := pc.snapshot().ID
	if err := pc.env.store.DeleteComment(ctx, commentID); err != nil {
		toast.Failed(pc.env.sink, err, commentDeleteFailed)
		return err
	}
	pc.env.cache.Invalidate(storecache.Post(id))
	return pc.update(gen, func(p *model.Post) {
		kept := p.Comments[:0]
		for _, c := range p.Comments {
			if c.ID != commentID {
				kept = append(kept, c)
			}
		}
		p.Comments = kept
	})
}
