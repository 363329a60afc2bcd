package views

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/he"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/mutation"
	"github.com/ts4z/hearth/state"
	"github.com/ts4z/hearth/storecache"
	"github.com/ts4z/hearth/toast"
)

const updateFailed = "Failed to update profile"

// Relationship is how the viewer stands with a profile's owner.
type Relationship int

const (
	RelNone Relationship = iota
	RelMe
	RelFriend
	RelIncoming // they asked the viewer
	RelSent     // the viewer asked them
)

func (r Relationship) String() string {
	switch r {
	case RelMe:
		return "me"
	case RelFriend:
		return "friend"
	case RelIncoming:
		return "incoming request"
	case RelSent:
		return "request sent"
	}
	return "none"
}

// Profile is one user's page: the profile, their public posts, and enough
// of the viewer's requests to say how the two are connected.
type Profile struct {
	Lifetime
	notifier

	env      *Env
	username string

	lock     sync.Mutex
	profile  *model.Profile
	posts    []*model.Post
	incoming []*model.FriendRequest
	sent     []*model.FriendRequest
	err      error
}

func (e *Env) NewProfile(username string) *Profile {
	p := &Profile{env: e, username: username}
	p.Mount()
	return p
}

func (p *Profile) Username() string {
	return p.username
}

// Load reads the profile, the posts and the viewer's requests at once.
func (p *Profile) Load(ctx context.Context) error {
	gen := p.Generation()
	var (
		profile        *model.Profile
		posts          []*model.Post
		incoming, sent []*model.FriendRequest
		ps, pp, in, se cache.Snapshot
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		profile, ps, err = readOne[*model.Profile](ctx, p.env.cache, storecache.Profile(p.username))
		return err
	})
	g.Go(func() error {
		var err error
		posts, pp, err = readList[*model.Post](ctx, p.env.cache, storecache.ProfilePosts(p.username))
		return err
	})
	g.Go(func() error {
		var err error
		incoming, in, err = readList[*model.FriendRequest](ctx, p.env.cache, storecache.Incoming())
		return err
	})
	g.Go(func() error {
		var err error
		sent, se, err = readList[*model.FriendRequest](ctx, p.env.cache, storecache.Sent())
		return err
	})
	err := g.Wait()
	if !p.Current(gen) {
		return ErrUnmounted
	}
	if pp.Has() {
		p.env.seedLikes(posts, pp.FetchedAt)
	}
	p.lock.Lock()
	if ps.Has() {
		p.profile = profile
	}
	if pp.Has() {
		p.posts = posts
	}
	if in.Has() {
		p.incoming = incoming
	}
	if se.Has() {
		p.sent = sent
	}
	p.err = err
	missing := p.profile == nil
	p.lock.Unlock()
	p.changed()
	if missing {
		return err
	}
	return nil
}

func (p *Profile) Profile() *model.Profile {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.profile.Clone()
}

// Posts is the owner's posts with current like state.
func (p *Profile) Posts() []*model.Post {
	p.lock.Lock()
	posts := p.posts
	p.lock.Unlock()
	return p.env.withLikes(posts)
}

func (p *Profile) Err() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.err
}

// IncomingRequest is the owner's pending request to the viewer, if any.
func (p *Profile) IncomingRequest() (*model.FriendRequest, bool) {
	p.lock.Lock()
	reqs := p.incoming
	p.lock.Unlock()
	for _, fr := range p.env.pendingRequests(reqs) {
		if fr.FromUser != nil && fr.FromUser.Username == p.username {
			return fr, true
		}
	}
	return nil, false
}

func (p *Profile) Relationship() Relationship {
	me := p.env.Me()
	if me == nil {
		return RelNone
	}
	if me.Username == p.username {
		return RelMe
	}
	p.lock.Lock()
	profile := p.profile
	sent := p.sent
	p.lock.Unlock()

	if profile != nil {
		if profile.HasFriend(me.ID) {
			return RelFriend
		}
		if profile.User != nil && me.HasFriend(profile.User.ID) {
			return RelFriend
		}
	}
	if _, ok := p.IncomingRequest(); ok {
		return RelIncoming
	}
	for _, fr := range sent {
		if fr.ToUser != nil && fr.ToUser.Username == p.username {
			return RelSent
		}
	}
	return RelNone
}

func (p *Profile) SendRequest(ctx context.Context) error {
	return p.env.SendRequest(ctx, p.username, ProfileRequestSent)
}

var errNoRequest = he.HTTPCodedErrorf(http.StatusNotFound, "No friend request from this user.")

func (p *Profile) Accept(ctx context.Context) (*mutation.Ticket[RequestStatus], error) {
	fr, ok := p.IncomingRequest()
	if !ok {
		return nil, errNoRequest
	}
	t, err := p.env.AcceptRequest(ctx, fr)
	p.changed()
	return t, err
}

func (p *Profile) Reject(ctx context.Context) (*mutation.Ticket[RequestStatus], error) {
	fr, ok := p.IncomingRequest()
	if !ok {
		return nil, errNoRequest
	}
	t, err := p.env.RejectRequest(ctx, fr)
	p.changed()
	return t, err
}

// ErrNotMine is returned for an edit of someone else's profile.
var ErrNotMine = errors.New("views: not your profile")

// Update edits the viewer's own profile, then reloads it and the session's
// idea of who the viewer is.
func (p *Profile) Update(ctx context.Context, pu *state.ProfileUpdate) error {
	if p.Relationship() != RelMe {
		return ErrNotMine
	}
	if _, err := p.env.store.UpdateProfile(ctx, p.username, pu); err != nil {
		toast.Failed(p.env.sink, err, updateFailed)
		return err
	}
	p.env.cache.Invalidate(storecache.Profile(p.username), storecache.Me())
	if _, err := p.env.me.RefreshUser(ctx); err != nil {
		return err
	}
	p.env.cache.Get(ctx, storecache.Profile(p.username))
	return p.Load(ctx)
}
