package views

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/mutation"
	"github.com/ts4z/hearth/storecache"
	"github.com/ts4z/hearth/toast"
)

const (
	RequestSent        = "Request sent!"
	ProfileRequestSent = "Friend request sent!"

	sendFailed   = "Failed to send"
	acceptFailed = "Couldn't accept friend request"
	rejectFailed = "Couldn't reject friend request"
)

// RequestStatus is where an incoming friend request stands.  The zero value
// is pending.
type RequestStatus int

const (
	RequestPending RequestStatus = iota
	RequestAccepted
	RequestRejected
)

func (rs RequestStatus) String() string {
	switch rs {
	case RequestAccepted:
		return "accepted"
	case RequestRejected:
		return "rejected"
	}
	return "pending"
}

// ErrAnswered is returned when a request that was already accepted or
// rejected (or is being) is answered again.
var ErrAnswered = errors.New("friend request already answered")

func requestID(id int64) string {
	return postID(id)
}

// pendingRequests drops requests the viewer has answered, or is answering.
func (e *Env) pendingRequests(reqs []*model.FriendRequest) []*model.FriendRequest {
	out := []*model.FriendRequest{}
	for _, fr := range reqs {
		if e.Requests.ValueOr(requestID(fr.ID), RequestPending) == RequestPending {
			out = append(out, fr.Clone())
		}
	}
	return out
}

func (e *Env) answer(ctx context.Context, fr *model.FriendRequest, to RequestStatus) (*mutation.Ticket[RequestStatus], error) {
	send := e.store.AcceptFriendRequest
	failure := acceptFailed
	keys := []cache.Key{storecache.Incoming(), storecache.Friends()}
	if to == RequestRejected {
		send = e.store.RejectFriendRequest
		failure = rejectFailed
		keys = []cache.Key{storecache.Incoming()}
	}
	if fr.FromUser != nil {
		keys = append(keys, storecache.Profile(fr.FromUser.Username))
	}
	if me := e.Me(); me != nil {
		keys = append(keys, storecache.Profile(me.Username), storecache.Me())
	}
	id := fr.ID
	return e.Requests.Mutate(ctx, mutation.Intent[RequestStatus]{
		ID: requestID(id),
		Guard: func(cur RequestStatus) error {
			if cur != RequestPending {
				return ErrAnswered
			}
			return nil
		},
		Predict: func(RequestStatus) RequestStatus { return to },
		Send: func(ctx context.Context, _ RequestStatus) (RequestStatus, error) {
			if err := send(ctx, id); err != nil {
				return RequestPending, err
			}
			return to, nil
		},
		Invalidate: keys,
		Failure:    failure,
	})
}

// AcceptRequest accepts fr.  It leaves the pending list at once and comes
// back if the server refuses.  Accept and reject exclude each other: once
// either has been asked for, both refuse until it fails.
func (e *Env) AcceptRequest(ctx context.Context, fr *model.FriendRequest) (*mutation.Ticket[RequestStatus], error) {
	return e.answer(ctx, fr, RequestAccepted)
}

func (e *Env) RejectRequest(ctx context.Context, fr *model.FriendRequest) (*mutation.Ticket[RequestStatus], error) {
	return e.answer(ctx, fr, RequestRejected)
}

// SendRequest asks username to be friends.  success is the toast posted
// when the server agrees.
func (e *Env) SendRequest(ctx context.Context, username, success string) error {
	if err := e.store.SendFriendRequest(ctx, username); err != nil {
		toast.Failed(e.sink, err, sendFailed)
		return err
	}
	e.cache.Invalidate(storecache.Sent(), storecache.Profile(username))
	toast.Say(e.sink, toast.Success, success)
	return nil
}

// Friends is the friends page: requests to answer, requests sent, friends,
// and people to add.
type Friends struct {
	Lifetime
	notifier

	env *Env

	lock     sync.Mutex
	incoming []*model.FriendRequest
	sent     []*model.FriendRequest
	friends  []*model.User
	err      error
}

func (e *Env) NewFriends() *Friends {
	f := &Friends{env: e}
	f.Mount()
	return f
}

// Load reads the three lists at once.  A list that fails keeps what it had.
func (f *Friends) Load(ctx context.Context) error {
	gen := f.Generation()
	var (
		incoming, sent []*model.FriendRequest
		friends        []*model.User
		in, se, fr     cache.Snapshot
	)
	// A failing list doesn't stop the others.
	var g errgroup.Group
	g.Go(func() error {
		var err error
		incoming, in, err = readList[*model.FriendRequest](ctx, f.env.cache, storecache.Incoming())
		return err
	})
	g.Go(func() error {
		var err error
		sent, se, err = readList[*model.FriendRequest](ctx, f.env.cache, storecache.Sent())
		return err
	})
	g.Go(func() error {
		var err error
		friends, fr, err = readList[*model.User](ctx, f.env.cache, storecache.Friends())
		return err
	})
	err := g.Wait()
	if !f.Current(gen) {
		return ErrUnmounted
	}
	f.lock.Lock()
	if in.Has() {
		f.incoming = incoming
	}
	if se.Has() {
		f.sent = sent
	}
	if fr.Has() {
		f.friends = friends
	}
	f.err = err
	f.lock.Unlock()
	f.changed()
	return err
}

// Incoming is the requests still waiting on the viewer.
func (f *Friends) Incoming() []*model.FriendRequest {
	f.lock.Lock()
	reqs := f.incoming
	f.lock.Unlock()
	return f.env.pendingRequests(reqs)
}

func (f *Friends) Sent() []*model.FriendRequest {
	f.lock.Lock()
	defer f.lock.Unlock()
	out := make([]*model.FriendRequest, 0, len(f.sent))
	for _, fr := range f.sent {
		out = append(out, fr.Clone())
	}
	return out
}

func (f *Friends) Friends() []*model.User {
	f.lock.Lock()
	defer f.lock.Unlock()
	return cloneUsers(f.friends)
}

func (f *Friends) Err() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.err
}

func (f *Friends) request(id int64) (*model.FriendRequest, bool) {
	f.lock.Lock()
	defer f.lock.Unlock()
	for _, fr := range f.incoming {
		if fr.ID == id {
			return fr, true
		}
	}
	return nil, false
}

func (f *Friends) Accept(ctx context.Context, id int64) (*mutation.Ticket[RequestStatus], error) {
	fr, ok := f.request(id)
	if !ok {
		fr = &model.FriendRequest{ID: id}
	}
	t, err := f.env.AcceptRequest(ctx, fr)
	f.changed()
	return t, err
}

func (f *Friends) Reject(ctx context.Context, id int64) (*mutation.Ticket[RequestStatus], error) {
	fr, ok := f.request(id)
	if !ok {
		fr = &model.FriendRequest{ID: id}
	}
	t, err := f.env.RejectRequest(ctx, fr)
	f.changed()
	return t, err
}

func (f *Friends) Send(ctx context.Context, username string) error {
	return f.env.SendRequest(ctx, username, RequestSent)
}

// FindPeople lists users whose username contains query, ignoring case.  The
// viewer is left out.
func (f *Friends) FindPeople(ctx context.Context, query string) ([]*model.User, error) {
	users, snap, err := readList[*model.User](ctx, f.env.cache, storecache.Users())
	if !snap.Has() {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	me := f.env.Me()
	out := []*model.User{}
	for _, u := range users {
		if me != nil && u.ID == me.ID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) {
			out = append(out, u.Clone())
		}
	}
	return out, nil
}
