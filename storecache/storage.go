/*
Package storecache puts the Remote Data Cache in front of state.Storage.

Storage reads through the cache: every Fetch method maps to a cache key and
blocks until the cache has a value for it.  Writes pass straight through;
deciding what a write makes stale belongs to whoever made the write (the
views, through the mutation coordinator), so nothing here invalidates.
*/
package storecache

import (
	"context"

	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/state"
)

type Storage struct {
	state.Storage
	cache *cache.Cache
}

var _ state.Storage = (*Storage)(nil)

// New registers a fetcher for every kind on c and returns the read-through
// storage.  next is used for fetches and for all writes.
func New(c *cache.Cache, next state.Storage) *Storage {
	Register(c, next)
	return &Storage{Storage: next, cache: c}
}

func (s *Storage) Cache() *cache.Cache {
	return s.cache
}

// Next is the storage underneath, for callers that must bypass the cache.
func (s *Storage) Next() state.Storage {
	return s.Storage
}

// Register installs fetchers for every kind in AllKinds.
func Register(c *cache.Cache, next state.Storage) {
	cache.RegisterTyped(c, KindMe, func(ctx context.Context, _ cache.Key) (*model.User, error) {
		return next.Me(ctx)
	})
	cache.RegisterTyped(c, KindPosts, func(ctx context.Context, k cache.Key) (*model.Page[*model.Post], error) {
		return next.FetchPostsPage(ctx, int(k.IntParam("page")))
	})
	cache.RegisterTyped(c, KindPost, func(ctx context.Context, k cache.Key) (*model.Post, error) {
		return next.FetchPost(ctx, k.IntParam("id"))
	})
	cache.RegisterTyped(c, KindStories, func(ctx context.Context, _ cache.Key) ([]*model.Story, error) {
		return next.FetchStories(ctx)
	})
	cache.RegisterTyped(c, KindIncoming, func(ctx context.Context, _ cache.Key) ([]*model.FriendRequest, error) {
		return next.FetchIncomingRequests(ctx)
	})
	cache.RegisterTyped(c, KindSent, func(ctx context.Context, _ cache.Key) ([]*model.FriendRequest, error) {
		return next.FetchSentRequests(ctx)
	})
	cache.RegisterTyped(c, KindFriends, func(ctx context.Context, _ cache.Key) ([]*model.User, error) {
		return next.FetchFriends(ctx)
	})
	cache.RegisterTyped(c, KindConversations, func(ctx context.Context, _ cache.Key) ([]*model.User, error) {
		return next.FetchConversations(ctx)
	})
	cache.RegisterTyped(c, KindMessages, func(ctx context.Context, k cache.Key) ([]*model.Message, error) {
		return next.FetchHistory(ctx, k.Param("with"))
	})
	cache.RegisterTyped(c, KindProfile, func(ctx context.Context, k cache.Key) (*model.Profile, error) {
		return next.FetchProfile(ctx, k.Param("user"))
	})
	cache.RegisterTyped(c, KindProfilePosts, func(ctx context.Context, k cache.Key) ([]*model.Post, error) {
		return next.FetchProfilePosts(ctx, k.Param("user"))
	})
	cache.RegisterTyped(c, KindUsers, func(ctx context.Context, _ cache.Key) ([]*model.User, error) {
		return next.FetchUsers(ctx)
	})
	cache.RegisterTyped(c, KindSearch, func(ctx context.Context, k cache.Key) ([]*model.User, error) {
		return next.SearchUsers(ctx, k.Param("q"))
	})
}

func (s *Storage) Me(ctx context.Context) (*model.User, error) {
	return cache.GetAs[*model.User](ctx, s.cache, Me())
}

func (s *Storage) FetchPostsPage(ctx context.Context, page int) (*model.Page[*model.Post], error) {
	return cache.GetAs[*model.Page[*model.Post]](ctx, s.cache, Posts(page))
}

func (s *Storage) FetchPost(ctx context.Context, id int64) (*model.Post, error) {
	return cache.GetAs[*model.Post](ctx, s.cache, Post(id))
}

func (s *Storage) FetchStories(ctx context.Context) ([]*model.Story, error) {
	return cache.GetAs[[]*model.Story](ctx, s.cache, Stories())
}

func (s *Storage) FetchIncomingRequests(ctx context.Context) ([]*model.FriendRequest, error) {
	return cache.GetAs[[]*model.FriendRequest](ctx, s.cache, Incoming())
}

func (s *Storage) FetchSentRequests(ctx context.Context) ([]*model.FriendRequest, error) {
	return cache.GetAs[[]*model.FriendRequest](ctx, s.cache, Sent())
}

func (s *Storage) FetchFriends(ctx context.Context) ([]*model.User, error) {
	return cache.GetAs[[]*model.User](ctx, s.cache, Friends())
}

func (s *Storage) FetchConversations(ctx context.Context) ([]*model.User, error) {
	return cache.GetAs[[]*model.User](ctx, s.cache, Conversations())
}

func (s *Storage) FetchHistory(ctx context.Context, username string) ([]*model.Message, error) {
	return cache.GetAs[[]*model.Message](ctx, s.cache, Messages(username))
}

func (s *Storage) FetchProfile(ctx context.Context, username string) (*model.Profile, error) {
	return cache.GetAs[*model.Profile](ctx, s.cache, Profile(username))
}

func (s *Storage) FetchProfilePosts(ctx context.Context, username string) ([]*model.Post, error) {
	return cache.GetAs[[]*model.Post](ctx, s.cache, ProfilePosts(username))
}

func (s *Storage) FetchUsers(ctx context.Context) ([]*model.User, error) {
	return cache.GetAs[[]*model.User](ctx, s.cache, Users())
}

func (s *Storage) SearchUsers(ctx context.Context, query string) ([]*model.User, error) {
	return cache.GetAs[[]*model.User](ctx, s.cache, Search(query))
}
