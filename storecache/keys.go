package storecache

import "github.com/ts4z/hearth/cache"

// Kinds of cached queries.  Every key the client reads is built here so
// invalidation by kind can't miss a spelling.
const (
	KindMe            = "me"
	KindPosts         = "posts"
	KindPost          = "post"
	KindStories       = "stories"
	KindIncoming      = "friend_requests"
	KindSent          = "sent_requests"
	KindFriends       = "friends"
	KindConversations = "conversations"
	KindMessages      = "messages"
	KindProfile       = "profile"
	KindProfilePosts  = "profile_posts"
	KindUsers         = "users"
	KindSearch        = "search"
)

// AllKinds is every kind, for teardown and for the gateway's key check.
var AllKinds = []string{
	KindMe, KindPosts, KindPost, KindStories, KindIncoming, KindSent,
	KindFriends, KindConversations, KindMessages, KindProfile,
	KindProfilePosts, KindUsers, KindSearch,
}

func Me() cache.Key            { return cache.NewKey(KindMe) }
func Posts(page int) cache.Key { return cache.NewKey(KindPosts, "page", page) }
func Post(id int64) cache.Key  { return cache.NewKey(KindPost, "id", id) }
func Stories() cache.Key       { return cache.NewKey(KindStories) }
func Incoming() cache.Key      { return cache.NewKey(KindIncoming) }
func Sent() cache.Key          { return cache.NewKey(KindSent) }
func Friends() cache.Key       { return cache.NewKey(KindFriends) }
func Conversations() cache.Key { return cache.NewKey(KindConversations) }
func Users() cache.Key         { return cache.NewKey(KindUsers) }

func Messages(with string) cache.Key {
	return cache.NewKey(KindMessages, "with", with)
}

func Profile(username string) cache.Key {
	return cache.NewKey(KindProfile, "user", username)
}

func ProfilePosts(username string) cache.Key {
	return cache.NewKey(KindProfilePosts, "user", username)
}

func Search(query string) cache.Key {
	return cache.NewKey(KindSearch, "q", query)
}

// PostDependents is what a change to one post makes stale: the post
// itself and the author's profile listing.  Feed pages are left alone;
// they pick the post up through the like overlay or their own refetch.
func PostDependents(id int64, author string) []cache.Key {
	keys := []cache.Key{Post(id)}
	if author != "" {
		keys = append(keys, ProfilePosts(author))
	}
	return keys
}
