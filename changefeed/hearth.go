package changefeed

import (
	"strconv"

	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/storecache"
)

// Resource names as the server sends them.
const (
	ResourcePost          = "post"
	ResourceComment       = "comment"
	ResourceStory         = "story"
	ResourceFriendRequest = "friend_request"
	ResourceMessage       = "message"
	ResourceProfile       = "profile"
)

func postKeys(ev *Event) []cache.Key {
	id, err := strconv.ParseInt(ev.ID, 10, 64)
	if err != nil {
		return nil
	}
	return []cache.Key{storecache.Post(id)}
}

func conversationKeys(ev *Event) []cache.Key {
	if ev.ID == "" {
		return nil
	}
	return []cache.Key{storecache.Messages(ev.ID)}
}

func profileKeys(ev *Event) []cache.Key {
	if ev.ID == "" {
		return nil
	}
	return []cache.Key{storecache.Profile(ev.ID), storecache.ProfilePosts(ev.ID)}
}

// Consumers maps every resource the server reports to the cache keys it
// makes stale.  A comment event carries its post's id.  A message event
// carries the other party's username.
func Consumers(c Cache) []Consumer {
	return []Consumer{
		NewChangeDispatcher(ResourcePost, c, postKeys,
			[]string{storecache.KindPosts, storecache.KindProfilePosts}, true),
		NewChangeDispatcher(ResourceComment, c, postKeys,
			[]string{storecache.KindPosts}, true),
		NewChangeDispatcher(ResourceStory, c, nil,
			[]string{storecache.KindStories}, false),
		NewChangeDispatcher(ResourceFriendRequest, c, nil,
			[]string{storecache.KindIncoming, storecache.KindSent, storecache.KindFriends, storecache.KindProfile}, false),
		NewChangeDispatcher(ResourceMessage, c, conversationKeys,
			[]string{storecache.KindConversations}, true),
		NewChangeDispatcher(ResourceProfile, c, profileKeys,
			[]string{storecache.KindUsers, storecache.KindSearch, storecache.KindMe}, true),
	}
}

// NewHearthDispatcher is a Dispatcher with Consumers(c).
func NewHearthDispatcher(c Cache) *Dispatcher {
	d, err := NewDispatcher(Consumers(c)...)
	if err != nil {
		// resource names above are distinct
		panic(err)
	}
	return d
}

// DefaultPollKeys are the keys worth polling when nothing is pushed.
func DefaultPollKeys() []cache.Key {
	return []cache.Key{
		storecache.Posts(1),
		storecache.Incoming(),
		storecache.Conversations(),
		storecache.Stories(),
	}
}
