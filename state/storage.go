// Package state talks to the hearth REST API.  Everything the client knows
// comes through one of these interfaces; the cache and views never build
// URLs themselves.
package state

import (
	"context"
	"io"

	"github.com/ts4z/hearth/model"
)

type Closer interface {
	Close()
}

type AuthStorage interface {
	Login(ctx context.Context, creds model.Credentials) (string, error)
	Me(ctx context.Context) (*model.User, error)
	Signup(ctx context.Context, s model.Signup) (*model.User, error)
}

type PostStorage interface {
	FetchPostsPage(ctx context.Context, page int) (*model.Page[*model.Post], error)
	FetchPost(ctx context.Context, id int64) (*model.Post, error)
	CreatePost(ctx context.Context, np *NewPost) (*model.Post, error)
	EditPost(ctx context.Context, id int64, content string) (*model.Post, error)
	DeletePost(ctx context.Context, id int64) error
	ToggleLike(ctx context.Context, id int64) (*model.LikeResult, error)
	SharePost(ctx context.Context, id int64, content string) (*model.Post, error)

	AddComment(ctx context.Context, postID int64, content string) (*model.Comment, error)
	EditComment(ctx context.Context, id int64, content string) (*model.Comment, error)
	DeleteComment(ctx context.Context, id int64) error
}

type StoryStorage interface {
	FetchStories(ctx context.Context) ([]*model.Story, error)
	CreateStory(ctx context.Context, file *Upload) (*model.Story, error)
}

type FriendStorage interface {
	FetchIncomingRequests(ctx context.Context) ([]*model.FriendRequest, error)
	FetchSentRequests(ctx context.Context) ([]*model.FriendRequest, error)
	FetchFriends(ctx context.Context) ([]*model.User, error)
	SendFriendRequest(ctx context.Context, username string) error
	AcceptFriendRequest(ctx context.Context, id int64) error
	RejectFriendRequest(ctx context.Context, id int64) error
}

type MessageStorage interface {
	FetchConversations(ctx context.Context) ([]*model.User, error)
	FetchHistory(ctx context.Context, username string) ([]*model.Message, error)
	SendMessage(ctx context.Context, toUsername, content string) (*model.Message, error)
}

type ProfileStorage interface {
	FetchProfile(ctx context.Context, username string) (*model.Profile, error)
	FetchProfilePosts(ctx context.Context, username string) ([]*model.Post, error)
	UpdateProfile(ctx context.Context, username string, pu *ProfileUpdate) (*model.Profile, error)
}

type UserStorage interface {
	FetchUsers(ctx context.Context) ([]*model.User, error)
	SearchUsers(ctx context.Context, query string) ([]*model.User, error)
}

// Storage is everything.  APIStorage implements all of it; tests usually
// talk to APIStorage pointed at a fake server.
type Storage interface {
	Closer
	AuthStorage
	PostStorage
	StoryStorage
	FriendStorage
	MessageStorage
	ProfileStorage
	UserStorage
}

// Upload is a file to send as one part of a multipart body.  ContentType may
// be empty, in which case it is guessed from Name.
type Upload struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// NewPost is a post to create.  At most one of Image and Video is set.
type NewPost struct {
	Content    string
	Visibility string
	Image      *Upload
	Video      *Upload
}

// ProfileUpdate is a PATCH to a profile.  Nil fields are left alone.
type ProfileUpdate struct {
	model.ProfileUpdate
	ProfilePicture *Upload
	CoverPhoto     *Upload
}
