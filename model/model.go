// Package model holds the resources served by the hearth API.
//
// Field names and JSON tags follow the server's serializers.  Anything here
// is owned by the cache; views get clones.
package model

import (
	"strings"
	"time"
)

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// User is the API's user record.  Profile is only present on some endpoints
// (users/me/, nested post authors).
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email,omitempty"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	DateJoined time.Time `json:"date_joined,omitzero"`
	Profile    *Profile  `json:"profile,omitempty"`
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cpy := *u
	cpy.Profile = u.Profile.Clone()
	return &cpy
}

// DisplayName is "First Last" if either is set, else the username.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// HasFriend reports whether id is in the user's profile friend list.
func (u *User) HasFriend(id int64) bool {
	if u == nil || u.Profile == nil {
		return false
	}
	return u.Profile.HasFriend(id)
}

type Profile struct {
	ID                int64   `json:"id"`
	User              *User   `json:"user,omitempty"`
	Bio               string  `json:"bio"`
	Location          string  `json:"location"`
	ProfilePictureURL *string `json:"profile_picture_url"`
	CoverPhotoURL     *string `json:"cover_photo_url"`
	FriendsCount      int     `json:"friends_count"`
	IsOnline          bool    `json:"is_online"`
	Friends           []*User `json:"friends,omitempty"`
}

func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cpy := *p
	cpy.User = p.User.Clone()
	if p.Friends != nil {
		cpy.Friends = make([]*User, len(p.Friends))
		for i, f := range p.Friends {
			cpy.Friends[i] = f.Clone()
		}
	}
	return &cpy
}

func (p *Profile) HasFriend(id int64) bool {
	if p == nil {
		return false
	}
	for _, f := range p.Friends {
		if f.ID == id {
			return true
		}
	}
	return false
}

// ProfileUpdate is a PATCH to profiles/{username}/.  Nil fields are left
// alone.
type ProfileUpdate struct {
	Bio      *string
	Location *string
}

type Comment struct {
	ID        int64     `json:"id"`
	User      *User     `json:"user"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	cpy := *c
	cpy.User = c.User.Clone()
	return &cpy
}

func (c *Comment) IsOwnedBy(u *User) bool {
	return c != nil && u != nil && c.User != nil && c.User.ID == u.ID
}

// SharedPost is the trimmed-down original carried by a share.
type SharedPost struct {
	ID        int64     `json:"id"`
	User      *User     `json:"user"`
	Content   string    `json:"content"`
	ImageURL  *string   `json:"image_url"`
	VideoURL  *string   `json:"video_url"`
	CreatedAt time.Time `json:"created_at"`
}

type Post struct {
	ID         int64       `json:"id"`
	User       *User       `json:"user"`
	Content    string      `json:"content"`
	ImageURL   *string     `json:"image_url"`
	VideoURL   *string     `json:"video_url"`
	Visibility string      `json:"visibility"`
	CreatedAt  time.Time   `json:"created_at"`
	LikesCount int         `json:"likes_count"`
	Comments   []*Comment  `json:"comments"`
	IsLiked    bool        `json:"is_liked"`
	SharedPost *SharedPost `json:"shared_post"`
}

func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	cpy := *p
	cpy.User = p.User.Clone()
	if p.Comments != nil {
		cpy.Comments = make([]*Comment, len(p.Comments))
		for i, c := range p.Comments {
			cpy.Comments[i] = c.Clone()
		}
	}
	if p.SharedPost != nil {
		sp := *p.SharedPost
		sp.User = p.SharedPost.User.Clone()
		cpy.SharedPost = &sp
	}
	return &cpy
}

func (p *Post) IsOwnedBy(u *User) bool {
	return p != nil && u != nil && p.User != nil && p.User.ID == u.ID
}

// HasMedia is true for posts whose content is a caption rather than the body.
func (p *Post) HasMedia() bool {
	return p.ImageURL != nil || p.VideoURL != nil || p.SharedPost != nil
}

// Like returns the post's like projection.
func (p *Post) Like() LikeState {
	return LikeState{Liked: p.IsLiked, Count: p.LikesCount}
}

// LikeState is the observable like projection of a post: the heart and the
// counter next to it.
type LikeState struct {
	Liked bool `json:"is_liked"`
	Count int  `json:"likes_count"`
}

// Toggled is what a like toggle is expected to produce.
func (ls LikeState) Toggled() LikeState {
	if ls.Liked {
		return LikeState{Liked: false, Count: ls.Count - 1}
	}
	return LikeState{Liked: true, Count: ls.Count + 1}
}

// LikeResult is the response to posts/{id}/like/.
type LikeResult struct {
	Status     string `json:"status"`
	LikesCount int    `json:"likes_count"`
}

func (lr *LikeResult) State() LikeState {
	return LikeState{Liked: lr.Status == "liked", Count: lr.LikesCount}
}

type FriendRequest struct {
	ID        int64     `json:"id"`
	FromUser  *User     `json:"from_user"`
	ToUser    *User     `json:"to_user"`
	CreatedAt time.Time `json:"created_at"`
}

func (fr *FriendRequest) Clone() *FriendRequest {
	if fr == nil {
		return nil
	}
	cpy := *fr
	cpy.FromUser = fr.FromUser.Clone()
	cpy.ToUser = fr.ToUser.Clone()
	return &cpy
}

type Message struct {
	ID        int64     `json:"id"`
	Sender    *User     `json:"sender"`
	Receiver  *User     `json:"receiver"`
	Content   string    `json:"content"`
	FileURL   *string   `json:"file_url"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"is_read"`

	// PendingID is set on locally-predicted messages that the server hasn't
	// acknowledged yet.
	PendingID string `json:"pending_id,omitempty"`
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cpy := *m
	cpy.Sender = m.Sender.Clone()
	cpy.Receiver = m.Receiver.Clone()
	return &cpy
}

func (m *Message) IsPending() bool {
	return m.PendingID != ""
}

// Credentials are what auth/login/ takes.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is what auth/login/ returns.
type TokenResponse struct {
	Token string `json:"token"`
}

// Signup is the body of a POST to users/.
type Signup struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}
