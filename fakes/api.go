// Package fakes is an in-memory stand-in for the hearth REST API, served
// over httptest.  It is good enough to drive the client end to end: tokens,
// pagination, likes, friend requests and messages all behave like the real
// server, and tests can inject failures or hold requests open.
package fakes

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/password"
)

type fakeUser struct {
	user     model.User
	pwHash   string
	friends  map[int64]bool
	bio      string
	location string
	picture  *string
	cover    *string
}

type fakePost struct {
	post     model.Post
	likes    map[int64]bool
	comments []int64
	sharedID int64
}

type fakeComment struct {
	comment model.Comment
	postID  int64
	userID  int64
}

type fault struct {
	method string
	path   string
	code   int
	body   string
	times  int
}

// Gate holds matching requests until released.
type Gate struct {
	method  string
	path    string
	release chan struct{}
	arrived chan struct{}
	once    sync.Once
	relOnce sync.Once
}

// Arrived is closed once the first matching request is being held.
func (g *Gate) Arrived() <-chan struct{} {
	return g.arrived
}

// Release lets held (and future) requests through.
func (g *Gate) Release() {
	g.relOnce.Do(func() { close(g.release) })
}

type API struct {
	lock sync.Mutex

	// Now is the server's clock, for created_at and story expiry.
	Now func() time.Time

	// PageSize is how many posts come back per page.
	PageSize int

	nextID   int64
	users    map[int64]*fakeUser
	byName   map[string]int64
	tokens   map[string]int64
	posts    map[int64]*fakePost
	comments map[int64]*fakeComment
	requests map[int64]*model.FriendRequest
	messages []*model.Message
	stories  []*model.Story

	faults []*fault
	gates  []*Gate
	calls  map[string]int

	srv *httptest.Server
}

func NewAPI() *API {
	return &API{
		Now:      time.Now,
		PageSize: 10,
		users:    map[int64]*fakeUser{},
		byName:   map[string]int64{},
		tokens:   map[string]int64{},
		posts:    map[int64]*fakePost{},
		comments: map[int64]*fakeComment{},
		requests: map[int64]*model.FriendRequest{},
		calls:    map[string]int{},
	}
}

// Start serves the fake API.  BaseURL is valid afterwards.
func (a *API) Start() *httptest.Server {
	a.srv = httptest.NewServer(a.Handler())
	return a.srv
}

func (a *API) Close() {
	a.lock.Lock()
	for _, g := range a.gates {
		g.Release()
	}
	a.lock.Unlock()
	if a.srv != nil {
		a.srv.Close()
	}
}

// BaseURL is the API root, ending in /api/.
func (a *API) BaseURL() string {
	return a.srv.URL + "/api/"
}

func (a *API) Lock() func() {
	a.lock.Lock()
	return func() { a.lock.Unlock() }
}

func (a *API) id() int64 {
	a.nextID++
	return a.nextID
}

// AddUser creates a user and returns it with a login token.
func (a *API) AddUser(username, pw string) (*model.User, string) {
	unlock := a.Lock()
	defer unlock()
	u := a.addUserLocked(model.Signup{Username: username, Password: pw})
	tok := a.mintTokenLocked(u.user.ID)
	return a.renderUser(u, false), tok
}

func (a *API) addUserLocked(s model.Signup) *fakeUser {
	u := &fakeUser{
		user: model.User{
			ID:         a.id(),
			Username:   s.Username,
			Email:      s.Email,
			FirstName:  s.FirstName,
			LastName:   s.LastName,
			DateJoined: a.Now().UTC(),
		},
		friends: map[int64]bool{},
	}
	h, err := password.HashCost(s.Password, password.FastCost)
	if err != nil {
		// bcrypt only refuses passwords over 72 bytes
		panic(err)
	}
	u.pwHash = h
	a.users[u.user.ID] = u
	a.byName[s.Username] = u.user.ID
	return u
}

func (a *API) mintTokenLocked(userID int64) string {
	tok := strings.ReplaceAll(uuid.NewString(), "-", "")
	a.tokens[tok] = userID
	return tok
}

// ExpireToken makes the server forget tok, so its next use gets a 401.
func (a *API) ExpireToken(tok string) {
	unlock := a.Lock()
	defer unlock()
	delete(a.tokens, tok)
}

// Befriend makes two users friends directly.
func (a *API) Befriend(x, y string) {
	unlock := a.Lock()
	defer unlock()
	ux, uy := a.users[a.byName[x]], a.users[a.byName[y]]
	ux.friends[uy.user.ID] = true
	uy.friends[ux.user.ID] = true
}

// AddPost creates a public post by username with likes already on it.
func (a *API) AddPost(username, content string, likedBy ...string) *model.Post {
	unlock := a.Lock()
	defer unlock()
	p := a.addPostLocked(a.byName[username], content, model.VisibilityPublic)
	for _, l := range likedBy {
		p.likes[a.byName[l]] = true
	}
	return a.renderPost(p, 0)
}

func (a *API) addPostLocked(userID int64, content, visibility string) *fakePost {
	if visibility == "" {
		visibility = model.VisibilityPublic
	}
	p := &fakePost{
		post: model.Post{
			ID:         a.id(),
			Content:    content,
			Visibility: visibility,
			CreatedAt:  a.Now().UTC(),
		},
		likes: map[int64]bool{},
	}
	p.post.User = &model.User{ID: userID}
	a.posts[p.post.ID] = p
	return p
}

// AddFriendRequest creates a pending request and returns its id.
func (a *API) AddFriendRequest(from, to string) int64 {
	unlock := a.Lock()
	defer unlock()
	fr := a.addRequestLocked(a.byName[from], a.byName[to])
	return fr.ID
}

func (a *API) addRequestLocked(from, to int64) *model.FriendRequest {
	fr := &model.FriendRequest{
		ID:        a.id(),
		FromUser:  &model.User{ID: from},
		ToUser:    &model.User{ID: to},
		CreatedAt: a.Now().UTC(),
	}
	a.requests[fr.ID] = fr
	return fr
}

// AddMessage records a message between two users, friends or not.
func (a *API) AddMessage(from, to, content string) *model.Message {
	unlock := a.Lock()
	defer unlock()
	m := a.addMessageLocked(a.byName[from], a.byName[to], content)
	return a.renderMessage(m)
}

func (a *API) addMessageLocked(from, to int64, content string) *model.Message {
	m := &model.Message{
		ID:        a.id(),
		Sender:    &model.User{ID: from},
		Receiver:  &model.User{ID: to},
		Content:   content,
		Timestamp: a.Now().UTC(),
	}
	a.messages = append(a.messages, m)
	return m
}

// AddStory posts a story at the given time.
func (a *API) AddStory(username, fileURL string, at time.Time) *model.Story {
	unlock := a.Lock()
	defer unlock()
	url := fileURL
	s := &model.Story{
		ID:        a.id(),
		User:      &model.User{ID: a.byName[username]},
		FileURL:   &url,
		CreatedAt: at.UTC(),
		IsActive:  true,
	}
	a.stories = append(a.stories, s)
	return a.renderStory(s)
}

// Fail makes the next times requests to method+path fail with code and body.
// path is relative to the API root, e.g. "posts/3/like/".
func (a *API) Fail(method, path string, times, code int, body string) {
	unlock := a.Lock()
	defer unlock()
	a.faults = append(a.faults, &fault{method: method, path: path, code: code, body: body, times: times})
}

// Hold parks requests to method+path until the gate is released.
func (a *API) Hold(method, path string) *Gate {
	unlock := a.Lock()
	defer unlock()
	g := &Gate{
		method:  method,
		path:    path,
		release: make(chan struct{}),
		arrived: make(chan struct{}),
	}
	a.gates = append(a.gates, g)
	return g
}

// Calls counts requests that reached the fake, by method and path.
func (a *API) Calls(method, path string) int {
	unlock := a.Lock()
	defer unlock()
	return a.calls[method+" "+path]
}

// LikesCount is the server's truth, for assertions.
func (a *API) LikesCount(postID int64) int {
	unlock := a.Lock()
	defer unlock()
	if p, ok := a.posts[postID]; ok {
		return len(p.likes)
	}
	return -1
}

// PendingRequests counts friend requests still waiting.
func (a *API) PendingRequests() int {
	unlock := a.Lock()
	defer unlock()
	return len(a.requests)
}

func (a *API) AreFriends(x, y string) bool {
	unlock := a.Lock()
	defer unlock()
	return a.users[a.byName[x]].friends[a.byName[y]]
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(a.intercept)
		r.Post("/auth/login/", a.login)
		r.Post("/users/", a.signup)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Get("/users/", a.listUsers)
			r.Get("/users/me/", a.me)

			r.Get("/posts/", a.listPosts)
			r.Post("/posts/", a.createPost)
			r.Get("/posts/{id}/", a.getPost)
			r.Patch("/posts/{id}/", a.editPost)
			r.Delete("/posts/{id}/", a.deletePost)
			r.Post("/posts/{id}/like/", a.like)
			r.Post("/posts/{id}/comment/", a.comment)
			r.Post("/posts/{id}/share/", a.share)
			r.Patch("/comments/{id}/", a.editComment)
			r.Delete("/comments/{id}/", a.deleteComment)

			r.Get("/stories/", a.listStories)
			r.Post("/stories/", a.createStory)

			r.Get("/friends/", a.incoming)
			r.Get("/friends/sent/", a.sent)
			r.Get("/friends/list_friends/", a.listFriends)
			r.Post("/friends/send/", a.send)
			r.Post("/friends/{id}/accept/", a.accept)
			r.Post("/friends/{id}/reject/", a.reject)

			r.Get("/messages/conversations/", a.conversations)
			r.Get("/messages/history/", a.history)
			r.Post("/messages/", a.sendMessage)

			r.Get("/profiles/{username}/", a.getProfile)
			r.Patch("/profiles/{username}/", a.updateProfile)
			r.Get("/profiles/{username}/posts/", a.profilePosts)
		})
	})
	return r
}

type ctxKey struct{}

// intercept counts calls, applies injected faults and holds gated requests.
func (a *API) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/")

		a.lock.Lock()
		a.calls[r.Method+" "+path]++
		var f *fault
		for _, ft := range a.faults {
			if ft.times > 0 && ft.method == r.Method && ft.path == path {
				ft.times--
				f = ft
				break
			}
		}
		var held []*Gate
		for _, g := range a.gates {
			if g.method == r.Method && g.path == path {
				held = append(held, g)
			}
		}
		a.lock.Unlock()

		for _, g := range held {
			g.once.Do(func() { close(g.arrived) })
			select {
			case <-g.release:
			case <-r.Context().Done():
				return
			}
		}

		if f != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.code)
			io.WriteString(w, f.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if h == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		_, tok, _ := strings.Cut(h, " ")
		a.lock.Lock()
		uid, ok := a.tokens[tok]
		a.lock.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid token."})
			return
		}
		r = r.WithContext(contextWithUser(r, uid))
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

// readBody reads JSON or form fields into a flat string map.
func readBody(r *http.Request) map[string]string {
	out := map[string]string{}
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return out
		}
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
		for k, fhs := range r.MultipartForm.File {
			if len(fhs) > 0 {
				out[k] = "/media/" + fhs[0].Filename
				out[k+".type"] = fhs[0].Header.Get("Content-Type")
			}
		}
		return out
	}
	var m map[string]any
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		return out
	}
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func (a *API) simpleUser(id int64) *model.User {
	u, ok := a.users[id]
	if !ok {
		return nil
	}
	cpy := u.user
	return &cpy
}

func (a *API) renderUser(u *fakeUser, withFriends bool) *model.User {
	cpy := u.user
	cpy.Profile = a.renderProfile(u, withFriends)
	return &cpy
}

func (a *API) renderProfile(u *fakeUser, withFriends bool) *model.Profile {
	p := &model.Profile{
		ID:                u.user.ID,
		User:              a.simpleUser(u.user.ID),
		Bio:               u.bio,
		Location:          u.location,
		ProfilePictureURL: u.picture,
		CoverPhotoURL:     u.cover,
		FriendsCount:      len(u.friends),
	}
	if withFriends {
		p.Friends = []*model.User{}
		for _, fid := range sortedIDs(u.friends) {
			p.Friends = append(p.Friends, a.simpleUser(fid))
		}
	}
	return p
}

func sortedIDs(m map[int64]bool) []int64 {
	ids := make([]int64, 0, len(m))
	for id, ok := range m {
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (a *API) renderPost(p *fakePost, viewer int64) *model.Post {
	cpy := p.post
	cpy.User = a.renderUser(a.users[p.post.User.ID], false)
	cpy.LikesCount = len(p.likes)
	cpy.IsLiked = p.likes[viewer]
	cpy.Comments = []*model.Comment{}
	for _, cid := range p.comments {
		if c, ok := a.comments[cid]; ok {
			cpy.Comments = append(cpy.Comments, a.renderComment(c))
		}
	}
	if sp, ok := a.posts[p.sharedID]; ok && p.sharedID != 0 {
		cpy.SharedPost = &model.SharedPost{
			ID:        sp.post.ID,
			User:      a.renderUser(a.users[sp.post.User.ID], false),
			Content:   sp.post.Content,
			ImageURL:  sp.post.ImageURL,
			VideoURL:  sp.post.VideoURL,
			CreatedAt: sp.post.CreatedAt,
		}
	}
	return &cpy
}

func (a *API) renderComment(c *fakeComment) *model.Comment {
	cpy := c.comment
	cpy.User = a.renderUser(a.users[c.userID], false)
	return &cpy
}

func (a *API) renderRequest(fr *model.FriendRequest) *model.FriendRequest {
	return &model.FriendRequest{
		ID:        fr.ID,
		FromUser:  a.simpleUser(fr.FromUser.ID),
		ToUser:    a.simpleUser(fr.ToUser.ID),
		CreatedAt: fr.CreatedAt,
	}
}

func (a *API) renderMessage(m *model.Message) *model.Message {
	cpy := *m
	cpy.Sender = a.simpleUser(m.Sender.ID)
	cpy.Receiver = a.simpleUser(m.Receiver.ID)
	return &cpy
}

func (a *API) renderStory(s *model.Story) *model.Story {
	cpy := *s
	cpy.User = a.simpleUser(s.User.ID)
	return &cpy
}
