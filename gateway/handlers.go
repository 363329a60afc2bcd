package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/gossip"
	"github.com/ts4z/hearth/he"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/protocol"
	"github.com/ts4z/hearth/session"
	"github.com/ts4z/hearth/storecache"
	"github.com/ts4z/hearth/views"
)

type sessionResponse struct {
	Protocol int         `json:"protocol"`
	LoggedIn bool        `json:"logged_in"`
	User     *model.User `json:"user"`
}

func (g *Gateway) handleSession(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse{
		Protocol: protocol.Version,
		LoggedIn: g.app.Session.LoggedIn(),
		User:     g.app.Session.User(),
	})
}

func (g *Gateway) handleLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		he.SendErrorToHTTPClient(w, "parse login", err)
		return
	}
	if creds.Username == "" || creds.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password required"})
		return
	}
	u, err := g.app.Session.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		code := http.StatusBadRequest
		if he.KindOf(err) == he.KindTransport {
			code = http.StatusBadGateway
		}
		writeJSON(w, code, map[string]string{"error": session.LoginMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Protocol: protocol.Version, LoggedIn: true, User: u})
}

func (g *Gateway) handleLogout(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	g.app.Session.Logout()
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleToasts(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.app.Toasts.Drain())
}

type feedResponse struct {
	Posts   []*model.Post `json:"posts"`
	Pages   int           `json:"pages"`
	HasMore bool          `json:"has_more"`
	Error   string        `json:"error,omitempty"`
}

func feedState(f *views.Feed) feedResponse {
	resp := feedResponse{Posts: f.Posts(), Pages: f.Pages(), HasMore: f.HasMore()}
	if err := f.Err(); err != nil {
		resp.Error = he.UserMessage(err, "Couldn't load the feed")
	}
	return resp
}

// maxFeedPages bounds how much of the feed one request may walk.
const maxFeedPages = 20

// handleFeed loads the feed, reading more pages until it has ?pages=N of
// them or there are no more.
func (g *Gateway) handleFeed(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	want := 1
	if s := r.URL.Query().Get("pages"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxFeedPages {
			he.SendErrorToHTTPClient(w, "parse pages", he.HTTPCodedErrorf(http.StatusBadRequest, "pages must be 1 to %d, not %q", maxFeedPages, s))
			return
		}
		want = n
	}
	feed := g.feedView()
	if err := feed.Load(ctx); err != nil && len(feed.Posts()) == 0 {
		sendError(w, "load feed", err)
		return
	}
	for feed.Pages() < want {
		more, err := feed.LoadMore(ctx)
		if err != nil {
			sendError(w, "load more", err)
			return
		}
		if !more {
			break
		}
	}
	writeJSON(w, http.StatusOK, feedState(feed))
}

func (g *Gateway) handleFeedMore(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	feed := g.feedView()
	if _, err := feed.LoadMore(ctx); err != nil {
		sendError(w, "load more", err)
		return
	}
	writeJSON(w, http.StatusOK, feedState(feed))
}

func (g *Gateway) handleFeedRefresh(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	feed := g.feedView()
	if err := feed.Refresh(ctx); err != nil {
		zap.S().Infof("gateway: refresh failed, keeping old pages: %v", err)
	}
	writeJSON(w, http.StatusOK, feedState(feed))
}

// handleCreatePost takes JSON {content, visibility} or a multipart form
// with the same fields and an optional "file".
func (g *Gateway) handleCreatePost(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var d views.Draft
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			he.SendErrorToHTTPClient(w, "parse form", he.HTTPCodedErrorf(http.StatusBadRequest, "%v", err))
			return
		}
		file, done, err := formUpload(r, "file")
		if err != nil {
			he.SendErrorToHTTPClient(w, "parse form", err)
			return
		}
		defer done()
		d = views.Draft{Content: r.FormValue("content"), Visibility: r.FormValue("visibility"), File: file}
	} else {
		var body struct {
			Content    string `json:"content"`
			Visibility string `json:"visibility"`
		}
		if err := decodeJSON(r, &body); err != nil {
			he.SendErrorToHTTPClient(w, "parse post", err)
			return
		}
		d = views.Draft{Content: body.Content, Visibility: body.Visibility}
	}
	p, err := g.feedView().Create(ctx, d)
	if err != nil {
		sendError(w, "create post", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (g *Gateway) postCard(ctx context.Context, id int64) (*views.PostCard, error) {
	if p, ok := g.feedView().Post(id); ok {
		return g.app.Env.NewPostCard(p), nil
	}
	p, err := cache.GetAs[*model.Post](ctx, g.app.Cache, storecache.Post(id))
	if err != nil {
		return nil, err
	}
	return g.app.Env.NewPostCard(p), nil
}

// handleLike answers with the predicted like state at once.  The front end
// hears about a rollback through /api/toasts and the next feed read.
func (g *Gateway) handleLike(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	ticket, err := g.app.Env.ToggleLikeID(ctx, id)
	if err != nil {
		sendError(w, "like", err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticket.Predicted)
}

type contentBody struct {
	Content string `json:"content"`
}

func (g *Gateway) handleShare(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	var body contentBody
	if err := decodeJSON(r, &body); err != nil {
		he.SendErrorToHTTPClient(w, "parse share", err)
		return
	}
	card, err := g.postCard(ctx, id)
	if err != nil {
		sendError(w, "find post", err)
		return
	}
	p, err := card.Share(ctx, body.Content)
	if err != nil {
		sendError(w, "share", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (g *Gateway) handleEditPost(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	var body contentBody
	if err := decodeJSON(r, &body); err != nil {
		he.SendErrorToHTTPClient(w, "parse edit", err)
		return
	}
	card, err := g.postCard(ctx, id)
	if err != nil {
		sendError(w, "find post", err)
		return
	}
	if err := card.Edit(ctx, body.Content); err != nil {
		sendError(w, "edit", err)
		return
	}
	writeJSON(w, http.StatusOK, card.Post())
}

func (g *Gateway) handleDeletePost(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	card, err := g.postCard(ctx, id)
	if err != nil {
		sendError(w, "find post", err)
		return
	}
	if err := card.Delete(ctx); err != nil {
		sendError(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleAddComment(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	var body contentBody
	if err := decodeJSON(r, &body); err != nil {
		he.SendErrorToHTTPClient(w, "parse comment", err)
		return
	}
	card, err := g.postCard(ctx, id)
	if err != nil {
		sendError(w, "find post", err)
		return
	}
	c, err := card.AddComment(ctx, body.Content)
	if err != nil {
		sendError(w, "comment", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (g *Gateway) handleStories(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	s := g.storiesView()
	if err := s.Load(ctx); err != nil && len(s.Groups()) == 0 {
		sendError(w, "load stories", err)
		return
	}
	writeJSON(w, http.StatusOK, s.Groups())
}

// handleStoryGroup is one author's stories, or 404 if the tray has none
// from them.
func (g *Gateway) handleStoryGroup(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	s := g.storiesView()
	if err := s.Load(ctx); err != nil && len(s.Groups()) == 0 {
		sendError(w, "load stories", err)
		return
	}
	group, ok := s.Group(username)
	if !ok {
		he.SendErrorToHTTPClient(w, "load stories", he.HTTPCodedErrorf(http.StatusNotFound, "no stories from %s", username))
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (g *Gateway) handleCreateStory(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		he.SendErrorToHTTPClient(w, "parse form", he.HTTPCodedErrorf(http.StatusBadRequest, "%v", err))
		return
	}
	file, done, err := formUpload(r, "file")
	if err != nil {
		he.SendErrorToHTTPClient(w, "parse form", err)
		return
	}
	defer done()
	story, err := g.storiesView().Create(ctx, file)
	if err != nil {
		sendError(w, "create story", err)
		return
	}
	writeJSON(w, http.StatusCreated, story)
}

type friendsResponse struct {
	Incoming []*model.FriendRequest `json:"incoming"`
	Sent     []*model.FriendRequest `json:"sent"`
	Friends  []*model.User          `json:"friends"`
}

func friendsState(f *views.Friends) friendsResponse {
	return friendsResponse{Incoming: f.Incoming(), Sent: f.Sent(), Friends: f.Friends()}
}

func (g *Gateway) handleFriends(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	f := g.friendsView()
	if err := f.Load(ctx); err != nil {
		sendError(w, "load friends", err)
		return
	}
	writeJSON(w, http.StatusOK, friendsState(f))
}

func (g *Gateway) handleSendRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &body); err != nil {
		he.SendErrorToHTTPClient(w, "parse request", err)
		return
	}
	if body.Username == "" {
		he.SendErrorToHTTPClient(w, "send request", he.HTTPCodedErrorf(http.StatusBadRequest, "username required"))
		return
	}
	if err := g.friendsView().Send(ctx, body.Username); err != nil {
		sendError(w, "send request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type answerResponse struct {
	Status string `json:"status"`
	friendsResponse
}

// handleAnswer answers at once with the friends lists as they will look if
// the server agrees.
func (g *Gateway) handleAnswer(ctx context.Context, id int64, w http.ResponseWriter, accept bool) {
	f := g.friendsView()
	answer := f.Reject
	if accept {
		answer = f.Accept
	}
	ticket, err := answer(ctx, id)
	if err != nil {
		sendError(w, "answer request", err)
		return
	}
	writeJSON(w, http.StatusAccepted, answerResponse{
		Status:          ticket.Predicted.String(),
		friendsResponse: friendsState(f),
	})
}

func (g *Gateway) handleAccept(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	g.handleAnswer(ctx, id, w, true)
}

func (g *Gateway) handleReject(ctx context.Context, id int64, w http.ResponseWriter, r *http.Request) {
	g.handleAnswer(ctx, id, w, false)
}

func (g *Gateway) handleConversations(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	users, err := g.app.Env.Conversations(ctx)
	if err != nil {
		sendError(w, "load conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (g *Gateway) handleMessages(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	c, err := g.chat(ctx, chi.URLParam(r, "username"))
	if err != nil && len(c.Messages()) == 0 {
		sendError(w, "load messages", err)
		return
	}
	writeJSON(w, http.StatusOK, c.Messages())
}

func (g *Gateway) handleSendMessage(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var body contentBody
	if err := decodeJSON(r, &body); err != nil {
		he.SendErrorToHTTPClient(w, "parse message", err)
		return
	}
	c, err := g.chat(ctx, chi.URLParam(r, "username"))
	if err != nil {
		zap.S().Debugf("gateway: chat history: %v", err)
	}
	m, err := c.Send(ctx, body.Content)
	if err != nil {
		sendError(w, "send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type profileResponse struct {
	Profile      *model.Profile `json:"profile"`
	Posts        []*model.Post  `json:"posts"`
	Relationship string         `json:"relationship"`
}

// handleProfile mounts a profile for one request.  Profiles aren't kept
// between requests; the cache is.
func (g *Gateway) handleProfile(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	p := g.app.Env.NewProfile(chi.URLParam(r, "username"))
	defer p.Unmount()
	if err := p.Load(ctx); err != nil {
		sendError(w, "load profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		Profile:      p.Profile(),
		Posts:        p.Posts(),
		Relationship: p.Relationship().String(),
	})
}

// handleSearch is undebounced; the front end debounces as it types.
func (g *Gateway) handleSearch(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	users, err := g.app.Env.SearchUsers(ctx, r.URL.Query().Get("q"))
	if err != nil {
		sendError(w, "search", err)
		return
	}
	if users == nil {
		users = []*model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

type listenRequest struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
}

type listenResponse struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
	Value   any    `json:"value"`
}

// handleListen blocks until the cache holds something newer than the
// version the client has for key, then returns it.
func (g *Gateway) handleListen(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req listenRequest
	if err := decodeJSON(r, &req); err != nil {
		he.SendErrorToHTTPClient(w, "/api/listen", err)
		return
	}
	if req.Key == "" {
		he.SendErrorToHTTPClient(w, "prep listen request", he.HTTPCodedErrorf(http.StatusBadRequest, "no key"))
		return
	}
	key := cache.Key(req.Key)
	errCh := make(chan error, 1)
	valueCh := make(chan gossip.Update, 1)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	timeoutCh := g.app.Clock.RealClock().After(g.listenTimeout)
	go g.app.Cache.Listen(ctx, key, req.Version, errCh, valueCh)

	// Nothing fetches a key that nobody has read yet.
	if _, ok := g.app.Cache.Peek(key); !ok {
		g.app.Cache.Read(ctx, key)
	}

	select {
	case err := <-errCh:
		errorListening.Add(1)
		he.SendErrorToHTTPClient(w, "listen for change", err)
	case u := <-valueCh:
		listenNotifiedClient.Add(1)
		writeJSON(w, http.StatusOK, listenResponse{Key: u.Key, Version: u.Version, Value: u.Value})
	case <-timeoutCh:
		timedOutWhileListening.Add(1)
		he.SendErrorToHTTPClient(w, "wait for update",
			he.HTTPCodedErrorf(http.StatusGatewayTimeout, "timeout"))
	case <-ctx.Done():
		clientClosedWhileListening.Add(1)
		zap.S().Debugf("gateway: client closed connection while listening on %s", key)
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
	}
}
