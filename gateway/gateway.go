/*
Package gateway serves the client's view state as JSON to a browser front
end running on the same machine.  It holds one session, the one the daemon
was started with or logged into, and one instance of each view.

A front end that wants to hear about changes long-polls /api/listen with a
cache key and the version it has.
*/
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ts4z/hearth/app"
	"github.com/ts4z/hearth/dep"
	"github.com/ts4z/hearth/he"
	"github.com/ts4z/hearth/middleware"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/protocol"
	"github.com/ts4z/hearth/state"
	"github.com/ts4z/hearth/varz"
	"github.com/ts4z/hearth/views"
)

var (
	clientClosedWhileListening = varz.NewInt("client_closed_while_listening")
	timedOutWhileListening     = varz.NewInt("timed_out_while_listening")
	errorListening             = varz.NewInt("error_listening")
	listenNotifiedClient       = varz.NewInt("listen_notified_client")
)

// DefaultListenTimeout bounds a long poll.
const DefaultListenTimeout = time.Hour

// maxUpload bounds a multipart post or story.
const maxUpload = 64 << 20

type Config struct {
	App            *app.App
	AllowedOrigins []string
	ListenTimeout  time.Duration
}

type Gateway struct {
	app           *app.App
	listenTimeout time.Duration
	handler       http.Handler

	// Views outlive requests; chats poll until the gateway closes.
	ctx    context.Context
	cancel context.CancelFunc

	lock    sync.Mutex
	feed    *views.Feed
	friends *views.Friends
	stories *views.Stories
	chats   map[string]*views.Chat
}

func New(cf *Config) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		app:           dep.Required(cf.App),
		listenTimeout: cf.ListenTimeout,
		ctx:           ctx,
		cancel:        cancel,
		chats:         map[string]*views.Chat{},
	}
	if g.listenTimeout <= 0 {
		g.listenTimeout = DefaultListenTimeout
	}
	g.app.Session.OnChange(func(u *model.User) {
		if u == nil {
			g.reset()
		}
	})
	for _, origin := range cf.AllowedOrigins {
		zap.S().Infof("gateway: CORS allowing origin %s", origin)
	}

	r := chi.NewRouter()
	g.installHandlers(r)
	stamped := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set(protocol.Header, strconv.Itoa(protocol.Version))
		r.ServeHTTP(w, req)
	})
	logger := middleware.NewRequestLogger(middleware.NoStore(stamped), g.app.Clock)
	corsMW := cors.New(cors.Options{
		AllowedOrigins:   cf.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})
	g.handler = corsMW.Handler(logger)
	return g
}

// Handler returns the configured HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Close unmounts every view and stops chat polling.
func (g *Gateway) Close() {
	g.cancel()
	g.reset()
}

// reset drops every view.  The next request builds fresh ones.
func (g *Gateway) reset() {
	g.lock.Lock()
	defer g.lock.Unlock()
	for _, c := range g.chats {
		c.Close()
	}
	g.chats = map[string]*views.Chat{}
	if g.feed != nil {
		g.feed.Unmount()
		g.feed = nil
	}
	if g.friends != nil {
		g.friends.Unmount()
		g.friends = nil
	}
	if g.stories != nil {
		g.stories.Unmount()
		g.stories = nil
	}
}

func (g *Gateway) feedView() *views.Feed {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.feed == nil {
		g.feed = g.app.Env.NewFeed()
	}
	return g.feed
}

func (g *Gateway) friendsView() *views.Friends {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.friends == nil {
		g.friends = g.app.Env.NewFriends()
	}
	return g.friends
}

func (g *Gateway) storiesView() *views.Stories {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.stories == nil {
		g.stories = g.app.Env.NewStories()
	}
	return g.stories
}

// chat returns the open chat with username, opening it if needed.
func (g *Gateway) chat(ctx context.Context, username string) (*views.Chat, error) {
	g.lock.Lock()
	c, ok := g.chats[username]
	if !ok {
		c = g.app.Env.NewChat(username)
		g.chats[username] = c
	}
	g.lock.Unlock()
	if ok {
		return c, c.Load(ctx)
	}
	// Polling runs under the gateway's context, not the request's.
	return c, c.Open(g.ctx)
}

// handleFunc adapts a context-first handler.
func handleFunc(handler func(context.Context, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handler(r.Context(), w, r)
	}
}

func (g *Gateway) requiringSession(handler func(context.Context, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return handleFunc(func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		if !g.app.Session.LoggedIn() {
			he.SendErrorToHTTPClient(w, "authorize", he.HTTPCodedErrorf(http.StatusUnauthorized, "not logged in"))
			return
		}
		handler(ctx, w, r)
	})
}

func (g *Gateway) requiringSessionTakingID(handler func(context.Context, int64, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return g.requiringSession(func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		id, err := idPathValue(r)
		if err != nil {
			he.SendErrorToHTTPClient(w, "parse url", err)
			return
		}
		handler(ctx, id, w, r)
	})
}

func idPathValue(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return -1, he.HTTPCodedErrorf(http.StatusBadRequest, "can't parse id from url path %q", r.URL.Path)
	}
	return id, nil
}

// sendError is he.SendErrorToHTTPClient with the views' own errors given
// codes.
func sendError(w http.ResponseWriter, while string, err error) {
	switch {
	case errors.Is(err, views.ErrBlank):
		err = he.HTTPCodedErrorf(http.StatusBadRequest, "%v", err)
	case errors.Is(err, views.ErrAnswered):
		err = he.HTTPCodedErrorf(http.StatusConflict, "%v", err)
	case errors.Is(err, views.ErrNotMine):
		err = he.HTTPCodedErrorf(http.StatusForbidden, "%v", err)
	case errors.Is(err, views.ErrUnmounted):
		err = he.HTTPCodedErrorf(http.StatusConflict, "%v", err)
	}
	he.SendErrorToHTTPClient(w, while, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	bytes, err := json.Marshal(v)
	if err != nil {
		he.SendErrorToHTTPClient(w, "marshal response", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writ, err := w.Write(bytes)
	if err != nil {
		zap.S().Infof("gateway: error writing to client: %v", err)
	} else if writ != len(bytes) {
		zap.S().Infof("gateway: short write to client")
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return he.HTTPCodedErrorf(http.StatusBadRequest, "decoding json: %v", err)
	}
	return nil
}

// formUpload is the named file part of a multipart request, or nil.
func formUpload(r *http.Request, name string) (*state.Upload, func(), error) {
	f, fh, err := r.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, func() {}, he.HTTPCodedErrorf(http.StatusBadRequest, "reading %s: %v", name, err)
	}
	return &state.Upload{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Reader:      f,
	}, func() { f.Close() }, nil
}

func handleRobotsTXT(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	for _, line := range []string{"User-agent: *", "Disallow: /"} {
		io.WriteString(w, line+"\r\n")
	}
}

func (g *Gateway) installHandlers(r chi.Router) {
	r.Get("/robots.txt", handleRobotsTXT)
	r.Method(http.MethodGet, "/metrics", varz.Handler())

	r.Get("/api/session", handleFunc(g.handleSession))
	r.Post("/api/login", handleFunc(g.handleLogin))
	r.Post("/api/logout", handleFunc(g.handleLogout))
	r.Get("/api/toasts", handleFunc(g.handleToasts))

	r.Get("/api/feed", g.requiringSession(g.handleFeed))
	r.Post("/api/feed", g.requiringSession(g.handleCreatePost))
	r.Post("/api/feed/more", g.requiringSession(g.handleFeedMore))
	r.Post("/api/feed/refresh", g.requiringSession(g.handleFeedRefresh))

	r.Post("/api/posts/{id}/like", g.requiringSessionTakingID(g.handleLike))
	r.Post("/api/posts/{id}/share", g.requiringSessionTakingID(g.handleShare))
	r.Patch("/api/posts/{id}", g.requiringSessionTakingID(g.handleEditPost))
	r.Delete("/api/posts/{id}", g.requiringSessionTakingID(g.handleDeletePost))
	r.Post("/api/posts/{id}/comments", g.requiringSessionTakingID(g.handleAddComment))

	r.Get("/api/stories", g.requiringSession(g.handleStories))
	r.Post("/api/stories", g.requiringSession(g.handleCreateStory))
	r.Get("/api/stories/{username}", g.requiringSession(g.handleStoryGroup))

	r.Get("/api/friends", g.requiringSession(g.handleFriends))
	r.Post("/api/friends/send", g.requiringSession(g.handleSendRequest))
	r.Post("/api/friends/{id}/accept", g.requiringSessionTakingID(g.handleAccept))
	r.Post("/api/friends/{id}/reject", g.requiringSessionTakingID(g.handleReject))

	r.Get("/api/conversations", g.requiringSession(g.handleConversations))
	r.Get("/api/messages/{username}", g.requiringSession(g.handleMessages))
	r.Post("/api/messages/{username}", g.requiringSession(g.handleSendMessage))

	r.Get("/api/profiles/{username}", g.requiringSession(g.handleProfile))
	r.Get("/api/search", g.requiringSession(g.handleSearch))

	r.Post("/api/listen", g.requiringSession(g.handleListen))
}

// contextualizer returns the input context for every connection.
func contextualizer(ctx context.Context) func(net.Listener) context.Context {
	return func(_ net.Listener) context.Context {
		return ctx
	}
}

// Serve answers on listenAddress until ctx is done.
func (g *Gateway) Serve(ctx context.Context, listenAddress string) error {
	server := &http.Server{
		Addr:         listenAddress,
		Handler:      g.handler,
		BaseContext:  contextualizer(ctx),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: g.listenTimeout + time.Minute,
		IdleTimeout:  12 * time.Hour,
	}
	errc := make(chan error, 1)
	go func() {
		zap.S().Infof("gateway: listening on %s", listenAddress)
		errc <- server.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return fmt.Errorf("gateway exited: %w", err)
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdown); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}
