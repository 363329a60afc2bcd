package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ts4z/hearth/app"
	"github.com/ts4z/hearth/fakes"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/protocol"
	"github.com/ts4z/hearth/session"
	"github.com/ts4z/hearth/storecache"
	"github.com/ts4z/hearth/toast"
	"github.com/ts4z/hearth/views"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	api *fakes.API
	app *app.App
	gw  *Gateway
}

func newFixture(t *testing.T, cf Config) *fixture {
	t.Helper()
	api := fakes.NewAPI()
	api.Start()
	t.Cleanup(api.Close)
	api.AddUser("ada", "pw")
	api.AddUser("bob", "pw")
	api.AddUser("carol", "pw")

	a, err := app.New(app.Options{APIURL: api.BaseURL(), Jar: &session.MemJar{}})
	require.NoError(t, err)
	cf.App = a
	gw := New(&cf)
	t.Cleanup(func() {
		gw.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, a.Close(ctx))
	})
	return &fixture{api: api, app: a, gw: gw}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.gw.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	rec := f.do(t, "POST", "/api/login", model.Credentials{Username: "ada", Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func contents(posts []*model.Post) []string {
	out := []string{}
	for _, p := range posts {
		out = append(out, p.Content)
	}
	return out
}

func TestLoginAndLogout(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, "GET", "/api/session", nil)
	assert.Equal(t, strconv.Itoa(protocol.Version), rec.Header().Get(protocol.Header))
	got := decode[sessionResponse](t, rec)
	assert.False(t, got.LoggedIn)
	assert.Equal(t, protocol.Version, got.Protocol)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, "GET", "/api/feed", nil).Code)

	tests := []struct {
		name  string
		creds model.Credentials
		code  int
		msg   string
	}{
		{"missing password", model.Credentials{Username: "ada"}, http.StatusBadRequest, "username and password required"},
		{"wrong password", model.Credentials{Username: "ada", Password: "nope"}, http.StatusBadRequest, "Unable to log in with provided credentials."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, "POST", "/api/login", tc.creds)
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.msg, decode[map[string]string](t, rec)["error"])
		})
	}

	f.login(t)
	got = decode[sessionResponse](t, f.do(t, "GET", "/api/session", nil))
	assert.True(t, got.LoggedIn)
	require.NotNil(t, got.User)
	assert.Equal(t, "ada", got.User.Username)
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/api/feed", nil).Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, "POST", "/api/logout", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, "GET", "/api/feed", nil).Code)
}

func TestFeedPages(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.PageSize = 2
	for i := 1; i <= 5; i++ {
		f.api.AddPost("bob", fmt.Sprintf("post %d", i))
	}
	f.login(t)

	rec := f.do(t, "GET", "/api/feed?pages=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	feed := decode[feedResponse](t, rec)
	assert.Equal(t, []string{"post 5", "post 4", "post 3", "post 2"}, contents(feed.Posts))
	assert.Equal(t, 2, feed.Pages)
	assert.True(t, feed.HasMore)

	feed = decode[feedResponse](t, f.do(t, "POST", "/api/feed/more", nil))
	assert.Len(t, feed.Posts, 5)
	assert.False(t, feed.HasMore)

	for _, pages := range []string{"zero", "0", "21", "100000"} {
		rec := f.do(t, "GET", "/api/feed?pages="+pages, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, pages)
	}
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/api/feed?pages=20", nil).Code)
}

func TestStoryGroup(t *testing.T) {
	f := newFixture(t, Config{})
	now := time.Now()
	f.api.AddStory("bob", "/media/a.jpg", now.Add(-time.Hour))
	f.api.AddStory("carol", "/media/b.jpg", now.Add(-2*time.Hour))
	f.api.AddStory("bob", "/media/c.jpg", now.Add(-3*time.Hour))
	f.login(t)

	tests := []struct {
		username string
		code     int
		stories  int
	}{
		{username: "bob", code: http.StatusOK, stories: 2},
		{username: "carol", code: http.StatusOK, stories: 1},
		{username: "ada", code: http.StatusNotFound},
		{username: "nobody", code: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			rec := f.do(t, "GET", "/api/stories/"+tt.username, nil)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code != http.StatusOK {
				assert.Contains(t, decode[map[string]string](t, rec)["error"], "no stories from "+tt.username)
				return
			}
			group := decode[model.StoryGroup](t, rec)
			require.NotNil(t, group.User)
			assert.Equal(t, tt.username, group.User.Username)
			assert.Len(t, group.Stories, tt.stories)
		})
	}
}

func TestCreatePostAndToasts(t *testing.T) {
	f := newFixture(t, Config{})
	f.login(t)

	rec := f.do(t, "POST", "/api/feed", map[string]string{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	toasts := decode[[]toast.Toast](t, f.do(t, "GET", "/api/toasts", nil))
	require.Len(t, toasts, 1)
	assert.Equal(t, views.NothingToPost, toasts[0].Message)
	assert.Equal(t, toast.Error, toasts[0].Level)

	rec = f.do(t, "POST", "/api/feed", map[string]string{"content": "first!"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "first!", decode[model.Post](t, rec).Content)

	feed := decode[feedResponse](t, f.do(t, "GET", "/api/feed", nil))
	assert.Equal(t, []string{"first!"}, contents(feed.Posts))
}

func TestCreatePostWithImage(t *testing.T) {
	f := newFixture(t, Config{})
	f.login(t)

	var buf bytes.Buffer
	body := "--XX\r\n" +
		"Content-Disposition: form-data; name=\"content\"\r\n\r\nlook\r\n" +
		"--XX\r\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"cat.png\"\r\n" +
		"Content-Type: image/png\r\n\r\npng\r\n" +
		"--XX--\r\n"
	buf.WriteString(body)
	req := httptest.NewRequest("POST", "/api/feed", &buf)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=XX")
	rec := httptest.NewRecorder()
	f.gw.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[model.Post](t, rec)
	assert.Equal(t, "look", p.Content)
	assert.NotNil(t, p.ImageURL)
}

func TestLikeAnswersWithPrediction(t *testing.T) {
	f := newFixture(t, Config{})
	p := f.api.AddPost("bob", "hello")
	f.login(t)
	require.Equal(t, http.StatusOK, f.do(t, "GET", "/api/feed", nil).Code)

	rec := f.do(t, "POST", "/api/posts/"+strconv.FormatInt(p.ID, 10)+"/like", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, model.LikeState{Liked: true, Count: 1}, decode[model.LikeState](t, rec))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.app.Env.Wait(ctx))
	assert.Equal(t, 1, f.api.LikesCount(p.ID))

	feed := decode[feedResponse](t, f.do(t, "GET", "/api/feed", nil))
	require.Len(t, feed.Posts, 1)
	assert.True(t, feed.Posts[0].IsLiked)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/posts/abc/like", nil).Code)
}

func TestShareEditDelete(t *testing.T) {
	f := newFixture(t, Config{})
	p := f.api.AddPost("bob", "worth it")
	f.login(t)
	path := "/api/posts/" + strconv.FormatInt(p.ID, 10)

	rec := f.do(t, "POST", path+"/share", contentBody{Content: "see this"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	shared := decode[model.Post](t, rec)
	require.NotNil(t, shared.SharedPost)
	assert.Equal(t, p.ID, shared.SharedPost.ID)

	rec = f.do(t, "PATCH", path, contentBody{Content: "mine now"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	sharedPath := "/api/posts/" + strconv.FormatInt(shared.ID, 10)
	rec = f.do(t, "PATCH", sharedPath, contentBody{Content: "see this!"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "see this!", decode[model.Post](t, rec).Content)

	rec = f.do(t, "POST", path+"/comments", contentBody{Content: "nice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "nice", decode[model.Comment](t, rec).Content)

	assert.Equal(t, http.StatusNoContent, f.do(t, "DELETE", sharedPath, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "DELETE", sharedPath, nil).Code)
}

func TestAcceptThenRejectConflicts(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.api.AddFriendRequest("bob", "ada")
	f.login(t)

	friends := decode[friendsResponse](t, f.do(t, "GET", "/api/friends", nil))
	require.Len(t, friends.Incoming, 1)

	base := "/api/friends/" + strconv.FormatInt(id, 10)
	gate := f.api.Hold("POST", "friends/"+strconv.FormatInt(id, 10)+"/accept/")
	rec := f.do(t, "POST", base+"/accept", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	answered := decode[answerResponse](t, rec)
	assert.Equal(t, views.RequestAccepted.String(), answered.Status)
	assert.Empty(t, answered.Incoming)

	assert.Equal(t, http.StatusConflict, f.do(t, "POST", base+"/reject", nil).Code)
	gate.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.app.Env.Wait(ctx))
	assert.True(t, f.api.AreFriends("ada", "bob"))
}

func TestSendFriendRequest(t *testing.T) {
	f := newFixture(t, Config{})
	f.login(t)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/friends/send", map[string]string{}).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, "POST", "/api/friends/send", map[string]string{"username": "carol"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/friends/send", map[string]string{"username": "carol"}).Code)

	var msgs []string
	for _, tt := range decode[[]toast.Toast](t, f.do(t, "GET", "/api/toasts", nil)) {
		msgs = append(msgs, tt.Message)
	}
	assert.Equal(t, []string{views.RequestSent, "Request already sent"}, msgs)
}

func TestMessages(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.Befriend("ada", "bob")
	f.api.AddMessage("bob", "ada", "hi ada")
	f.login(t)

	msgs := decode[[]*model.Message](t, f.do(t, "GET", "/api/messages/bob", nil))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi ada", msgs[0].Content)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/messages/bob", contentBody{Content: "  "}).Code)
	rec := f.do(t, "POST", "/api/messages/bob", contentBody{Content: "hi bob"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	msgs = decode[[]*model.Message](t, f.do(t, "GET", "/api/messages/bob", nil))
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi bob", msgs[1].Content)

	users := decode[[]*model.User](t, f.do(t, "GET", "/api/conversations", nil))
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)
}

func TestProfileAndSearch(t *testing.T) {
	f := newFixture(t, Config{})
	f.api.AddPost("bob", "bob's post")
	f.login(t)

	prof := decode[profileResponse](t, f.do(t, "GET", "/api/profiles/bob", nil))
	require.NotNil(t, prof.Profile)
	assert.Equal(t, "bob", prof.Profile.User.Username)
	assert.Equal(t, []string{"bob's post"}, contents(prof.Posts))
	assert.Equal(t, views.RelNone.String(), prof.Relationship)

	users := decode[[]*model.User](t, f.do(t, "GET", "/api/search?q=car", nil))
	require.Len(t, users, 1)
	assert.Equal(t, "carol", users[0].Username)
}

func TestListenHearsNewVersion(t *testing.T) {
	f := newFixture(t, Config{})
	f.login(t)
	require.Equal(t, http.StatusOK, f.do(t, "GET", "/api/feed", nil).Code)
	key := storecache.Posts(1)
	snap, ok := f.app.Cache.Peek(key)
	require.True(t, ok)

	recs := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		recs <- f.do(t, "POST", "/api/listen", listenRequest{Key: key.String(), Version: snap.Version})
	}()
	assert.Eventually(t, func() bool {
		return f.app.Cache.Gossiper().Listening(key.String()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	f.api.AddPost("bob", "news")
	f.app.Cache.InvalidateKind(storecache.KindPosts)

	rec := <-recs
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[listenResponse](t, rec)
	assert.Equal(t, key.String(), got.Key)
	assert.Greater(t, got.Version, snap.Version)
	assert.True(t, strings.Contains(rec.Body.String(), "news"))
}

func TestListenTimesOut(t *testing.T) {
	f := newFixture(t, Config{ListenTimeout: 50 * time.Millisecond})
	f.login(t)
	require.Equal(t, http.StatusOK, f.do(t, "GET", "/api/feed", nil).Code)
	snap, ok := f.app.Cache.Peek(storecache.Posts(1))
	require.True(t, ok)

	rec := f.do(t, "POST", "/api/listen", listenRequest{Key: snap.Key.String(), Version: snap.Version})
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/listen", listenRequest{}).Code)
}

func TestMetricsAndRobots(t *testing.T) {
	f := newFixture(t, Config{})
	f.do(t, "GET", "/api/session", nil)

	rec := f.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hearth_middleware_responses")

	rec = f.do(t, "GET", "/robots.txt", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Disallow: /")
	assert.Equal(t, "private, no-store", rec.Header().Get("Cache-Control"))
}

func TestCORS(t *testing.T) {
	f := newFixture(t, Config{AllowedOrigins: []string{"http://localhost:5173"}})
	req := httptest.NewRequest("GET", "/api/session", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	f.gw.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/api/session", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	f.gw.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
