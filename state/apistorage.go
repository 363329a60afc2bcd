package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ts4z/hearth/he"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/varz"
)

var (
	requests       = varz.NewMap("requests", "status")
	requestSeconds = varz.NewHistogram("request_seconds", "method")
	unauthorized   = varz.NewInt("unauthorized")
)

// Responses bigger than this are a server bug, not a feed.
const maxResponseBytes = 16 << 20

// ErrResponseTooLarge is returned, as a transport error, for a response
// body over the limit.
var ErrResponseTooLarge = errors.New("response too large")

// Options configures an APIStorage.  Zero values get reasonable defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	AuthScheme string
	Timeout    time.Duration
	RateLimit  float64
	RateBurst  int
	// MaxResponseBytes caps a response body.  Zero means 16MiB.
	MaxResponseBytes int64
}

// APIStorage implements Storage against the REST API.
type APIStorage struct {
	base    *url.URL
	client  *http.Client
	scheme  string
	timeout time.Duration
	limiter *rate.Limiter
	tracer  trace.Tracer
	maxBody int64

	lock           sync.Mutex
	token          string
	onUnauthorized []func(error)
}

var _ Storage = &APIStorage{}

func NewAPIStorage(opts Options) (*APIStorage, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("bad API URL %q: %w", opts.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("bad API URL %q: want http or https", opts.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	s := &APIStorage{
		base:    base,
		client:  opts.HTTPClient,
		scheme:  opts.AuthScheme,
		timeout: opts.Timeout,
		tracer:  otel.Tracer("github.com/ts4z/hearth/state"),
		maxBody: opts.MaxResponseBytes,
	}
	if s.maxBody <= 0 {
		s.maxBody = maxResponseBytes
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	if s.scheme == "" {
		s.scheme = "Token"
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return s, nil
}

func (s *APIStorage) Close() {
	s.client.CloseIdleConnections()
}

// SetToken sets the token sent on every request.  Empty means anonymous.
func (s *APIStorage) SetToken(token string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.token = token
}

func (s *APIStorage) Token() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.token
}

// OnUnauthorized registers f to be called whenever the server answers 401
// to a request that carried a token.
func (s *APIStorage) OnUnauthorized(f func(error)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.onUnauthorized = append(s.onUnauthorized, f)
}

func (s *APIStorage) unauthorizedHooks() []func(error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]func(error){}, s.onUnauthorized...)
}

// body is something that can be sent.  Each attempt gets a fresh reader.
type body interface {
	contentType() string
	reader() (io.Reader, error)
}

type jsonBody struct {
	v any
}

func (j jsonBody) contentType() string { return "application/json" }

func (j jsonBody) reader() (io.Reader, error) {
	bs, err := json.Marshal(j.v)
	if err != nil {
		return nil, fmt.Errorf("can't encode request: %w", err)
	}
	return bytes.NewReader(bs), nil
}

type call struct {
	method string
	path   string
	query  url.Values
	body   body
	anon   bool
}

// endpoint resolves an already-escaped relative path against the API root.
func (s *APIStorage) endpoint(path string, query url.Values) string {
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}
	u := s.base.ResolveReference(ref)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends c and returns the raw response body of a 2xx.  Anything else
// comes back as a *he.APIError.
func (s *APIStorage) do(ctx context.Context, c call) ([]byte, error) {
	reqID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "hearth.api "+c.method+" "+c.path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", c.method),
			attribute.String("hearth.path", c.path),
			attribute.String("hearth.request_id", reqID),
		))
	defer span.End()

	data, code, err := s.roundTrip(ctx, c, reqID)
	span.SetAttributes(attribute.Int("http.status_code", code))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return data, err
}

func (s *APIStorage) roundTrip(ctx context.Context, c call, reqID string) ([]byte, int, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, 0, he.Transport(fmt.Errorf("rate limiter: %w", err))
		}
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var rd io.Reader
	if c.body != nil {
		var err error
		if rd, err = c.body.reader(); err != nil {
			return nil, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, c.method, s.endpoint(c.path, c.query), rd)
	if err != nil {
		return nil, 0, fmt.Errorf("can't build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if c.body != nil {
		req.Header.Set("Content-Type", c.body.contentType())
	}
	token := s.Token()
	if token != "" && !c.anon {
		req.Header.Set("Authorization", s.scheme+" "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	requestSeconds.WithLabelValues(c.method).Observe(time.Since(start).Seconds())
	if err != nil {
		requests.WithLabelValues("transport").Inc()
		zap.S().Debugf("api: %s %s: %v", c.method, c.path, err)
		return nil, 0, he.Transport(err)
	}
	defer resp.Body.Close()
	requests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return nil, resp.StatusCode, he.Transport(fmt.Errorf("reading response: %w", err))
	}
	if int64(len(data)) > s.maxBody {
		zap.S().Warnf("api: %s %s [%s]: response over %d bytes", c.method, c.path, reqID, s.maxBody)
		return nil, resp.StatusCode, he.Transport(fmt.Errorf("%s %s: %w", c.method, c.path, ErrResponseTooLarge))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := he.Classify(resp.StatusCode, data)
		zap.S().Debugf("api: %s %s [%s]: %v", c.method, c.path, reqID, apiErr)
		if apiErr.Kind == he.KindUnauthorized && token != "" && !c.anon {
			unauthorized.Add(1)
			for _, f := range s.unauthorizedHooks() {
				f(apiErr)
			}
		}
		return nil, resp.StatusCode, apiErr
	}
	return data, resp.StatusCode, nil
}

func decodeOne[T any](data []byte, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, errors.New("empty response")
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("can't decode response: %w", err)
	}
	return out, nil
}

func decodeList[T any](data []byte, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	return model.DecodeList[T](data)
}

func idPath(prefix string, id int64, suffix ...string) string {
	p := prefix + "/" + strconv.FormatInt(id, 10) + "/"
	for _, s := range suffix {
		p += s + "/"
	}
	return p
}

func userPath(prefix, username string, suffix ...string) string {
	p := prefix + "/" + url.PathEscape(username) + "/"
	for _, s := range suffix {
		p += s + "/"
	}
	return p
}

func (s *APIStorage) Login(ctx context.Context, creds model.Credentials) (string, error) {
	tr, err := decodeOne[model.TokenResponse](s.do(ctx, call{
		method: http.MethodPost,
		path:   "auth/login/",
		body:   jsonBody{creds},
		anon:   true,
	}))
	if err != nil {
		return "", err
	}
	if tr.Token == "" {
		return "", errors.New("login succeeded but no token came back")
	}
	return tr.Token, nil
}

func (s *APIStorage) Me(ctx context.Context) (*model.User, error) {
	return decodeOne[*model.User](s.do(ctx, call{method: http.MethodGet, path: "users/me/"}))
}

func (s *APIStorage) Signup(ctx context.Context, su model.Signup) (*model.User, error) {
	return decodeOne[*model.User](s.do(ctx, call{
		method: http.MethodPost,
		path:   "users/",
		body:   jsonBody{su},
		anon:   true,
	}))
}

func (s *APIStorage) FetchPostsPage(ctx context.Context, page int) (*model.Page[*model.Post], error) {
	if page < 1 {
		page = 1
	}
	return decodeOne[*model.Page[*model.Post]](s.do(ctx, call{
		method: http.MethodGet,
		path:   "posts/",
		query:  url.Values{"page": {strconv.Itoa(page)}},
	}))
}

func (s *APIStorage) FetchPost(ctx context.Context, id int64) (*model.Post, error) {
	return decodeOne[*model.Post](s.do(ctx, call{method: http.MethodGet, path: idPath("posts", id)}))
}

func (s *APIStorage) CreatePost(ctx context.Context, np *NewPost) (*model.Post, error) {
	mp := &multipartBody{}
	mp.field("content", np.Content)
	if np.Visibility != "" {
		mp.field("visibility", np.Visibility)
	}
	mp.file("image", np.Image)
	mp.file("video", np.Video)
	return decodeOne[*model.Post](s.do(ctx, call{method: http.MethodPost, path: "posts/", body: mp}))
}

func (s *APIStorage) EditPost(ctx context.Context, id int64, content string) (*model.Post, error) {
	return decodeOne[*model.Post](s.do(ctx, call{
		method: http.MethodPatch,
		path:   idPath("posts", id),
		body:   jsonBody{map[string]string{"content": content}},
	}))
}

func (s *APIStorage) DeletePost(ctx context.Context, id int64) error {
	_, err := s.do(ctx, call{method: http.MethodDelete, path: idPath("posts", id)})
	return err
}

func (s *APIStorage) ToggleLike(ctx context.Context, id int64) (*model.LikeResult, error) {
	return decodeOne[*model.LikeResult](s.do(ctx, call{method: http.MethodPost, path: idPath("posts", id, "like")}))
}

func (s *APIStorage) SharePost(ctx context.Context, id int64, content string) (*model.Post, error) {
	return decodeOne[*model.Post](s.do(ctx, call{
		method: http.MethodPost,
		path:   idPath("posts", id, "share"),
		body:   jsonBody{map[string]string{"content": content}},
	}))
}

func (s *APIStorage) AddComment(ctx context.Context, postID int64, content string) (*model.Comment, error) {
	return decodeOne[*model.Comment](s.do(ctx, call{
		method: http.MethodPost,
		path:   idPath("posts", postID, "comment"),
		body:   jsonBody{map[string]string{"content": content}},
	}))
}

func (s *APIStorage) EditComment(ctx context.Context, id int64, content string) (*model.Comment, error) {
	return decodeOne[*model.Comment](s.do(ctx, call{
		method: http.MethodPatch,
		path:   idPath("comments", id),
		body:   jsonBody{map[string]string{"content": content}},
	}))
}

func (s *APIStorage) DeleteComment(ctx context.Context, id int64) error {
	_, err := s.do(ctx, call{method: http.MethodDelete, path: idPath("comments", id)})
	return err
}

func (s *APIStorage) FetchStories(ctx context.Context) ([]*model.Story, error) {
	return decodeList[*model.Story](s.do(ctx, call{method: http.MethodGet, path: "stories/"}))
}

func (s *APIStorage) CreateStory(ctx context.Context, file *Upload) (*model.Story, error) {
	if file == nil {
		return nil, he.HTTPCodedErrorf(http.StatusBadRequest, "a story needs a file")
	}
	mp := &multipartBody{}
	mp.file("file", file)
	return decodeOne[*model.Story](s.do(ctx, call{method: http.MethodPost, path: "stories/", body: mp}))
}

func (s *APIStorage) FetchIncomingRequests(ctx context.Context) ([]*model.FriendRequest, error) {
	return decodeList[*model.FriendRequest](s.do(ctx, call{method: http.MethodGet, path: "friends/"}))
}

func (s *APIStorage) FetchSentRequests(ctx context.Context) ([]*model.FriendRequest, error) {
	return decodeList[*model.FriendRequest](s.do(ctx, call{method: http.MethodGet, path: "friends/sent/"}))
}

func (s *APIStorage) FetchFriends(ctx context.Context) ([]*model.User, error) {
	return decodeList[*model.User](s.do(ctx, call{method: http.MethodGet, path: "friends/list_friends/"}))
}

func (s *APIStorage) SendFriendRequest(ctx context.Context, username string) error {
	_, err := s.do(ctx, call{
		method: http.MethodPost,
		path:   "friends/send/",
		body:   jsonBody{map[string]string{"username": username}},
	})
	return err
}

func (s *APIStorage) AcceptFriendRequest(ctx context.Context, id int64) error {
	_, err := s.do(ctx, call{method: http.MethodPost, path: idPath("friends", id, "accept")})
	return err
}

func (s *APIStorage) RejectFriendRequest(ctx context.Context, id int64) error {
	_, err := s.do(ctx, call{method: http.MethodPost, path: idPath("friends", id, "reject")})
	return err
}

func (s *APIStorage) FetchConversations(ctx context.Context) ([]*model.User, error) {
	return decodeList[*model.User](s.do(ctx, call{method: http.MethodGet, path: "messages/conversations/"}))
}

func (s *APIStorage) FetchHistory(ctx context.Context, username string) ([]*model.Message, error) {
	return decodeList[*model.Message](s.do(ctx, call{
		method: http.MethodGet,
		path:   "messages/history/",
		query:  url.Values{"username": {username}},
	}))
}

func (s *APIStorage) SendMessage(ctx context.Context, toUsername, content string) (*model.Message, error) {
	return decodeOne[*model.Message](s.do(ctx, call{
		method: http.MethodPost,
		path:   "messages/",
		body:   jsonBody{map[string]string{"to_username": toUsername, "content": content}},
	}))
}

func (s *APIStorage) FetchProfile(ctx context.Context, username string) (*model.Profile, error) {
	return decodeOne[*model.Profile](s.do(ctx, call{method: http.MethodGet, path: userPath("profiles", username)}))
}

func (s *APIStorage) FetchProfilePosts(ctx context.Context, username string) ([]*model.Post, error) {
	return decodeList[*model.Post](s.do(ctx, call{method: http.MethodGet, path: userPath("profiles", username, "posts")}))
}

func (s *APIStorage) UpdateProfile(ctx context.Context, username string, pu *ProfileUpdate) (*model.Profile, error) {
	mp := &multipartBody{}
	if pu.Bio != nil {
		mp.field("bio", *pu.Bio)
	}
	if pu.Location != nil {
		mp.field("location", *pu.Location)
	}
	mp.file("profile_picture", pu.ProfilePicture)
	mp.file("cover_photo", pu.CoverPhoto)
	return decodeOne[*model.Profile](s.do(ctx, call{
		method: http.MethodPatch,
		path:   userPath("profiles", username),
		body:   mp,
	}))
}

func (s *APIStorage) FetchUsers(ctx context.Context) ([]*model.User, error) {
	return decodeList[*model.User](s.do(ctx, call{method: http.MethodGet, path: "users/"}))
}

func (s *APIStorage) SearchUsers(ctx context.Context, query string) ([]*model.User, error) {
	return decodeList[*model.User](s.do(ctx, call{
		method: http.MethodGet,
		path:   "users/",
		query:  url.Values{"search": {query}},
	}))
}
