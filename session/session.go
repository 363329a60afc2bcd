/*
Package session is who the client is logged in as.

A Session is passed to whatever needs it rather than living in a global.
It owns the token: it saves it to the TokenJar, hands it to the API client,
and throws everything away on logout.  A 401 on a request that carried the
token forces a logout; there is no refresh.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ts4z/hearth/dep"
	"github.com/ts4z/hearth/he"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/state"
	"github.com/ts4z/hearth/toast"
	"github.com/ts4z/hearth/varz"
)

var (
	logins       = varz.NewInt("logins")
	loginFails   = varz.NewInt("login_failures")
	forcedLogout = varz.NewInt("forced_logouts")
)

const (
	LoginFailed  = "Login failed"
	SignupFailed = "Signup failed"
)

// Client is the API client as the session sees it.  *state.APIStorage
// implements it.
type Client interface {
	state.AuthStorage
	SetToken(token string)
	Token() string
	OnUnauthorized(f func(error))
}

type Jar interface {
	Save(token string) error
	Load() (string, error)
	Clear() error
}

// Clearer is the cache, which is emptied at logout.
type Clearer interface {
	Clear()
}

type Options struct {
	Client Client
	Jar    Jar
	Cache  Clearer
	Sink   toast.Sink
}

type Session struct {
	lock      sync.Mutex
	client    Client
	jar       Jar
	cache     Clearer
	sink      toast.Sink
	user      *model.User
	listeners []func(*model.User)
}

func New(opts Options) *Session {
	s := &Session{
		client: dep.Required(opts.Client),
		jar:    dep.Required(opts.Jar),
		cache:  opts.Cache,
		sink:   opts.Sink,
	}
	if s.sink == nil {
		s.sink = toast.Discard
	}
	s.client.OnUnauthorized(func(err error) {
		s.ForceLogout(err)
	})
	return s
}

// OnChange registers f to hear logins and logouts.  f gets nil on logout.
func (s *Session) OnChange(f func(*model.User)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.listeners = append(s.listeners, f)
}

func (s *Session) setUser(u *model.User) {
	s.lock.Lock()
	s.user = u
	listeners := append([]func(*model.User){}, s.listeners...)
	s.lock.Unlock()
	for _, f := range listeners {
		f(u.Clone())
	}
}

// User is a copy of the logged in user, or nil.
func (s *Session) User() *model.User {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.user.Clone()
}

func (s *Session) Username() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.Username
}

func (s *Session) Token() string {
	return s.client.Token()
}

func (s *Session) LoggedIn() bool {
	return s.Token() != ""
}

// Restore picks up the saved token and loads the user it belongs to.  If
// the server refuses the token it is thrown away.  If the server can't be
// reached the token is kept for next time.
func (s *Session) Restore(ctx context.Context) (*model.User, error) {
	tok, err := s.jar.Load()
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			zap.S().Warnf("session: %v", err)
		}
		return nil, ErrNoSession
	}
	s.client.SetToken(tok)
	u, err := s.client.Me(ctx)
	if err != nil {
		// A 401 has already been through ForceLogout.
		if !he.IsUnauthorized(err) {
			zap.S().Infof("session: can't restore: %v", err)
		}
		return nil, err
	}
	s.setUser(u)
	return u.Clone(), nil
}

// Login exchanges credentials for a token, saves it, and loads the user.
// The error's user message is the server's reason, or LoginFailed.
func (s *Session) Login(ctx context.Context, username, password string) (*model.User, error) {
	tok, err := s.client.Login(ctx, model.Credentials{Username: username, Password: password})
	if err != nil {
		loginFails.Add(1)
		return nil, err
	}
	s.client.SetToken(tok)
	if err := s.jar.Save(tok); err != nil {
		// The session still works; it just won't survive a restart.
		zap.S().Warnf("session: %v", err)
	}
	u, err := s.client.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("logged in but can't load user: %w", err)
	}
	logins.Add(1)
	zap.S().Infof("session: logged in as %s", u.Username)
	s.setUser(u)
	return u.Clone(), nil
}

// LoginMessage is what to show for a failed Login.
func LoginMessage(err error) string {
	return he.UserMessage(err, LoginFailed)
}

// Signup creates an account.  It does not log in.
func (s *Session) Signup(ctx context.Context, su model.Signup) (*model.User, error) {
	return s.client.Signup(ctx, su)
}

// RefreshUser reloads the logged in user (after a profile edit, say).
func (s *Session) RefreshUser(ctx context.Context) (*model.User, error) {
	if !s.LoggedIn() {
		return nil, ErrNoSession
	}
	u, err := s.client.Me(ctx)
	if err != nil {
		return nil, err
	}
	s.setUser(u)
	return u.Clone(), nil
}

// Logout forgets the token, the user, and everything cached on their
// behalf.
func (s *Session) Logout() {
	s.client.SetToken("")
	if err := s.jar.Clear(); err != nil {
		zap.S().Warnf("session: %v", err)
	}
	if s.cache != nil {
		s.cache.Clear()
	}
	s.setUser(nil)
}

// ForceLogout is Logout because the server stopped accepting the token.
// Concurrent 401s log out once.
func (s *Session) ForceLogout(cause error) {
	s.lock.Lock()
	if s.client.Token() == "" {
		s.lock.Unlock()
		return
	}
	s.client.SetToken("")
	s.lock.Unlock()

	forcedLogout.Add(1)
	zap.S().Infof("session: forced logout: %v", cause)
	s.Logout()
	s.sink.Post(toast.Toast{Level: toast.Warning, Message: he.UserMessage(cause, "Your session has expired. Please log in again.")})
}
