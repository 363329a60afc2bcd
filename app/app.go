/*
Package app wires a client together: API storage, the cache in front of it,
the session, toasts and the views.  Both hearth and hearthd build one of
these and then only talk to its parts.
*/
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/changefeed"
	"github.com/ts4z/hearth/config"
	"github.com/ts4z/hearth/session"
	"github.com/ts4z/hearth/state"
	"github.com/ts4z/hearth/storecache"
	"github.com/ts4z/hearth/toast"
	"github.com/ts4z/hearth/ts"
	"github.com/ts4z/hearth/views"
)

// DefaultWatchInterval is how often Watch polls when nothing is pushed.
const DefaultWatchInterval = 30 * time.Second

type Options struct {
	APIURL     string
	EventsURL  string
	AuthScheme string

	SessionFile string
	KeyRingFile string
	// Jar overrides SessionFile and KeyRingFile.
	Jar session.Jar

	CacheSize      int
	StaleAfter     time.Duration
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
	ChatPoll       time.Duration
	SearchDebounce time.Duration
	WatchInterval  time.Duration

	HTTPClient *http.Client
	Clock      clockwork.Clock
	ToastLimit int
}

// FromConfig reads Options from viper.  config.Init must have run.
func FromConfig() Options {
	return Options{
		APIURL:         config.APIURL(),
		EventsURL:      config.EventsURL(),
		AuthScheme:     config.AuthScheme(),
		SessionFile:    config.SessionFile(),
		KeyRingFile:    config.KeyRingFile(),
		CacheSize:      config.CacheSize(),
		StaleAfter:     config.StaleAfter(),
		RequestTimeout: config.RequestTimeout(),
		RateLimit:      config.RateLimit(),
		RateBurst:      config.RateBurst(),
		ChatPoll:       config.ChatPoll(),
		SearchDebounce: config.SearchDebounce(),
	}
}

type App struct {
	Clock   *ts.Clock
	API     *state.APIStorage
	Cache   *cache.Cache
	Store   *storecache.Storage
	Session *session.Session
	Toasts  *toast.Queue
	Env     *views.Env

	eventsURL  string
	authScheme string
	interval   time.Duration
}

// forgetter empties everything kept on the user's behalf at logout.
type forgetter struct {
	app *App
}

func (f forgetter) Clear() {
	f.app.Cache.Clear()
	if f.app.Env != nil {
		f.app.Env.Reset()
	}
}

func New(opts Options) (*App, error) {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.Jar == nil && (opts.SessionFile == "" || opts.KeyRingFile == "") {
		return nil, errors.New("no session file configured")
	}
	api, err := state.NewAPIStorage(state.Options{
		BaseURL:    opts.APIURL,
		HTTPClient: opts.HTTPClient,
		AuthScheme: opts.AuthScheme,
		Timeout:    opts.RequestTimeout,
		RateLimit:  opts.RateLimit,
		RateBurst:  opts.RateBurst,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		Clock:      ts.NewClock(clock),
		API:        api,
		eventsURL:  opts.EventsURL,
		authScheme: opts.AuthScheme,
		interval:   opts.WatchInterval,
	}
	if a.interval <= 0 {
		a.interval = DefaultWatchInterval
	}
	a.Cache = cache.New(cache.Options{
		Size:         opts.CacheSize,
		StaleAfter:   opts.StaleAfter,
		FetchTimeout: opts.RequestTimeout,
		Clock:        clock,
	})
	a.Store = storecache.New(a.Cache, api)
	a.Toasts = toast.NewQueue(opts.ToastLimit, a.Clock)

	jar := opts.Jar
	if jar == nil {
		jar = session.NewTokenJar(opts.SessionFile, opts.KeyRingFile, a.Clock)
	}
	a.Session = session.New(session.Options{
		Client: api,
		Jar:    jar,
		Cache:  forgetter{app: a},
		Sink:   a.Toasts,
	})
	a.Env = views.NewEnv(views.Options{
		Store:          a.Store,
		Me:             a.Session,
		Sink:           a.Toasts,
		Clock:          clock,
		ChatPoll:       opts.ChatPoll,
		SearchDebounce: opts.SearchDebounce,
	})
	return a, nil
}

// Restore logs back in with the saved token, if there is one.
func (a *App) Restore(ctx context.Context) error {
	_, err := a.Session.Restore(ctx)
	return err
}

// RequireLogin restores the session and fails if nobody is logged in.
func (a *App) RequireLogin(ctx context.Context) error {
	if err := a.Restore(ctx); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return fmt.Errorf("not logged in; run hearth login")
		}
		return err
	}
	return nil
}

// Watch keeps the cache current until ctx is done: from the websocket
// change feed if one is configured, polling the busy keys otherwise.
func (a *App) Watch(ctx context.Context) error {
	poller := &changefeed.Poller{
		Cache:    a.Cache,
		Keys:     changefeed.DefaultPollKeys(),
		Interval: a.interval,
	}
	var src changefeed.Source = poller
	if a.eventsURL != "" {
		src = &changefeed.WSSource{
			URL:        a.eventsURL,
			Token:      a.API.Token,
			AuthScheme: a.authScheme,
			Fallback:   poller,
			Clock:      a.Clock.RealClock(),
		}
		zap.S().Infof("app: watching %s", a.eventsURL)
	} else {
		zap.S().Infof("app: no change feed; polling every %v", a.interval)
	}
	return src.Run(ctx, changefeed.NewHearthDispatcher(a.Cache))
}

// Close waits (until ctx is done) for optimistic writes to land, then shuts
// the cache and API client down.
func (a *App) Close(ctx context.Context) error {
	err := a.Env.Wait(ctx)
	a.Cache.Close()
	a.API.Close()
	return err
}
