package changefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ts4z/hearth/varz"
)

var (
	connects    = varz.NewInt("ws_connects")
	disconnects = varz.NewInt("ws_disconnects")
	badFrames   = varz.NewInt("ws_bad_frames")
	polling     = varz.NewGauge("polling_fallback")
)

const (
	defaultMinBackoff  = time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultReadTimeout = 90 * time.Second
)

// WSSource reads events from a websocket.  While the socket is down it
// runs Fallback (if any) and redials with exponential backoff; once a dial
// succeeds the fallback stops.
type WSSource struct {
	URL string

	// Token returns the current session token; empty means anonymous.
	Token      func() string
	AuthScheme string

	Dialer   *websocket.Dialer
	Fallback *Poller
	Clock    clockwork.Clock

	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	ReadTimeout time.Duration
}

var _ Source = (*WSSource)(nil)

func (s *WSSource) clock() clockwork.Clock {
	if s.Clock == nil {
		return clockwork.NewRealClock()
	}
	return s.Clock
}

func (s *WSSource) header() http.Header {
	h := http.Header{}
	if s.Token == nil {
		return h
	}
	if tok := s.Token(); tok != "" {
		scheme := s.AuthScheme
		if scheme == "" {
			scheme = "Token"
		}
		h.Set("Authorization", scheme+" "+tok)
	}
	return h
}

// backoff is the delay between dials: doubling from lo up to hi, and back
// to lo once a dial succeeds.
type backoff struct {
	lo, hi, delay time.Duration
}

func newBackoff(lo, hi time.Duration) *backoff {
	if lo <= 0 {
		lo = defaultMinBackoff
	}
	if hi < lo {
		hi = max(defaultMaxBackoff, lo)
	}
	return &backoff{lo: lo, hi: hi, delay: lo}
}

func (b *backoff) next() time.Duration {
	d := b.delay
	b.delay = min(b.delay*2, b.hi)
	return d
}

func (b *backoff) reset() {
	b.delay = b.lo
}

// Run reads events until ctx is done.  It only returns ctx's error.
func (s *WSSource) Run(ctx context.Context, d *Dispatcher) error {
	var stopFallback func()
	stopPolling := func() {
		if stopFallback != nil {
			stopFallback()
			stopFallback = nil
			polling.Add(-1)
		}
	}
	defer stopPolling()

	bo := newBackoff(s.MinBackoff, s.MaxBackoff)
	for {
		err := s.session(ctx, d, func() {
			bo.reset()
			stopPolling()
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		disconnects.Add(1)
		delay := bo.next()
		if stopFallback == nil && s.Fallback != nil {
			zap.S().Warnf("changefeed: %s: %v; polling every %v until it comes back", s.URL, err, s.Fallback.Interval)
			stopFallback = s.Fallback.Start(ctx)
			polling.Add(1)
		} else {
			zap.S().Debugf("changefeed: %s: %v; retry in %v", s.URL, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock().After(delay):
		}
	}
}

// session dials once and reads until the connection fails.
func (s *WSSource) session(ctx context.Context, d *Dispatcher, connected func()) error {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, s.URL, s.header())
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (HTTP %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	connects.Add(1)
	zap.S().Infof("changefeed: connected to %s", s.URL)
	connected()

	readTimeout := s.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	var wg sync.WaitGroup
	done := make(chan struct{})
	defer wg.Wait()
	defer close(done)
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.ping(conn, readTimeout/2, done)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("server closed the connection")
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		ev, err := decodeEvent(msg)
		if err != nil {
			badFrames.Add(1)
			zap.S().Infof("changefeed: can't decode event %q: %v", msg, err)
			continue
		}
		d.Dispatch(ctx, ev)
	}
}

func (s *WSSource) ping(conn *websocket.Conn, every time.Duration, done <-chan struct{}) {
	ticker := s.clock().NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

// decodeEvent accepts ids as JSON strings or numbers.
func decodeEvent(msg []byte) (*Event, error) {
	var wire struct {
		Resource string `json:"resource"`
		ID       any    `json:"id"`
		Version  int64  `json:"version"`
		Deleted  bool   `json:"deleted"`
	}
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	if err := dec.Decode(&wire); err != nil {
		return nil, err
	}
	if wire.Resource == "" {
		return nil, errors.New("event has no resource")
	}
	ev := &Event{Resource: wire.Resource, Version: wire.Version, Deleted: wire.Deleted}
	switch id := wire.ID.(type) {
	case nil:
	case string:
		ev.ID = id
	case json.Number:
		ev.ID = id.String()
	default:
		return nil, fmt.Errorf("event id has unexpected type %T", wire.ID)
	}
	return ev, nil
}
