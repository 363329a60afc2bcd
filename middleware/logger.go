// Package middleware wraps the gateway's handlers.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ts4z/hearth/varz"
)

var (
	served        = varz.NewMap("responses", "code")
	serverSeconds = varz.NewHistogram("response_seconds", "method")
)

type Clock interface {
	Now() time.Time
}

// RequestLogger logs every request once it has been answered.
type RequestLogger struct {
	next  http.Handler
	clock Clock
}

func NewRequestLogger(next http.Handler, clock Clock) *RequestLogger {
	return &RequestLogger{next: next, clock: clock}
}

func remoteAddr(r *http.Request) string {
	if r.Header.Get("X-Forwarded-For") != "" {
		return r.Header.Get("X-Forwarded-For")
	}
	return r.RemoteAddr
}

func (rl *RequestLogger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := rl.clock.Now()
	ww := &codeWatcher{w: w}
	rl.next.ServeHTTP(ww, r)
	code := ww.Code()
	duration := rl.clock.Now().Sub(start)
	served.WithLabelValues(strconv.Itoa(code)).Inc()
	serverSeconds.WithLabelValues(r.Method).Observe(duration.Seconds())
	zap.L().Info("access",
		zap.Int("code", code),
		zap.String("method", r.Method),
		zap.String("remote", remoteAddr(r)),
		zap.String("path", r.URL.Path),
		zap.Int("bytes", ww.bytes),
		zap.Duration("duration", duration))
}

// NoStore marks every response as uncacheable.  Gateway state is per
// session and changes under the client's feet.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "private, no-store")
		next.ServeHTTP(w, r)
	})
}
