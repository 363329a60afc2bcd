package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestRequestLoggerPassesThrough(t *testing.T) {
	tests := []struct {
		name string
		h    http.HandlerFunc
		code int
		body string
	}{
		{
			name: "implicit 200",
			h:    func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) },
			code: 200,
			body: "ok",
		},
		{
			name: "explicit code",
			h: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTeapot)
				w.Write([]byte("short and stout"))
			},
			code: http.StatusTeapot,
			body: "short and stout",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rl := NewRequestLogger(NoStore(tc.h), clockwork.NewFakeClock())
			rec := httptest.NewRecorder()
			rl.ServeHTTP(rec, httptest.NewRequest("GET", "/api/feed", nil))
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.body, rec.Body.String())
			assert.Equal(t, "private, no-store", rec.Header().Get("Cache-Control"))
		})
	}
}

func TestCodeWatcherKeepsFirstCode(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := &codeWatcher{w: rec}
	assert.Equal(t, 200, cw.Code())
	cw.WriteHeader(404)
	cw.WriteHeader(500)
	assert.Equal(t, 404, cw.Code())
	n, err := cw.Write([]byte("gone"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, cw.bytes)
	assert.Same(t, rec, cw.Unwrap())
}

func TestRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", remoteAddr(r))
	r.Header.Set("X-Forwarded-For", "192.0.2.7")
	assert.Equal(t, "192.0.2.7", remoteAddr(r))
}
