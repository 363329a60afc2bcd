// Package he classifies errors coming back from the hearth API, and sends
// errors on to HTTP clients of the gateway.
package he

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Kind is the error taxonomy views care about.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransport
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
	KindServer
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindTransport:    "transport",
	KindValidation:   "validation",
	KindUnauthorized: "unauthorized",
	KindForbidden:    "forbidden",
	KindNotFound:     "not found",
	KindConflict:     "conflict",
	KindRateLimited:  "rate limited",
	KindServer:       "server",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// APIError is any failed API call.  Code is zero for transport failures.
type APIError struct {
	Kind    Kind
	Code    int
	Message string
	Fields  map[string][]string
	err     error
}

func (e *APIError) Error() string {
	if e.Code == 0 {
		if e.err != nil {
			return fmt.Sprintf("%s error: %v", e.Kind, e.err)
		}
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("%d %s: %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Kind)
}

func (e *APIError) Unwrap() error {
	return e.err
}

// HTTPCodedErrorf builds an error that carries an HTTP status.  The gateway
// uses these to pick a response code.
func HTTPCodedErrorf(code int, f string, more ...any) *APIError {
	return &APIError{
		Kind:    kindForStatus(code),
		Code:    code,
		Message: fmt.Sprintf(f, more...),
	}
}

// Transport wraps a failure to get any response at all.
func Transport(err error) *APIError {
	return &APIError{Kind: KindTransport, err: err}
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized:
		return KindUnauthorized
	case code == http.StatusForbidden:
		return KindForbidden
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusConflict:
		return KindConflict
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindValidation
	}
	return KindUnknown
}

// Classify turns a non-2xx response into an APIError.  The body is whatever
// the server sent; the server reports errors as {"detail": ...},
// {"error": ...}, {"non_field_errors": [...]}, per-field lists, or a bare
// list of strings.
func Classify(code int, body []byte) *APIError {
	e := &APIError{Kind: kindForStatus(code), Code: code}
	parseBody(e, body)

	// The server reports duplicate requests as a 400.
	if e.Kind == KindValidation && looksLikeConflict(e.Message) {
		e.Kind = KindConflict
	}
	return e
}

func looksLikeConflict(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "already")
}

func parseBody(e *APIError, body []byte) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return
	}

	var list []string
	if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
		e.Message = strings.Join(list, "; ")
		return
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		if len(trimmed) > 200 {
			trimmed = trimmed[:200]
		}
		e.Message = trimmed
		return
	}

	for _, k := range []string{"detail", "error"} {
		if raw, ok := obj[k]; ok {
			var s string
			if json.Unmarshal(raw, &s) == nil {
				e.Message = s
			}
			delete(obj, k)
		}
	}

	for k, raw := range obj {
		msgs := decodeMessages(raw)
		if len(msgs) == 0 {
			continue
		}
		if k == "non_field_errors" {
			if e.Message == "" {
				e.Message = msgs[0]
			}
			continue
		}
		if e.Fields == nil {
			e.Fields = map[string][]string{}
		}
		e.Fields[k] = msgs
	}

	if e.Message == "" && len(e.Fields) > 0 {
		e.Message = e.fieldSummary()
	}
}

func decodeMessages(raw json.RawMessage) []string {
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	return nil
}

func (e *APIError) fieldSummary() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := []string{}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], " ")))
	}
	return strings.Join(parts, "; ")
}

// KindOf digs the Kind out of any error chain.
func KindOf(err error) Kind {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}

func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// UserMessage is the text a view shows in a toast or inline.  fallback is
// used when the server didn't say anything useful.
func UserMessage(err error, fallback string) string {
	var ae *APIError
	if !errors.As(err, &ae) {
		return fallback
	}
	switch ae.Kind {
	case KindTransport:
		return "Can't reach the server. Check your connection."
	case KindUnauthorized:
		return "Your session has expired. Please log in again."
	case KindRateLimited:
		return "Slow down! Try again in a moment."
	}
	if ae.Message != "" {
		return ae.Message
	}
	return fallback
}

// SendErrorToHTTPClient sends err as an HTTP error.  If it carries a code, the
// client gets that; otherwise the client gets 500 and it's on us.
func SendErrorToHTTPClient(w http.ResponseWriter, while string, err error) {
	code := http.StatusInternalServerError
	var ae *APIError
	if errors.As(err, &ae) {
		switch {
		case ae.Code != 0:
			code = ae.Code
		case ae.Kind == KindTransport:
			code = http.StatusBadGateway
		}
	}
	txt := fmt.Sprintf("can't %s: %v", while, err)
	zap.S().Infof("%d: %s", code, txt)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]any{"error": txt}
	if ae != nil && len(ae.Fields) > 0 {
		body["fields"] = ae.Fields
	}
	json.NewEncoder(w).Encode(body)
}
