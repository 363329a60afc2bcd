package cache

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Key is a query identity: a resource kind plus its parameters, rendered
// canonically ("posts?page=2", "messages?with=bob").  Two reads with the
// same kind and parameters always share an entry.
type Key string

// NewKey builds a key from a kind and name/value pairs.
func NewKey(kind string, params ...any) Key {
	if len(params)%2 != 0 {
		panic(fmt.Sprintf("cache: odd params for key %s: %v", kind, params))
	}
	if len(params) == 0 {
		return Key(kind)
	}
	v := url.Values{}
	for i := 0; i < len(params); i += 2 {
		v.Set(fmt.Sprint(params[i]), fmt.Sprint(params[i+1]))
	}
	return Key(kind + "?" + v.Encode())
}

func (k Key) Kind() string {
	kind, _, _ := strings.Cut(string(k), "?")
	return kind
}

func (k Key) Param(name string) string {
	_, q, ok := strings.Cut(string(k), "?")
	if !ok {
		return ""
	}
	v, err := url.ParseQuery(q)
	if err != nil {
		return ""
	}
	return v.Get(name)
}

// IntParam is Param parsed as an integer; junk is zero.
func (k Key) IntParam(name string) int64 {
	n, _ := strconv.ParseInt(k.Param(name), 10, 64)
	return n
}

func (k Key) String() string {
	return string(k)
}
