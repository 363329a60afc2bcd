// Package config handles settings shared by hearth and hearthd: where the API
// lives, where the session is kept, and how hard to poll.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"maze.io/x/duration"
)

// Viper-based config loader
func Init() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	viper.SetConfigType("yaml")
	viper.SetConfigName(".hearth")
	viper.AddConfigPath(home)
	viper.AutomaticEnv()
	for _, key := range []string{
		"api_url", "events_url", "listen_address", "allowed_origins",
		"session_file", "keyring_file", "cache_size", "stale_after",
		"chat_poll", "search_debounce", "rate_limit", "rate_burst",
		"request_timeout", "auth_scheme", "dev",
	} {
		viper.BindEnv(key, "HEARTH_"+strings.ToUpper(key))
	}
	SetDefaults(home)
	err = viper.ReadInConfig() // ignore error if config file missing
	if err != nil {
		zap.S().Debugf("config: can't read config file: %v", err)
	}
	zap.S().Debugf("config: using API URL: %s", APIURL())
}

// SetDefaults installs defaults without reading anything.  Tests use this
// directly.
func SetDefaults(home string) {
	viper.SetDefault("api_url", "http://localhost:8000/api/")
	viper.SetDefault("events_url", "")
	viper.SetDefault("listen_address", ":8081")
	viper.SetDefault("allowed_origins", "http://localhost:5173")
	viper.SetDefault("session_file", filepath.Join(home, ".hearth", "session"))
	viper.SetDefault("keyring_file", filepath.Join(home, ".hearth", "keys.yaml"))
	viper.SetDefault("cache_size", 512)
	viper.SetDefault("stale_after", "30s")
	viper.SetDefault("chat_poll", "3s")
	viper.SetDefault("search_debounce", "500ms")
	viper.SetDefault("rate_limit", 10.0)
	viper.SetDefault("rate_burst", 20)
	viper.SetDefault("request_timeout", "15s")
	viper.SetDefault("auth_scheme", "Token")
	viper.SetDefault("dev", false)
}

func APIURL() string {
	return viper.GetString("api_url")
}

// EventsURL is the websocket change feed.  Empty means poll only.
func EventsURL() string {
	return viper.GetString("events_url")
}

func ListenAddress() string {
	return viper.GetString("listen_address")
}

func AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(viper.GetString("allowed_origins"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func SessionFile() string {
	return viper.GetString("session_file")
}

func KeyRingFile() string {
	return viper.GetString("keyring_file")
}

func CacheSize() int {
	if n := viper.GetInt("cache_size"); n > 0 {
		return n
	}
	return 512
}

func StaleAfter() time.Duration {
	return Duration("stale_after", 30*time.Second)
}

func ChatPoll() time.Duration {
	return Duration("chat_poll", 3*time.Second)
}

func SearchDebounce() time.Duration {
	return Duration("search_debounce", 500*time.Millisecond)
}

func RequestTimeout() time.Duration {
	return Duration("request_timeout", 15*time.Second)
}

// RateLimit is requests per second to the API.
func RateLimit() float64 {
	return viper.GetFloat64("rate_limit")
}

func RateBurst() int {
	return viper.GetInt("rate_burst")
}

// AuthScheme is the word in front of the token in the Authorization header.
func AuthScheme() string {
	return viper.GetString("auth_scheme")
}

func Dev() bool {
	return viper.GetBool("dev")
}

// Duration reads key as a duration, accepting both Go syntax ("90s") and
// day/week suffixes ("1d").  Garbage falls back to def.
func Duration(key string, def time.Duration) time.Duration {
	s := strings.TrimSpace(viper.GetString(key))
	if s == "" {
		return def
	}
	d, err := ParseDuration(s)
	if err != nil {
		zap.S().Warnf("config: bad duration for %s: %q, using %v", key, s, def)
		return def
	}
	return d
}

func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	d, err := duration.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(d), nil
}
