package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "3s", want: 3 * time.Second},
		{in: "500ms", want: 500 * time.Millisecond},
		{in: "1d", want: 24 * time.Hour},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults("/home/ada")

	assert.Equal(t, "http://localhost:8000/api/", APIURL())
	assert.Equal(t, "/home/ada/.hearth/session", SessionFile())
	assert.Equal(t, 3*time.Second, ChatPoll())
	assert.Equal(t, 500*time.Millisecond, SearchDebounce())
	assert.Equal(t, 512, CacheSize())
	assert.Equal(t, []string{"http://localhost:5173"}, AllowedOrigins())
	assert.Empty(t, EventsURL())
}

func TestDurationFallsBack(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("chat_poll", "whenever")
	assert.Equal(t, 3*time.Second, ChatPoll())
}

func TestAllowedOriginsSplits(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("allowed_origins", "http://a.example, ,http://b.example")
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, AllowedOrigins())
}
