package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ts4z/hearth/app"
	"github.com/ts4z/hearth/config"
	"github.com/ts4z/hearth/fakes"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/session"
	"github.com/ts4z/hearth/toast"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func strp(s string) *string { return &s }

func TestPrintPost(t *testing.T) {
	ada := &model.User{ID: 1, Username: "ada"}
	bob := &model.User{ID: 2, Username: "bob"}
	p := &model.Post{
		ID:         7,
		User:       ada,
		Content:    "first line\nsecond line",
		ImageURL:   strp("http://img/1.png"),
		Visibility: model.VisibilityPrivate,
		CreatedAt:  now.Add(-2 * time.Hour),
		LikesCount: 3,
		IsLiked:    true,
		Comments: []*model.Comment{
			{ID: 9, User: bob, Content: "nice\n  one"},
		},
	}
	var buf bytes.Buffer
	printPost(&buf, now, p)
	out := buf.String()
	for _, want := range []string{
		"#7 ada, 2h (private)\n",
		"  first line\n  second line\n",
		"  [image] http://img/1.png\n",
		"  ♥ 3  1 comment\n",
		"    [9] bob: nice one\n",
	} {
		assert.Contains(t, out, want)
	}
}

func TestPrintPostsEmpty(t *testing.T) {
	var buf bytes.Buffer
	printPosts(&buf, now, nil)
	assert.Equal(t, "No posts yet.\n", buf.String())
}

func TestPrintRequests(t *testing.T) {
	fr := &model.FriendRequest{
		ID:        4,
		FromUser:  &model.User{Username: "carol"},
		ToUser:    &model.User{Username: "ada"},
		CreatedAt: now.Add(-3 * 24 * time.Hour),
	}
	tests := []struct {
		name     string
		incoming bool
		want     []string
		dontWant string
	}{
		{name: "incoming", incoming: true, want: []string{"from", "carol", "3d"}, dontWant: "ada"},
		{name: "sent", incoming: false, want: []string{"to", "ada", "3d"}, dontWant: "carol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printRequests(&buf, now, []*model.FriendRequest{fr}, tt.incoming)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
			assert.NotContains(t, buf.String(), tt.dontWant)
		})
	}
}

func TestPrintMessageMarksPending(t *testing.T) {
	var buf bytes.Buffer
	printMessage(&buf, now, &model.Message{
		Sender:    &model.User{Username: "ada"},
		Content:   "hi",
		Timestamp: now,
		PendingID: "x",
	})
	assert.Equal(t, "[just now] ada: hi (sending)\n", buf.String())
}

func TestPrintToasts(t *testing.T) {
	var buf bytes.Buffer
	printToasts(&buf, []toast.Toast{
		{Level: toast.Error, Message: "Failed to send message"},
		{Level: toast.Success, Title: "Friends", Message: "Request sent"},
	})
	assert.Equal(t, "error: Failed to send message\nsuccess: Friends: Request sent\n", buf.String())
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "12", want: 12},
		{in: "0", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// setup points the config at a temp dir and, if api is set, at it.
func setup(t *testing.T, api *fakes.API) string {
	t.Helper()
	dir := t.TempDir()
	viper.Reset()
	t.Cleanup(viper.Reset)
	config.SetDefaults(dir)
	viper.Set("keyring_file", filepath.Join(dir, "keys.yaml"))
	viper.Set("session_file", filepath.Join(dir, "session"))
	if api != nil {
		viper.Set("api_url", api.BaseURL())
	}
	return dir
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestKeyRotate(t *testing.T) {
	setup(t, nil)
	require.NoError(t, run(t, "key", "rotate", "--mint-duration", "10d", "--honor-offset", "1d"))
	require.NoError(t, run(t, "key", "rotate"))

	kr, err := session.LoadKeyRing(config.KeyRingFile())
	require.NoError(t, err)
	require.Len(t, kr.Keys, 2)
	first := kr.Keys[0].Validity
	assert.Equal(t, 10*24*time.Hour, first.MintUntil.Sub(first.MintFrom))
	assert.Equal(t, 24*time.Hour, first.HonorUntil.Sub(first.MintUntil))
	second := kr.Keys[1].Validity
	assert.Equal(t, session.DefaultMintDuration, second.MintUntil.Sub(second.MintFrom))

	var buf bytes.Buffer
	printKeys(&buf, clock.Now(), kr)
	assert.Contains(t, buf.String(), "active")
}

func TestKeyRotateRejectsBadDuration(t *testing.T) {
	setup(t, nil)
	assert.Error(t, run(t, "key", "rotate", "--mint-duration", "soon"))
}

func TestCommandsNeedLogin(t *testing.T) {
	api := fakes.NewAPI()
	api.Start()
	defer api.Close()
	setup(t, api)

	for _, args := range [][]string{
		{"whoami"},
		{"feed"},
		{"friends", "list"},
		{"messages", "send", "bob", "hi"},
	} {
		err := run(t, args...)
		assert.ErrorContains(t, err, "not logged in", "%v", args)
	}
	assert.Zero(t, api.Calls("GET", "posts/"))
}

func TestArgsAreChecked(t *testing.T) {
	setup(t, nil)
	assert.Error(t, run(t, "post", "like"))
	assert.Error(t, run(t, "comment", "edit", "1", "2"))
	assert.Error(t, run(t, "stories", "bob", "carol"))
}

func TestStoriesForOneUser(t *testing.T) {
	api := fakes.NewAPI()
	api.Start()
	defer api.Close()
	api.AddUser("ada", "pw")
	api.AddUser("bob", "pw")
	api.AddStory("bob", "/media/a.jpg", time.Now().Add(-time.Hour))

	a, err := app.New(app.Options{APIURL: api.BaseURL(), Jar: &session.MemJar{}})
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, a.Close(ctx))
	}()
	ctx := context.Background()
	_, err = a.Session.Login(ctx, "ada", "pw")
	require.NoError(t, err)

	assert.NoError(t, stories(ctx, a, []string{"bob"}))
	assert.EqualError(t, stories(ctx, a, []string{"carol"}), "no stories from carol")
	assert.NoError(t, stories(ctx, a, nil))
}
