package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ts4z/hearth/app"
	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/config"
	"github.com/ts4z/hearth/gossip"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/session"
	"github.com/ts4z/hearth/state"
	"github.com/ts4z/hearth/storecache"
	"github.com/ts4z/hearth/views"
)

var (
	clock clockwork.Clock = clockwork.NewRealClock()

	feedPages int

	postContent    string
	postFile       string
	postVisibility string

	storyFile string

	follow bool

	profileBio      string
	profileLocation string
	profilePicture  string
	profileCover    string

	signupEmail string
	signupFirst string
	signupLast  string

	startOffset  time.Duration
	mintDuration time.Duration
	honorOffset  time.Duration
)

// action is a command body run against a built client.
type action func(ctx context.Context, a *app.App, args []string) error

// withApp builds the client from config, runs f, and then waits for any
// mutations still in flight so their outcome is reported before exit.
func withApp(needLogin bool, f action) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := app.FromConfig()
		opts.Clock = clock
		a, err := app.New(opts)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.Close(closeCtx); err != nil {
				zap.S().Warnf("hearth: %v", err)
			}
			printToasts(os.Stderr, a.Toasts.Drain())
		}()

		if needLogin {
			if err := a.RequireLogin(ctx); err != nil {
				return err
			}
		}
		return f(ctx, a, args)
	}
}

func loggedIn(f action) func(*cobra.Command, []string) error {
	return withApp(true, f)
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pwBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(pwBytes) == 0 {
		return "", fmt.Errorf("password is required")
	}
	return string(pwBytes), nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad id %q", s)
	}
	return id, nil
}

// openUpload opens path for upload.  The content type is left to be
// guessed from the name.
func openUpload(path string) (*state.Upload, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, func() {}, err
	}
	return &state.Upload{Name: filepath.Base(path), Reader: f}, func() { f.Close() }, nil
}

func postCard(ctx context.Context, a *app.App, id int64) (*views.PostCard, error) {
	p, err := cache.GetAs[*model.Post](ctx, a.Cache, storecache.Post(id))
	if err != nil {
		return nil, fmt.Errorf("can't load post %d: %w", id, err)
	}
	return a.Env.NewPostCard(p), nil
}

func login(ctx context.Context, a *app.App, args []string) error {
	pw, err := readPassword("Enter password: ")
	if err != nil {
		return err
	}
	u, err := a.Session.Login(ctx, args[0], pw)
	if err != nil {
		return errors.New(session.LoginMessage(err))
	}
	fmt.Printf("Logged in as %s.\n", u.Username)
	return nil
}

func logout(ctx context.Context, a *app.App, args []string) error {
	a.Session.Logout()
	fmt.Println("Logged out.")
	return nil
}

func whoami(ctx context.Context, a *app.App, args []string) error {
	u := a.Session.User()
	fmt.Printf("%s (%s)\n", u.Username, u.DisplayName())
	if u.Email != "" {
		fmt.Printf("email:  %s\n", u.Email)
	}
	if !u.DateJoined.IsZero() {
		fmt.Printf("joined: %s\n", u.DateJoined.Format(time.RFC3339))
	}
	return nil
}

func signup(ctx context.Context, a *app.App, args []string) error {
	if signupEmail == "" {
		return fmt.Errorf("email is required")
	}
	pw, err := readPassword("Enter password: ")
	if err != nil {
		return err
	}
	again, err := readPassword("Again: ")
	if err != nil {
		return err
	}
	if pw != again {
		return fmt.Errorf("passwords don't match")
	}
	u, err := a.Session.Signup(ctx, model.Signup{
		Username:  args[0],
		Email:     signupEmail,
		Password:  pw,
		FirstName: signupFirst,
		LastName:  signupLast,
	})
	if err != nil {
		return fmt.Errorf("signing up: %w", err)
	}
	fmt.Printf("User %q created.  Log in with: hearth login %s\n", u.Username, u.Username)
	return nil
}

func showFeed(ctx context.Context, a *app.App, args []string) error {
	feed := a.Env.NewFeed()
	defer feed.Unmount()
	if err := feed.Load(ctx); err != nil {
		return err
	}
	for feed.Pages() < feedPages {
		more, err := feed.LoadMore(ctx)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	printPosts(os.Stdout, clock.Now(), feed.Posts())
	if feed.HasMore() {
		fmt.Printf("\n(more with --pages %d)\n", feed.Pages()+1)
	}
	return nil
}

func createPost(ctx context.Context, a *app.App, args []string) error {
	file, done, err := openUpload(postFile)
	if err != nil {
		return err
	}
	defer done()
	p, err := a.Env.CreatePost(ctx, views.Draft{Content: postContent, Visibility: postVisibility, File: file})
	if err != nil {
		return err
	}
	fmt.Printf("Posted #%d.\n", p.ID)
	return nil
}

func likePost(ctx context.Context, a *app.App, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	ticket, err := a.Env.ToggleLikeID(ctx, id)
	if err != nil {
		return err
	}
	ls, err := ticket.Wait(ctx)
	if err != nil {
		return err
	}
	verb := "Unliked"
	if ls.Liked {
		verb = "Liked"
	}
	fmt.Printf("%s #%d (%d).\n", verb, id, ls.Count)
	return nil
}

func sharePost(ctx context.Context, a *app.App, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	card, err := postCard(ctx, a, id)
	if err != nil {
		return err
	}
	defer card.Unmount()
	p, err := card.Share(ctx, postContent)
	if err != nil {
		return err
	}
	fmt.Printf("Shared #%d as #%d.\n", id, p.ID)
	return nil
}

func editPost(ctx context.Context, a *app.App, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	card, err := postCard(ctx, a, id)
	if err != nil {
		return err
	}
	defer card.Unmount()
	if err := card.Edit(ctx, postContent); err != nil {
		return err
	}
	printPost(os.Stdout, clock.Now(), card.Post())
	return nil
}

func deletePost(ctx context.Context, a *app.App, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	card, err := postCard(ctx, a, id)
	if err != nil {
		return err
	}
	defer card.Unmount()
	if err := card.Delete(ctx); err != nil {
		return err
	}
	fmt.Printf("Deleted #%d.\n", id)
	return nil
}

func addComment(ctx context.Context, a *app.App, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	card, err := postCard(ctx, a, id)
	if err != nil {
		return err
	}
	defer card.Unmount()
	c, err := card.AddComment(ctx, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("Comment %d added to #%d.\n", c.ID, id)
	return nil
}

func editComment(ctx context.Context, a *app.App, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	commentID, err := parseID(args[1])
	if err != nil {
		return err
	}
	card, err := postCard(ctx, a, id)
	if err != nil {
		return err
	}
	defer card.Unmount()
	return card.EditComment(ctx, commentID, strings.Join(args[2:], " "))
}

func deleteComment(ctx context.Context, a *app.App, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	commentID, err := parseID(args[1])
	if err != nil {
		return err
	}
	card, err := postCard(ctx, a, id)
	if err != nil {
		return err
	}
	defer card.Unmount()
	return card.DeleteComment(ctx, commentID)
}

func stories(ctx context.Context, a *app.App, args []string) error {
	s := a.Env.NewStories()
	defer s.Unmount()
	if storyFile != "" {
		file, done, err := openUpload(storyFile)
		if err != nil {
			return err
		}
		defer done()
		story, err := s.Create(ctx, file)
		if err != nil {
			return err
		}
		fmt.Printf("Story #%d posted.\n", story.ID)
	}
	if err := s.Load(ctx); err != nil && len(s.Groups()) == 0 {
		return err
	}
	groups := s.Groups()
	if len(args) == 1 {
		g, ok := s.Group(args[0])
		if !ok {
			return fmt.Errorf("no stories from %s", args[0])
		}
		groups = []*model.StoryGroup{g}
	}
	printStories(os.Stdout, clock.Now(), groups)
	return nil
}

func loadFriends(ctx context.Context, a *app.App) (*views.Friends, error) {
	f := a.Env.NewFriends()
	if err := f.Load(ctx); err != nil {
		f.Unmount()
		return nil, err
	}
	return f, nil
}

func listFriends(ctx context.Context, a *app.App, args []string) error {
	f, err := loadFriends(ctx, a)
	if err != nil {
		return err
	}
	defer f.Unmount()
	printUsers(os.Stdout, f.Friends())
	return nil
}

func listRequests(ctx context.Context, a *app.App, args []string) error {
	f, err := loadFriends(ctx, a)
	if err != nil {
		return err
	}
	defer f.Unmount()
	printRequests(os.Stdout, clock.Now(), f.Incoming(), true)
	return nil
}

func listSent(ctx context.Context, a *app.App, args []string) error {
	f, err := loadFriends(ctx, a)
	if err != nil {
		return err
	}
	defer f.Unmount()
	printRequests(os.Stdout, clock.Now(), f.Sent(), false)
	return nil
}

func sendRequest(ctx context.Context, a *app.App, args []string) error {
	f := a.Env.NewFriends()
	defer f.Unmount()
	return f.Send(ctx, args[0])
}

// answerRequest accepts or rejects and waits for the server to agree.
func answerRequest(accept bool) action {
	return func(ctx context.Context, a *app.App, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		f, err := loadFriends(ctx, a)
		if err != nil {
			return err
		}
		defer f.Unmount()
		answer := f.Reject
		if accept {
			answer = f.Accept
		}
		ticket, err := answer(ctx, id)
		if err != nil {
			return err
		}
		status, err := ticket.Wait(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Request %d %s.\n", id, status)
		return nil
	}
}

func listConversations(ctx context.Context, a *app.App, args []string) error {
	users, err := a.Env.Conversations(ctx)
	if err != nil {
		return err
	}
	printUsers(os.Stdout, users)
	return nil
}

func history(ctx context.Context, a *app.App, args []string) error {
	c := a.Env.NewChat(args[0])
	defer c.Close()
	if !follow {
		if err := c.Load(ctx); err != nil {
			return err
		}
		for _, m := range c.Messages() {
			printMessage(os.Stdout, clock.Now(), m)
		}
		return nil
	}

	if err := c.Open(ctx); err != nil {
		return err
	}
	seen := map[int64]bool{}
	show := func() {
		for _, m := range c.Messages() {
			if m.IsPending() || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			printMessage(os.Stdout, clock.Now(), m)
		}
	}
	show()

	// Each poll that lands bumps the version; wait for the next one.
	key := storecache.Messages(args[0])
	for {
		var version int64
		if snap, ok := a.Cache.Peek(key); ok {
			version = snap.Version
		}
		errCh := make(chan error, 1)
		valueCh := make(chan gossip.Update, 1)
		go a.Cache.Listen(ctx, key, version, errCh, valueCh)
		select {
		case err := <-errCh:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case <-valueCh:
			show()
		case <-ctx.Done():
			return nil
		}
	}
}

func sendMessage(ctx context.Context, a *app.App, args []string) error {
	c := a.Env.NewChat(args[0])
	defer c.Close()
	m, err := c.Send(ctx, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	printMessage(os.Stdout, clock.Now(), m)
	return nil
}

func loadProfile(ctx context.Context, a *app.App, username string) (*views.Profile, error) {
	p := a.Env.NewProfile(username)
	if err := p.Load(ctx); err != nil {
		p.Unmount()
		return nil, err
	}
	return p, nil
}

func showProfile(ctx context.Context, a *app.App, args []string) error {
	p, err := loadProfile(ctx, a, args[0])
	if err != nil {
		return err
	}
	defer p.Unmount()
	printProfile(os.Stdout, p.Profile(), p.Relationship().String())
	if posts := p.Posts(); len(posts) > 0 {
		fmt.Println()
		printPosts(os.Stdout, clock.Now(), posts)
	}
	return nil
}

func updateProfile(cmd *cobra.Command) action {
	return func(ctx context.Context, a *app.App, args []string) error {
		p, err := loadProfile(ctx, a, a.Session.Username())
		if err != nil {
			return err
		}
		defer p.Unmount()

		pu := &state.ProfileUpdate{}
		if cmd.Flags().Changed("bio") {
			pu.Bio = &profileBio
		}
		if cmd.Flags().Changed("location") {
			pu.Location = &profileLocation
		}
		picture, donePicture, err := openUpload(profilePicture)
		if err != nil {
			return err
		}
		defer donePicture()
		cover, doneCover, err := openUpload(profileCover)
		if err != nil {
			return err
		}
		defer doneCover()
		pu.ProfilePicture, pu.CoverPhoto = picture, cover

		if err := p.Update(ctx, pu); err != nil {
			return err
		}
		printProfile(os.Stdout, p.Profile(), p.Relationship().String())
		return nil
	}
}

func search(ctx context.Context, a *app.App, args []string) error {
	users, err := a.Env.SearchUsers(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	printUsers(os.Stdout, users)
	return nil
}

func listKeys(cmd *cobra.Command, args []string) error {
	kr, err := session.LoadKeyRing(config.KeyRingFile())
	if err != nil {
		return fmt.Errorf("loading key ring: %w", err)
	}
	printKeys(os.Stdout, clock.Now(), kr)
	return nil
}

// rotateKeys drops expired keys and adds a new one.  The saved session is
// resealed with it the next time the token is saved.
func rotateKeys(cmd *cobra.Command, args []string) error {
	path := config.KeyRingFile()
	kr, err := session.LoadKeyRing(path)
	if err != nil {
		return fmt.Errorf("loading key ring: %w", err)
	}
	k, err := kr.Rotate(clock.Now(), startOffset, mintDuration, honorOffset)
	if err != nil {
		return err
	}
	if err := kr.Save(path); err != nil {
		return fmt.Errorf("saving key ring: %w", err)
	}

	fmt.Printf("Key rotation complete:\n")
	fmt.Printf("  Start minting: %v\n", k.Validity.MintFrom.Format(time.RFC3339))
	fmt.Printf("  Stop minting:  %v\n", k.Validity.MintUntil.Format(time.RFC3339))
	fmt.Printf("  Honor until:   %v\n", k.Validity.HonorUntil.Format(time.RFC3339))
	return nil
}
