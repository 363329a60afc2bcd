package views

import (
	"context"
	"sync"

	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/state"
	"github.com/ts4z/hearth/storecache"
)

// Stories is the story tray: the last day's stories grouped by author.
type Stories struct {
	Lifetime
	notifier

	env *Env

	lock    sync.Mutex
	stories []*model.Story
	err     error
}

func (e *Env) NewStories() *Stories {
	s := &Stories{env: e}
	s.Mount()
	return s
}

func (s *Stories) Load(ctx context.Context) error {
	gen := s.Generation()
	stories, snap, err := readList[*model.Story](ctx, s.env.cache, storecache.Stories())
	if !s.Current(gen) {
		return ErrUnmounted
	}
	s.lock.Lock()
	if snap.Has() {
		s.stories = stories
	}
	s.err = err
	s.lock.Unlock()
	s.changed()
	if snap.Has() {
		return nil
	}
	return err
}

// Groups is the tray, one group per author in the order the server listed
// them.
func (s *Stories) Groups() []*model.StoryGroup {
	s.lock.Lock()
	defer s.lock.Unlock()
	return model.GroupStoriesByUser(s.stories)
}

// Group is username's stories, if the tray has any.
func (s *Stories) Group(username string) (*model.StoryGroup, bool) {
	for _, g := range s.Groups() {
		if g.User != nil && g.User.Username == username {
			return g, true
		}
	}
	return nil, false
}

func (s *Stories) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.err
}

// Create uploads a story and reloads the tray.
func (s *Stories) Create(ctx context.Context, file *state.Upload) (*model.Story, error) {
	story, err := s.env.CreateStory(ctx, file)
	if err != nil {
		return nil, err
	}
	// Wait for the refetch so the new story is in the tray.
	s.env.cache.Get(ctx, storecache.Stories())
	if err := s.Load(ctx); err != nil && err != ErrUnmounted {
		return story, err
	}
	return story, nil
}
