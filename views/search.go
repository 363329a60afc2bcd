package views

import (
	"context"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/storecache"
)

// Search is the people search box.  The query goes to the server once the
// user stops typing for the debounce interval; clearing the box clears the
// results at once.
type Search struct {
	Lifetime
	notifier

	env    *Env
	ctx    context.Context
	cancel context.CancelFunc

	lock    sync.Mutex
	query   string
	seq     uint64
	timer   clockwork.Timer
	results []*model.User
	err     error
}

func (e *Env) NewSearch() *Search {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Search{env: e, ctx: ctx, cancel: cancel}
	s.Mount()
	return s
}

// SetQuery is called on every keystroke.
func (s *Search) SetQuery(q string) {
	s.lock.Lock()
	s.query = q
	s.seq++
	seq := s.seq
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	q = strings.TrimSpace(q)
	if q == "" {
		s.results, s.err = nil, nil
		s.lock.Unlock()
		s.changed()
		return
	}
	s.timer = s.env.clock.AfterFunc(s.env.debounce, func() {
		s.run(seq, q)
	})
	s.lock.Unlock()
}

func (s *Search) run(seq uint64, q string) {
	gen := s.Generation()
	users, snap, err := readList[*model.User](s.ctx, s.env.cache, storecache.Search(q))
	if !s.Current(gen) {
		return
	}
	s.lock.Lock()
	if seq != s.seq {
		// The user kept typing.
		s.lock.Unlock()
		return
	}
	if snap.Has() {
		s.results = cloneUsers(users)
	}
	s.err = err
	s.lock.Unlock()
	s.changed()
}

func (s *Search) Query() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.query
}

func (s *Search) Results() []*model.User {
	s.lock.Lock()
	defer s.lock.Unlock()
	return cloneUsers(s.results)
}

func (s *Search) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.err
}

func (s *Search) Close() {
	s.Unmount()
	s.lock.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.lock.Unlock()
	s.cancel()
}

// SearchUsers is a one-shot search, without the debounce.
func (e *Env) SearchUsers(ctx context.Context, q string) ([]*model.User, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	users, snap, err := readList[*model.User](ctx, e.cache, storecache.Search(q))
	if !snap.Has() {
		return nil, err
	}
	return cloneUsers(users), nil
}
