package views

import (
	"context"
	"sync"
	"time"

	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/storecache"
)

// Feed is the home timeline: posts/?page=1, then 2, and so on as the user
// scrolls.  Pages are kept in order and a later page never replaces an
// earlier one.  The server adds posts at the front while the user reads, so
// a post can turn up on two pages; it is shown once.
type Feed struct {
	Lifetime
	notifier

	env *Env

	lock   sync.Mutex
	pages  []cache.Snapshot // pages[n-1] is page n
	seeded []time.Time
	err    error
}

func (e *Env) NewFeed() *Feed {
	f := &Feed{env: e}
	f.Mount()
	return f
}

// Load reads every page the feed has so far, or the first page of a new
// feed.  Stale pages are shown while they refetch.
func (f *Feed) Load(ctx context.Context) error {
	gen := f.Generation()
	f.lock.Lock()
	n := max(len(f.pages), 1)
	f.lock.Unlock()
	for page := 1; page <= n; page++ {
		if err := f.apply(gen, page, f.env.cache.Read(ctx, storecache.Posts(page))); err != nil {
			return err
		}
	}
	return nil
}

// LoadMore reads the page after the last one, if the server said there is
// one.  It reports whether a page was read.
func (f *Feed) LoadMore(ctx context.Context) (bool, error) {
	gen := f.Generation()
	f.lock.Lock()
	n := len(f.pages)
	more := n == 0 || lastPage(f.pages).HasNext()
	f.lock.Unlock()
	if !more {
		return false, nil
	}
	err := f.apply(gen, n+1, f.env.cache.Read(ctx, storecache.Posts(n+1)))
	return err == nil, err
}

// Refresh drops back to the first page, fetched fresh.  The pages already
// shown stay up until it arrives, and stay up if it fails.
func (f *Feed) Refresh(ctx context.Context) error {
	gen := f.Generation()
	f.env.cache.InvalidateKind(storecache.KindPosts)
	key := storecache.Posts(1)
	_, err := f.env.cache.Get(ctx, key)
	snap, _ := f.env.cache.Peek(key)
	if snap.Err == nil {
		snap.Err = err
	}
	if !f.Current(gen) {
		return ErrUnmounted
	}
	f.lock.Lock()
	if snap.Has() && snap.Err == nil {
		f.pages, f.seeded = f.pages[:0], f.seeded[:0]
	}
	f.lock.Unlock()
	if err := f.apply(gen, 1, snap); err != nil {
		return err
	}
	return snap.Err
}

// Create publishes a post and brings the feed back to the top so it shows.
func (f *Feed) Create(ctx context.Context, d Draft) (*model.Post, error) {
	p, err := f.env.CreatePost(ctx, d)
	if err != nil {
		return nil, err
	}
	if err := f.Refresh(ctx); err != nil && err != ErrUnmounted {
		return p, err
	}
	return p, nil
}

// apply stores a page read in generation gen.
func (f *Feed) apply(gen uint64, page int, snap cache.Snapshot) error {
	if !f.Current(gen) {
		return ErrUnmounted
	}
	f.lock.Lock()
	f.err = snap.Err
	if snap.Has() {
		switch i := page - 1; {
		case i < len(f.pages):
			f.pages[i] = snap
		case i == len(f.pages):
			f.pages = append(f.pages, snap)
			f.seeded = append(f.seeded, time.Time{})
		}
		// A page past a gap is dropped; it is read again by LoadMore.
	}
	seeds := f.seedsLocked()
	f.lock.Unlock()
	f.plant(seeds)
	f.changed()
	if snap.Has() {
		return nil
	}
	return snap.Err
}

type seed struct {
	posts []*model.Post
	at    time.Time
}

// seedsLocked collects like state from pages the coordinator hasn't seen
// yet.  The caller hands them over once the feed is unlocked.
func (f *Feed) seedsLocked() []seed {
	var out []seed
	for i, s := range f.pages {
		if s.FetchedAt.Equal(f.seeded[i]) {
			continue
		}
		if pg, ok := cache.As[*model.Page[*model.Post]](s); ok {
			out = append(out, seed{pg.Results, s.FetchedAt})
		}
		f.seeded[i] = s.FetchedAt
	}
	return out
}

func (f *Feed) plant(seeds []seed) {
	for _, s := range seeds {
		f.env.seedLikes(s.posts, s.at)
	}
}

// syncLocked picks up pages the cache refetched since they were read.
func (f *Feed) syncLocked() []seed {
	for i, s := range f.pages {
		if cur, ok := f.env.cache.Peek(s.Key); ok && cur.Has() && cur.Version != s.Version {
			f.pages[i] = cur
		}
	}
	return f.seedsLocked()
}

// Posts is the feed as it should be drawn: every page in order, each post
// once, with like state from the coordinator.
func (f *Feed) Posts() []*model.Post {
	f.lock.Lock()
	seeds := f.syncLocked()
	pages := append([]cache.Snapshot(nil), f.pages...)
	f.lock.Unlock()
	f.plant(seeds)

	seen := map[int64]bool{}
	posts := []*model.Post{}
	for _, s := range pages {
		pg, ok := cache.As[*model.Page[*model.Post]](s)
		if !ok {
			continue
		}
		for _, p := range pg.Results {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			posts = append(posts, p)
		}
	}
	return f.env.withLikes(posts)
}

// Post finds one post in the feed.
func (f *Feed) Post(id int64) (*model.Post, bool) {
	for _, p := range f.Posts() {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Pages is how many pages have been read.
func (f *Feed) Pages() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.pages)
}

func (f *Feed) HasMore() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.pages) == 0 || lastPage(f.pages).HasNext()
}

// Err is the last read's error.  Posts already shown stay shown.
func (f *Feed) Err() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.err
}

func lastPage(pages []cache.Snapshot) *model.Page[*model.Post] {
	if len(pages) == 0 {
		return nil
	}
	pg, _ := cache.As[*model.Page[*model.Post]](pages[len(pages)-1])
	return pg
}
