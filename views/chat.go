package views

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/storecache"
	"github.com/ts4z/hearth/toast"
)

const messageFailed = "Failed to send message"

// Chat is a conversation with one user.  While open, the history is
// refetched every chat poll interval.  Sent messages show at once, marked
// pending, until the server has them.
type Chat struct {
	Lifetime
	notifier

	env  *Env
	with string
	key  cache.Key

	lock    sync.Mutex
	history []*model.Message
	pending []*model.Message
	err     error
	stop    func()
}

func (e *Env) NewChat(with string) *Chat {
	c := &Chat{env: e, with: with, key: storecache.Messages(with)}
	c.Mount()
	return c
}

func (c *Chat) With() string {
	return c.with
}

// Open starts polling and reads the history.  Polling stops at Close or
// when ctx ends.
func (c *Chat) Open(ctx context.Context) error {
	stop := c.env.cache.Poll(ctx, c.key, c.env.chatPoll)
	c.lock.Lock()
	if c.stop != nil {
		c.stop()
	}
	c.stop = stop
	c.lock.Unlock()
	return c.Load(ctx)
}

func (c *Chat) Close() {
	c.Unmount()
	c.lock.Lock()
	stop := c.stop
	c.stop = nil
	c.lock.Unlock()
	if stop != nil {
		stop()
	}
}

func (c *Chat) Load(ctx context.Context) error {
	gen := c.Generation()
	msgs, snap, err := readList[*model.Message](ctx, c.env.cache, c.key)
	if !c.Current(gen) {
		return ErrUnmounted
	}
	c.lock.Lock()
	if snap.Has() {
		c.history = msgs
	}
	c.err = err
	c.lock.Unlock()
	c.changed()
	if snap.Has() {
		return nil
	}
	return err
}

// Messages is the history, oldest first, then anything still being sent.
func (c *Chat) Messages() []*model.Message {
	snap, _ := c.env.cache.Peek(c.key)
	c.lock.Lock()
	if msgs, ok := cache.As[[]*model.Message](snap); ok {
		c.history = msgs
	}
	all := append(append([]*model.Message(nil), c.history...), c.pending...)
	c.lock.Unlock()

	out := make([]*model.Message, 0, len(all))
	for _, m := range all {
		out = append(out, m.Clone())
	}
	return out
}

func (c *Chat) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.err
}

// Send sends text, trimmed.  Blank text sends nothing.
func (c *Chat) Send(ctx context.Context, text string) (*model.Message, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil, ErrBlank
	}
	pm := &model.Message{
		PendingID: uuid.NewString(),
		Sender:    c.env.Me(),
		Receiver:  &model.User{Username: c.with},
		Content:   content,
		Timestamp: c.env.clock.Now().UTC(),
	}
	c.lock.Lock()
	c.pending = append(c.pending, pm)
	c.lock.Unlock()
	c.changed()

	m, err := c.env.store.SendMessage(ctx, c.with, content)

	c.lock.Lock()
	for i, p := range c.pending {
		if p == pm {
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			break
		}
	}
	c.lock.Unlock()
	if err != nil {
		toast.Failed(c.env.sink, err, messageFailed)
		c.changed()
		return nil, err
	}

	cache.UpdateAs(c.env.cache, c.key, func(old []*model.Message) []*model.Message {
		return append(append([]*model.Message(nil), old...), m)
	})
	c.env.cache.Invalidate(c.key, storecache.Conversations())
	c.changed()
	return m, nil
}

// Conversations lists the users the viewer has messages with.
func (e *Env) Conversations(ctx context.Context) ([]*model.User, error) {
	users, snap, err := readList[*model.User](ctx, e.cache, storecache.Conversations())
	if !snap.Has() {
		return nil, err
	}
	return cloneUsers(users), nil
}

func cloneUsers(users []*model.User) []*model.User {
	out := make([]*model.User, 0, len(users))
	for _, u := range users {
		out = append(out, u.Clone())
	}
	return out
}
