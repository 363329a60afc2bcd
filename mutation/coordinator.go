// Package mutation applies user actions optimistically.
//
// A Coordinator owns one family of observable values (the like state of
// posts, the status of friend requests), keyed by resource id.  Mutate
// applies a predicted value synchronously and sends the request in the
// background.  Success confirms the server's value and invalidates the
// dependent cache entries; failure restores the value the prediction was
// made from and posts a toast.  Nothing is retried.
//
// Mutations on one id form a lane: their requests go out one at a time in
// submission order, and each prediction is made from the one before it.
// When a request resolves, the predictions still queued behind it are
// recomputed from the resolved value, so a rollback never throws away a
// later prediction and a confirmation never double counts one.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ts4z/hearth/cache"
	"github.com/ts4z/hearth/toast"
	"github.com/ts4z/hearth/varz"
)

var (
	submitted = varz.NewInt("submitted")
	confirmed = varz.NewInt("confirmed")
	rollbacks = varz.NewInt("rollbacks")
	refused   = varz.NewInt("refused")
	inFlight  = varz.NewGauge("in_flight")
)

var ErrIncompleteIntent = errors.New("mutation: intent needs an id, a prediction and a send")

// Invalidator is the part of the cache a coordinator touches.
type Invalidator interface {
	Invalidate(keys ...cache.Key)
}

type Intent[V any] struct {
	ID string

	// Guard may refuse the intent, given the value it would be predicted
	// from.  A refused intent changes nothing and sends nothing.
	Guard func(current V) error

	// Predict must be pure: it is called again whenever an earlier
	// mutation on the same id resolves.
	Predict func(current V) V

	// Send performs the request and returns the server's value.
	Send func(ctx context.Context, predicted V) (V, error)

	// Invalidate lists the cache entries that depend on this resource.
	// They are invalidated on success only.
	Invalidate []cache.Key

	// Sink receives the failure toast, and the success toast if Success
	// is set.  Nil uses the coordinator's sink.
	Sink    toast.Sink
	Failure string
	Success string
}

func (in *Intent[V]) complete() bool {
	return in.ID != "" && in.Predict != nil && in.Send != nil
}

type Ticket[V any] struct {
	// Predicted is the value shown when the intent was accepted.
	Predicted V

	done  chan struct{}
	value V
	err   error
}

func newTicket[V any](predicted V) *Ticket[V] {
	return &Ticket[V]{Predicted: predicted, done: make(chan struct{})}
}

func (t *Ticket[V]) resolve(v V, err error) {
	t.value, t.err = v, err
	close(t.done)
}

// Done is closed once the request has resolved.
func (t *Ticket[V]) Done() <-chan struct{} {
	return t.done
}

// Err is the request's error, or nil while it is in flight.
func (t *Ticket[V]) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Value is the server's value after a successful request.
func (t *Ticket[V]) Value() V {
	<-t.done
	return t.value
}

func (t *Ticket[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

type prediction[V any] struct {
	seq    uint64
	ctx    context.Context
	base   V
	value  V
	intent Intent[V]
	ticket *Ticket[V]
}

// lane is the state of one id.  pending[0], if any, is the request on the
// wire, and its base is always the confirmed value.
type lane[V any] struct {
	confirmed   V
	confirmedAt time.Time
	known       bool
	pending     []*prediction[V]
	busy        bool
}

func (l *lane[V]) observable() V {
	if n := len(l.pending); n > 0 {
		return l.pending[n-1].value
	}
	return l.confirmed
}

// rebase recomputes queued predictions from the confirmed value.
func (l *lane[V]) rebase() {
	base := l.confirmed
	for _, p := range l.pending {
		p.base = base
		p.value = p.intent.Predict(base)
		base = p.value
	}
}

type Options struct {
	// Name labels log lines and spans ("like", "friend_request").
	Name  string
	Cache Invalidator
	Sink  toast.Sink
	Clock clockwork.Clock
}

type Coordinator[V any] struct {
	lock sync.Mutex

	name        string
	lanes       map[string]*lane[V]
	seq         uint64
	invalidator Invalidator
	sink        toast.Sink
	clock       clockwork.Clock
	observers   []func(id string, v V)
	changes     []change[V]
	delivering  bool
	tracer      trace.Tracer
	wg          sync.WaitGroup
}

func New[V any](opts Options) *Coordinator[V] {
	c := &Coordinator[V]{
		name:        opts.Name,
		lanes:       make(map[string]*lane[V]),
		invalidator: opts.Cache,
		sink:        opts.Sink,
		clock:       opts.Clock,
		tracer:      otel.Tracer("github.com/ts4z/hearth/mutation"),
	}
	if c.name == "" {
		c.name = "mutation"
	}
	if c.sink == nil {
		c.sink = toast.Discard
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	return c
}

func (c *Coordinator[V]) laneLocked(id string) *lane[V] {
	l, ok := c.lanes[id]
	if !ok {
		l = &lane[V]{}
		c.lanes[id] = l
	}
	return l
}

type change[V any] struct {
	id string
	v  V
}

// unlockAndNotify queues id's new value, releases c.lock and tells
// observers.  One goroutine at a time delivers, in the order changes were
// queued, and never while holding c.lock.  A change queued during another
// goroutine's delivery is handed to that delivery, so the caller may return
// before observers hear it.
func (c *Coordinator[V]) unlockAndNotify(id string, v V) {
	c.changes = append(c.changes, change[V]{id: id, v: v})
	if c.delivering {
		c.lock.Unlock()
		return
	}
	c.delivering = true
	for len(c.changes) > 0 {
		batch, observers := c.changes, c.observers
		c.changes = nil
		c.lock.Unlock()
		deliver(batch, observers)
		c.lock.Lock()
	}
	c.delivering = false
	c.lock.Unlock()
}

func deliver[V any](batch []change[V], observers []func(string, V)) {
	for _, ch := range batch {
		for _, f := range observers {
			f(ch.id, ch.v)
		}
	}
}

// OnChange registers f to hear every change of an observable value.  f may
// read the coordinator and may call Mutate; changes it causes are delivered
// after it returns.
func (c *Coordinator[V]) OnChange(f func(id string, v V)) {
	c.lock.Lock()
	defer c.lock.Unlock()
	observers := make([]func(string, V), len(c.observers), len(c.observers)+1)
	copy(observers, c.observers)
	c.observers = append(observers, f)
}

// Seed records an authoritative value for id, as read from the server.
// While a request on id is in flight the prediction stays visible, and the
// seeded value becomes what a failure restores.
func (c *Coordinator[V]) Seed(id string, v V) {
	c.SeedAt(id, v, c.clock.Now())
}

// SeedAt is Seed for a value read at a known time.  A value read before the
// last confirmation on id is older than what is already known, and is
// ignored.
func (c *Coordinator[V]) SeedAt(id string, v V, at time.Time) {
	c.lock.Lock()
	l := c.laneLocked(id)
	if at.Before(l.confirmedAt) {
		c.lock.Unlock()
		return
	}
	l.confirmed, l.known = v, true
	if len(l.pending) > 0 {
		l.pending[0].base = v
		c.lock.Unlock()
		return
	}
	c.unlockAndNotify(id, v)
}

// Value is the value to show for id: the newest pending prediction, else
// the confirmed value.  ok is false if nothing is known about id.
func (c *Coordinator[V]) Value(id string) (v V, ok bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	l, found := c.lanes[id]
	if !found || (!l.known && len(l.pending) == 0) {
		return v, false
	}
	return l.observable(), true
}

// ValueOr is Value with a default.
func (c *Coordinator[V]) ValueOr(id string, def V) V {
	if v, ok := c.Value(id); ok {
		return v
	}
	return def
}

func (c *Coordinator[V]) Pending(id string) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	if l, ok := c.lanes[id]; ok {
		return len(l.pending)
	}
	return 0
}

// Forget drops what is known about idle ids.  Lanes with requests in
// flight are kept.
func (c *Coordinator[V]) Forget(ids ...string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if len(ids) == 0 {
		for id := range c.lanes {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		if l, ok := c.lanes[id]; ok && len(l.pending) == 0 && !l.busy {
			delete(c.lanes, id)
		}
	}
}

// Mutate applies in's prediction and queues its request.  The returned
// ticket resolves when the request does.  ctx's values are passed to Send,
// but its cancellation is not: a view going away doesn't cancel a request
// the user already made.
func (c *Coordinator[V]) Mutate(ctx context.Context, in Intent[V]) (*Ticket[V], error) {
	if !in.complete() {
		return nil, ErrIncompleteIntent
	}

	c.lock.Lock()
	l := c.laneLocked(in.ID)
	cur := l.observable()
	if in.Guard != nil {
		if err := in.Guard(cur); err != nil {
			c.lock.Unlock()
			refused.Add(1)
			return nil, err
		}
	}

	c.seq++
	p := &prediction[V]{
		seq:    c.seq,
		ctx:    context.WithoutCancel(ctx),
		base:   cur,
		value:  in.Predict(cur),
		intent: in,
	}
	p.ticket = newTicket(p.value)
	l.pending = append(l.pending, p)
	submitted.Add(1)
	inFlight.Add(1)

	start := !l.busy
	if start {
		l.busy = true
		c.wg.Add(1)
	}
	c.unlockAndNotify(in.ID, p.value)

	if start {
		go c.drain(in.ID)
	}
	return p.ticket, nil
}

// MutateSync is Mutate followed by waiting for the result.
func (c *Coordinator[V]) MutateSync(ctx context.Context, in Intent[V]) (V, error) {
	t, err := c.Mutate(ctx, in)
	if err != nil {
		var zero V
		return zero, err
	}
	return t.Wait(ctx)
}

// Wait blocks until every lane is idle or ctx is done.
func (c *Coordinator[V]) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain sends the lane's requests one at a time until it is empty.
func (c *Coordinator[V]) drain(id string) {
	defer c.wg.Done()
	for {
		c.lock.Lock()
		l := c.lanes[id]
		if len(l.pending) == 0 {
			l.busy = false
			c.lock.Unlock()
			return
		}
		p := l.pending[0]
		predicted := p.value
		c.lock.Unlock()

		got, err := c.send(p, predicted)
		c.resolve(id, p, got, err)
	}
}

func (c *Coordinator[V]) send(p *prediction[V], predicted V) (V, error) {
	ctx, span := c.tracer.Start(p.ctx, "hearth.mutation "+c.name,
		trace.WithAttributes(
			attribute.String("hearth.resource_id", p.intent.ID),
			attribute.Int64("hearth.mutation_seq", int64(p.seq)),
		))
	defer span.End()

	v, err := p.intent.Send(ctx, predicted)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return v, err
}

func (c *Coordinator[V]) resolve(id string, p *prediction[V], got V, err error) {
	c.lock.Lock()
	l := c.lanes[id]
	if len(l.pending) == 0 || l.pending[0] != p {
		c.lock.Unlock()
		panic(fmt.Sprintf("mutation: %s %s: resolving seq %d out of order", c.name, id, p.seq))
	}
	l.pending = l.pending[1:]
	inFlight.Add(-1)
	if err == nil {
		l.confirmed, l.known = got, true
		l.confirmedAt = c.clock.Now()
		confirmed.Add(1)
	} else {
		rollbacks.Add(1)
	}
	l.rebase()
	c.unlockAndNotify(id, l.observable())

	sink := p.intent.Sink
	if sink == nil {
		sink = c.sink
	}
	if err != nil {
		zap.S().Infof("mutation: %s %s (seq %d) rolled back: %v", c.name, id, p.seq, err)
		fallback := p.intent.Failure
		if fallback == "" {
			fallback = "Something went wrong. Please try again."
		}
		toast.Failed(sink, err, fallback)
	} else {
		if c.invalidator != nil && len(p.intent.Invalidate) > 0 {
			c.invalidator.Invalidate(p.intent.Invalidate...)
		}
		if p.intent.Success != "" {
			toast.Say(sink, toast.Success, p.intent.Success)
		}
	}
	p.ticket.resolve(got, err)
}
