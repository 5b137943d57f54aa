package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/igorsilveira/switchboard/pkg/dispatch"
	"github.com/igorsilveira/switchboard/pkg/fragment"
)

var ErrClosed = errors.New("conversation closed")

// Source produces the envelopes of one turn. *dispatch.Dispatcher and
// *chatclient.Client satisfy it.
type Source interface {
	Turn(ctx context.Context, history []fragment.Turn) <-chan dispatch.Envelope
}

// Snapshot is an immutable view of the transcript.
type Snapshot struct {
	Entries []Entry
	// Busy is true while a turn is running.
	Busy bool
	Err  error
}

// Pending tracks one submitted turn. Updates delivers snapshots as the turn
// progresses; intermediate snapshots may be skipped but the final one never
// is. The channel is closed when the turn ends.
type Pending struct {
	updates chan Snapshot
}

func (p *Pending) Updates() <-chan Snapshot { return p.updates }

// Wait blocks until the turn ends and returns its final snapshot.
func (p *Pending) Wait() Snapshot {
	var last Snapshot
	for s := range p.updates {
		last = s
	}
	return last
}

type job struct {
	turn    fragment.Turn
	pending *Pending
}

// Conversation runs turns one at a time against a Source. Only the worker
// goroutine touches the aggregator; readers see published snapshots.
type Conversation struct {
	src    Source
	agg    *Aggregator
	logger *slog.Logger

	queue    chan job
	latest   atomic.Pointer[Snapshot]
	mu       sync.Mutex
	closed   bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	cancelFn context.CancelFunc
}

type Option func(*Conversation)

func WithLogger(l *slog.Logger) Option {
	return func(c *Conversation) { c.logger = l }
}

// New starts the worker. It runs until ctx is canceled or Close is called.
func New(ctx context.Context, src Source, opts ...Option) *Conversation {
	c := &Conversation{
		src:    src,
		agg:    NewAggregator(),
		logger: slog.Default(),
		queue:  make(chan job, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.latest.Store(&Snapshot{})

	ctx, c.cancelFn = context.WithCancel(ctx)
	go c.work(ctx)
	return c
}

// Submit queues a user turn. It blocks while the queue is full and gives up
// with ErrClosed once Close is called.
func (c *Conversation) Submit(turn fragment.Turn) *Pending {
	p := &Pending{updates: make(chan Snapshot, 1)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		select {
		case c.queue <- job{turn: turn, pending: p}:
			return p
		case <-c.stop:
		}
	}
	p.updates <- Snapshot{Entries: c.Snapshot().Entries, Err: ErrClosed}
	close(p.updates)
	return p
}

// Snapshot returns the most recently published transcript.
func (c *Conversation) Snapshot() Snapshot {
	return *c.latest.Load()
}

// Close stops accepting turns, cancels the running one and waits for the
// worker to exit.
func (c *Conversation) Close() {
	// Release a Submit blocked on a full queue before taking mu.
	c.stopOnce.Do(func() { close(c.stop) })
	c.cancelFn()

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Conversation) work(ctx context.Context) {
	defer close(c.done)
	for j := range c.queue {
		if ctx.Err() != nil {
			j.pending.updates <- Snapshot{Entries: c.agg.Entries(), Err: ctx.Err()}
			close(j.pending.updates)
			continue
		}
		c.run(ctx, j)
	}
}

func (c *Conversation) run(ctx context.Context, j job) {
	defer close(j.pending.updates)

	c.agg.AddUser(j.turn)
	c.publish(j.pending, true, nil)

	n := 0
	for env := range c.src.Turn(ctx, c.agg.History()) {
		c.agg.Apply(env)
		n++
		c.publish(j.pending, true, nil)
	}
	c.logger.Debug("turn finished", slog.Int("envelopes", n), slog.Int("entries", c.agg.Len()))

	c.agg.Close()
	c.publish(j.pending, false, ctx.Err())
}

// publish stores a snapshot and hands it to the pending turn, replacing any
// snapshot the reader has not taken yet.
func (c *Conversation) publish(p *Pending, busy bool, err error) {
	s := Snapshot{Entries: c.agg.Entries(), Busy: busy, Err: err}
	c.latest.Store(&s)
	select {
	case <-p.updates:
	default:
	}
	p.updates <- s
}
