package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/igorsilveira/switchboard/pkg/dispatch"
	"github.com/igorsilveira/switchboard/pkg/fragment"
)

var ErrTurnExists = errors.New("turn already exists")

// Turner runs one user turn. *dispatch.Dispatcher satisfies it.
type Turner interface {
	Turn(ctx context.Context, history []fragment.Turn) <-chan dispatch.Envelope
}

// turnLog buffers the encoded envelopes of one turn so a client that lost its
// connection can pick up after the last record it saw.
type turnLog struct {
	mu       sync.Mutex
	records  [][]byte
	done     bool
	finished time.Time
	changed  chan struct{}
}

func newTurnLog() *turnLog {
	return &turnLog{changed: make(chan struct{})}
}

func (l *turnLog) append(rec []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *turnLog) finish(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done = true
	l.finished = now
	close(l.changed)
	l.changed = make(chan struct{})
}

// wait returns the records after the first from, blocking until there is at
// least one or the turn is done.
func (l *turnLog) wait(ctx context.Context, from int) ([][]byte, bool, error) {
	for {
		l.mu.Lock()
		if from < len(l.records) || l.done {
			var recs [][]byte
			if from < len(l.records) {
				recs = l.records[from:len(l.records):len(l.records)]
			}
			done := l.done
			l.mu.Unlock()
			return recs, done, nil
		}
		changed := l.changed
		l.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func (l *turnLog) expired(now time.Time, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done && now.Sub(l.finished) >= ttl
}

// TurnRouter starts turns on the Turner and keeps their logs until they
// expire. Turns run on the router's context, not the request's, so a dropped
// client does not cancel the remote task.
type TurnRouter struct {
	ctx    context.Context
	turner Turner
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	turns map[string]*turnLog
}

func NewTurnRouter(ctx context.Context, turner Turner, ttl time.Duration, logger *slog.Logger) *TurnRouter {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TurnRouter{
		ctx:    ctx,
		turner: turner,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		turns:  make(map[string]*turnLog),
	}
}

// start dispatches a new turn under id.
func (tr *TurnRouter) start(id string, history []fragment.Turn) (*turnLog, error) {
	tr.mu.Lock()
	if _, ok := tr.turns[id]; ok {
		tr.mu.Unlock()
		return nil, ErrTurnExists
	}
	log := newTurnLog()
	tr.turns[id] = log
	tr.mu.Unlock()

	logger := tr.logger.With(slog.String("turn_id", id))
	logger.Info("turn started", slog.Int("history", len(history)))

	envs := tr.turner.Turn(tr.ctx, history)
	go func() {
		n := 0
		for env := range envs {
			rec, err := json.Marshal(env)
			if err != nil {
				logger.Error("encoding envelope", slog.String("err", err.Error()))
				continue
			}
			log.append(rec)
			n++
		}
		log.finish(tr.now())
		logger.Info("turn finished", slog.Int("envelopes", n))
	}()
	return log, nil
}

func (tr *TurnRouter) get(id string) (*turnLog, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	log, ok := tr.turns[id]
	return log, ok
}

// Sweep drops finished turns older than the TTL and returns how many it
// removed.
func (tr *TurnRouter) Sweep(context.Context) int {
	now := tr.now()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := 0
	for id, log := range tr.turns {
		if log.expired(now, tr.ttl) {
			delete(tr.turns, id)
			n++
		}
	}
	if n > 0 {
		tr.logger.Debug("swept turn logs", slog.Int("removed", n), slog.Int("kept", len(tr.turns)))
	}
	return n
}

func (tr *TurnRouter) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.turns)
}
