package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
)

var (
	ErrTransport       = errors.New("transport error")
	ErrStreamTruncated = errors.New("stream truncated")
)

// GapPolicy controls how a reconnect is surfaced to consumers. A reconnect
// resumes at the next event the peer sends, so anything emitted while the
// connection was down is lost.
type GapPolicy string

const (
	// GapFlag marks the first record after a reconnect as Resumed.
	GapFlag GapPolicy = "flag"
	// GapSilent only logs the reconnect.
	GapSilent GapPolicy = "silent"
)

type Policy struct {
	MaxRetries int
	Step       time.Duration
	Gap        GapPolicy
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Step:       1500 * time.Millisecond,
		Gap:        GapFlag,
	}
}

// Resume tells an Opener which connection attempt it serves. Attempt is 0 for
// the first open.
type Resume struct {
	Attempt     int
	LastEventID string
}

// Opener opens one streaming response body.
type Opener func(ctx context.Context, r Resume) (io.ReadCloser, error)

// Record is one decoded event payload.
type Record[T any] struct {
	Value   T
	EventID string
	Attempt int
	Resumed bool
}

type Result struct {
	Records   int
	Retries   int
	Exhausted bool
}

type Config struct {
	Policy  Policy
	Logger  *slog.Logger
	OnRetry func(attempt int, wait time.Duration)
}

// Loop consumes a stream of SSE events, reconnecting when the peer severs the
// connection before the stream ends.
type Loop[T any] struct {
	open    Opener
	decode  func([]byte) (T, error)
	policy  Policy
	logger  *slog.Logger
	onRetry func(int, time.Duration)
}

func NewLoop[T any](open Opener, decode func([]byte) (T, error), cfg Config) *Loop[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Policy.MaxRetries < 0 {
		cfg.Policy.MaxRetries = 0
	}
	if cfg.Policy.Gap == "" {
		cfg.Policy.Gap = GapFlag
	}
	return &Loop[T]{
		open:    open,
		decode:  decode,
		policy:  cfg.Policy,
		logger:  cfg.Logger,
		onRetry: cfg.OnRetry,
	}
}

// Run yields every decoded record in arrival order. Payloads that fail to
// decode are logged and skipped. When the retry budget is spent on
// truncations, Run returns Exhausted with a nil error. An error returned by
// yield stops the loop and is returned unchanged.
func (l *Loop[T]) Run(ctx context.Context, yield func(Record[T]) error) (Result, error) {
	var res Result
	var attempt int
	var lastID string
	resumed := false

	limited := retry.WithMaxRetries(uint64(l.policy.MaxRetries), LinearBackoff(l.policy.Step))
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		wait, stop := limited.Next()
		if stop {
			return 0, true
		}
		res.Retries++
		l.logger.Warn("stream truncated, reconnecting",
			slog.Int("attempt", res.Retries),
			slog.Duration("wait", wait),
		)
		if l.onRetry != nil {
			l.onRetry(res.Retries, wait)
		}
		return wait, false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempt > 0 && l.policy.Gap == GapFlag {
			resumed = true
		}
		body, err := l.open(ctx, Resume{Attempt: attempt, LastEventID: lastID})
		attempt++
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrTransport) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		defer body.Close()

		dec := NewDecoder(body)
		for {
			ev, err := dec.Decode()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, ErrStreamTruncated) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return retry.RetryableError(err)
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			if ev.ID != "" {
				lastID = ev.ID
			}
			if ev.Data == "" {
				continue
			}

			v, err := l.decode([]byte(ev.Data))
			if err != nil {
				l.logger.Warn("skipping undecodable event",
					slog.String("event_id", ev.ID),
					slog.String("err", err.Error()),
				)
				continue
			}

			rec := Record[T]{Value: v, EventID: ev.ID, Attempt: attempt - 1, Resumed: resumed}
			resumed = false
			res.Records++
			if err := yield(rec); err != nil {
				return err
			}
		}
	})

	if errors.Is(err, ErrStreamTruncated) {
		res.Exhausted = true
		l.logger.Warn("stream truncated, no further updates",
			slog.Int("retries", res.Retries),
			slog.Int("records", res.Records),
		)
		return res, nil
	}
	return res, err
}

// LinearBackoff waits n*step before the nth retry and never stops on its own.
func LinearBackoff(step time.Duration) retry.Backoff {
	var n atomic.Int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		return time.Duration(n.Add(1)) * step, false
	})
}
