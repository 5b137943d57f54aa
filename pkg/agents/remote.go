package agents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/igorsilveira/switchboard/pkg/a2a"
	"github.com/igorsilveira/switchboard/pkg/fragment"
	"github.com/igorsilveira/switchboard/pkg/stream"
	"github.com/igorsilveira/switchboard/pkg/taskstate"
	"github.com/igorsilveira/switchboard/pkg/telemetry"
)

// RemoteTool calls one A2A agent. Every task it sends carries the same
// session id.
type RemoteTool struct {
	desc    Descriptor
	client  *a2a.Client
	session string
	push    *a2a.PushNotificationConfig
	policy  stream.Policy
	tracker *taskstate.Tracker
	logger  *slog.Logger
}

func (t *RemoteTool) Name() string           { return t.desc.ToolName }
func (t *RemoteTool) Descriptor() Descriptor { return t.desc }
func (t *RemoteTool) Session() string        { return t.session }

// Params builds the outbound payload for one call. An empty taskID continues
// the task the agent left waiting for input, or starts a new one.
func (t *RemoteTool) Params(args Args) a2a.TaskSendParams {
	taskID := args.TaskID
	if taskID == "" {
		if pending, ok := t.tracker.Pending(t.desc.ToolName); ok {
			taskID = pending
		} else {
			taskID = NewID()
		}
	}
	return a2a.TaskSendParams{
		ID:                  taskID,
		SessionID:           t.session,
		AcceptedOutputModes: []string{"text"},
		Message: a2a.Message{
			Role:  a2a.RoleUser,
			Parts: append([]a2a.Part{a2a.TextPart(args.Message)}, args.Attachments...),
		},
		PushNotification: t.push,
	}
}

func (t *RemoteTool) Invoke(ctx context.Context, args Args) (<-chan Event, error) {
	if args.Message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidArgs)
	}
	params := t.Params(args)
	logger := t.logger.With(slog.String("agent", t.desc.ToolName), slog.String("task_id", params.ID))

	ch := make(chan Event)
	go func() {
		defer close(ch)
		ctx, span := telemetry.StartSpan(ctx, "agents.invoke",
			telemetry.AttrTool.String(t.desc.ToolName),
			telemetry.AttrTaskID.String(params.ID),
			telemetry.AttrStreaming.Bool(t.desc.Streaming),
		)
		defer span.End()
		start := time.Now()

		send := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			messageID string
			task      *a2a.Task
			err       error
		)
		if t.desc.Streaming {
			messageID, task, err = t.runStream(ctx, logger, params, send)
		} else {
			messageID, task, err = t.runUnary(ctx, params, send)
		}

		telemetry.Metrics.ToolDuration.WithLabelValues(t.desc.ToolName).Observe(time.Since(start).Seconds())
		if err != nil {
			telemetry.Metrics.ToolCalls.WithLabelValues(t.desc.ToolName, "error").Inc()
			telemetry.SpanError(span, err)
			logger.Warn("agent call failed", slog.String("err", err.Error()))
			send(Event{TaskID: params.ID, Err: err})
			return
		}
		telemetry.Metrics.ToolCalls.WithLabelValues(t.desc.ToolName, "ok").Inc()

		outcome := taskstate.ClassifyLogged(logger, params.ID, task.Status.State)
		t.tracker.Observe(t.desc.ToolName, params.ID, outcome)
		telemetry.Metrics.TaskOutcomes.WithLabelValues(t.desc.ToolName, outcome.String()).Inc()

		if messageID == "" {
			messageID = params.ID
		}
		send(Event{
			Fragment: taskstate.StatusFragment(messageID, params.ID, outcome),
			TaskID:   params.ID,
			Outcome:  outcome,
			Final:    true,
		})
	}()
	return ch, nil
}

// runStream consumes tasks/sendSubscribe, resubscribing when the stream is
// severed, then fetches the authoritative task state.
func (t *RemoteTool) runStream(ctx context.Context, logger *slog.Logger, params a2a.TaskSendParams, send func(Event) bool) (string, *a2a.Task, error) {
	open := func(ctx context.Context, r stream.Resume) (io.ReadCloser, error) {
		if r.Attempt == 0 {
			return t.client.OpenStream(ctx, a2a.MethodSendSubscribe, "", params)
		}
		return t.client.OpenStream(ctx, a2a.MethodResubscribe, "", a2a.TaskQueryParams{ID: params.ID})
	}
	loop := stream.NewLoop(open, decodeStreamResponse, stream.Config{
		Policy: t.policy,
		Logger: logger,
		OnRetry: func(int, time.Duration) {
			telemetry.Metrics.StreamRetries.WithLabelValues(t.desc.ToolName).Inc()
		},
	})

	norm := &streamNormalizer{}
	res, err := loop.Run(ctx, func(rec stream.Record[a2a.StreamResponse]) error {
		f, ok, err := norm.next(rec.Value, rec.Resumed)
		if err != nil || !ok {
			return err
		}
		if !send(Event{Fragment: f, TaskID: params.ID}) {
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	if res.Exhausted {
		telemetry.Metrics.StreamExhausted.WithLabelValues(t.desc.ToolName).Inc()
	}

	task, err := t.client.GetTask(ctx, a2a.TaskQueryParams{ID: params.ID})
	if err != nil {
		return "", nil, transportErr(err)
	}
	return norm.messageID, task, nil
}

func (t *RemoteTool) runUnary(ctx context.Context, params a2a.TaskSendParams, send func(Event) bool) (string, *a2a.Task, error) {
	task, err := t.client.SendTask(ctx, params)
	if err != nil {
		return "", nil, transportErr(err)
	}
	f, err := unaryFragment(task, params.ID)
	if err != nil {
		return "", nil, err
	}
	if !send(Event{Fragment: f, TaskID: params.ID}) {
		return "", nil, ctx.Err()
	}
	return f.MessageID, task, nil
}

// transportErr marks network failures as transport errors. Errors reported
// by the agent itself pass through unchanged.
func transportErr(err error) error {
	var rpcErr *a2a.JSONRPCError
	if errors.As(err, &rpcErr) || errors.Is(err, stream.ErrTransport) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", stream.ErrTransport, err)
}

// NewID returns a random hex id for tasks and sessions.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Collect drains an invocation, returning its fragments and final event.
func Collect(ch <-chan Event) ([]fragment.Fragment, Event) {
	var frags []fragment.Fragment
	var last Event
	for ev := range ch {
		if ev.Err == nil {
			frags = append(frags, ev.Fragment)
		}
		last = ev
	}
	return frags, last
}
