// Package dispatch runs one user turn: it asks the router what to do, then
// either answers directly or relays a remote agent's output.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/igorsilveira/switchboard/pkg/agents"
	"github.com/igorsilveira/switchboard/pkg/audit"
	"github.com/igorsilveira/switchboard/pkg/fragment"
	"github.com/igorsilveira/switchboard/pkg/llm"
	"github.com/igorsilveira/switchboard/pkg/telemetry"
)

// Recorder receives audit events. *audit.Logger satisfies it.
type Recorder interface {
	Log(ctx context.Context, eventType, sessionID, agentID, actor string, detail any) error
}

// Ledger keeps a durable record of remote tasks. *store.Store satisfies it.
type Ledger interface {
	TaskStarted(ctx context.Context, taskID, agent, sessionID, message string) error
	TaskFinished(ctx context.Context, taskID, state string) error
}

// RouteConfig is passed to the router on every turn.
type RouteConfig struct {
	Model       string
	System      string
	Mode        llm.ToolMode
	Temperature *float64
}

// OrchestrationContext holds everything a turn needs. It is built once at
// startup and shared by all turns.
type OrchestrationContext struct {
	Registry *agents.Registry
	Router   llm.Router
	Route    RouteConfig
	Audit    Recorder
	Ledger   Ledger
	Logger   *slog.Logger
}

type Dispatcher struct {
	oc OrchestrationContext
}

func New(oc OrchestrationContext) *Dispatcher {
	if oc.Logger == nil {
		oc.Logger = slog.Default()
	}
	if oc.Route.Mode == "" {
		oc.Route.Mode = llm.ToolModeAny
	}
	return &Dispatcher{oc: oc}
}

func (d *Dispatcher) Registry() *agents.Registry { return d.oc.Registry }

// Turn routes the latest user input and streams the resulting envelopes. The
// channel is closed when the turn ends. Failures become a visible chat
// envelope; the channel never carries an error.
func (d *Dispatcher) Turn(ctx context.Context, history []fragment.Turn) <-chan Envelope {
	out := make(chan Envelope)
	go func() {
		defer close(out)
		ctx, span := telemetry.StartSpan(ctx, "dispatch.turn", telemetry.AttrHistory.Int(len(history)))
		defer span.End()
		start := time.Now()

		result := d.run(ctx, history, func(env Envelope) bool {
			visibility := "visible"
			if env.Hidden {
				visibility = "hidden"
			}
			telemetry.Metrics.FragmentsTotal.WithLabelValues(string(env.MessageType), visibility).Inc()
			select {
			case out <- env:
				return true
			case <-ctx.Done():
				return false
			}
		})

		span.SetAttributes(telemetry.AttrResult.String(result))
		telemetry.Metrics.TurnsTotal.WithLabelValues(result).Inc()
		telemetry.Metrics.TurnDuration.Observe(time.Since(start).Seconds())
	}()
	return out
}

func (d *Dispatcher) run(ctx context.Context, history []fragment.Turn, emit func(Envelope) bool) string {
	logger := d.oc.Logger

	decision, err := d.route(ctx, history)
	if err != nil {
		logger.Error("routing failed", slog.String("err", err.Error()))
		telemetry.Metrics.ErrorsTotal.WithLabelValues("router").Inc()
		emit(errorEnvelope(fmt.Sprintf("Error: routing failed: %v", err)))
		return "error"
	}

	if decision.ToolCall == nil {
		emit(ChatEnvelope(fragment.New(newMessageID(), fragment.TextPart(decision.Text))))
		return "chat"
	}

	call := decision.ToolCall
	logger = logger.With(slog.String("agent", call.Name))
	logger.Info("routing to agent", slog.Any("args", call.Args))

	tool, err := d.oc.Registry.Lookup(call.Name)
	if err != nil {
		logger.Warn("router chose unknown tool")
		emit(errorEnvelope(fmt.Sprintf("Error: %s is not a valid function", call.Name)))
		return "error"
	}

	args, err := agents.ParseArgs(call.Args)
	if err != nil {
		emit(errorEnvelope(fmt.Sprintf("Error: %s: %v", call.Name, err)))
		return "error"
	}

	events, err := tool.Invoke(ctx, args)
	if err != nil {
		emit(errorEnvelope(fmt.Sprintf("Error: %s: %v", call.Name, err)))
		return "error"
	}

	started := false
	for ev := range events {
		if ev.Err != nil {
			if started {
				d.finishTask(ctx, tool, ev.TaskID, "failed", ev.Err.Error())
			}
			emit(errorEnvelope(agentErrorText(call.Name, ev.Err)))
			drain(events)
			return "error"
		}
		if !started && ev.TaskID != "" {
			started = true
			d.startTask(ctx, tool, ev.TaskID, args.Message)
		}
		if ev.Final {
			d.finishTask(ctx, tool, ev.TaskID, ev.Outcome.String(), ev.Outcome.Label())
		}
		if !emit(A2AEnvelope(ev.Fragment)) {
			drain(events)
			return "canceled"
		}
	}
	return "tool"
}

func (d *Dispatcher) route(ctx context.Context, history []fragment.Turn) (llm.Decision, error) {
	ctx, span := telemetry.StartSpan(ctx, "router.route", telemetry.AttrRouter.String(d.oc.Router.Name()))
	defer span.End()

	start := time.Now()
	decision, err := d.oc.Router.Route(ctx, llm.RouteRequest{
		Model:       d.oc.Route.Model,
		System:      d.oc.Route.System,
		History:     history,
		Tools:       d.oc.Registry.Definitions(),
		Mode:        d.oc.Route.Mode,
		Temperature: d.oc.Route.Temperature,
	})
	provider, model := d.oc.Router.Name(), d.oc.Route.Model
	telemetry.Metrics.RouterRequestsTotal.WithLabelValues(provider, model).Inc()
	telemetry.Metrics.RouterLatency.WithLabelValues(provider, model).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.SpanError(span, err)
		return llm.Decision{}, err
	}
	if u := decision.Usage; u != nil {
		telemetry.Metrics.TokensUsed.WithLabelValues("input", model).Add(float64(u.InputTokens))
		telemetry.Metrics.TokensUsed.WithLabelValues("output", model).Add(float64(u.OutputTokens))
	}
	return decision, nil
}

func (d *Dispatcher) startTask(ctx context.Context, tool agents.Tool, taskID, message string) {
	if d.oc.Ledger != nil {
		if err := d.oc.Ledger.TaskStarted(ctx, taskID, tool.Name(), tool.Session(), message); err != nil {
			d.oc.Logger.Warn("recording task", slog.String("task_id", taskID), slog.String("err", err.Error()))
		}
	}
	d.audit(ctx, audit.EventTaskSend, tool, map[string]string{"task_id": taskID, "message": message})
}

func (d *Dispatcher) finishTask(ctx context.Context, tool agents.Tool, taskID, state, detail string) {
	if taskID == "" {
		return
	}
	if d.oc.Ledger != nil {
		if err := d.oc.Ledger.TaskFinished(ctx, taskID, state); err != nil {
			d.oc.Logger.Warn("recording task outcome", slog.String("task_id", taskID), slog.String("err", err.Error()))
		}
	}
	d.audit(ctx, audit.EventTaskOutcome, tool, map[string]string{"task_id": taskID, "state": state, "detail": detail})
}

func (d *Dispatcher) audit(ctx context.Context, event string, tool agents.Tool, detail any) {
	if d.oc.Audit == nil {
		return
	}
	if err := d.oc.Audit.Log(ctx, event, tool.Session(), tool.Name(), "switchboard", detail); err != nil {
		d.oc.Logger.Warn("writing audit entry", slog.String("event", event), slog.String("err", err.Error()))
	}
}

func agentErrorText(name string, err error) string {
	switch {
	case errors.Is(err, agents.ErrMalformedResponse):
		return fmt.Sprintf("Error: %s sent a malformed response: %v", name, err)
	case errors.Is(err, context.Canceled):
		return fmt.Sprintf("Error: call to %s was canceled", name)
	default:
		return fmt.Sprintf("Error: calling %s: %v", name, err)
	}
}

func errorEnvelope(text string) Envelope {
	return ChatEnvelope(fragment.New(newMessageID(), fragment.TextPart(text)))
}

func newMessageID() string {
	return uuid.NewString()
}

func drain(ch <-chan agents.Event) {
	for range ch {
	}
}
