// Package chatclient talks to a switchboard gateway over POST /chat, picking
// up a severed turn where it left off.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/igorsilveira/switchboard/pkg/agents"
	"github.com/igorsilveira/switchboard/pkg/dispatch"
	"github.com/igorsilveira/switchboard/pkg/fragment"
	"github.com/igorsilveira/switchboard/pkg/gateway"
	"github.com/igorsilveira/switchboard/pkg/stream"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	policy     stream.Policy
	logger     *slog.Logger
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithPolicy(p stream.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		policy:     stream.DefaultPolicy(),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Turn sends history to the gateway and streams back the turn's envelopes.
// Failures end the turn with a visible chat envelope.
func (c *Client) Turn(ctx context.Context, history []fragment.Turn) <-chan dispatch.Envelope {
	out := make(chan dispatch.Envelope)
	turnID := uuid.NewString()
	logger := c.logger.With(slog.String("turn_id", turnID))

	go func() {
		defer close(out)

		open := func(ctx context.Context, r stream.Resume) (io.ReadCloser, error) {
			req := gateway.ChatRequest{TurnID: turnID}
			if r.Attempt == 0 {
				req.History = history
			}
			return c.openChat(ctx, req, r.LastEventID)
		}
		loop := stream.NewLoop(open, decodeEnvelope, stream.Config{Policy: c.policy, Logger: logger})

		res, err := loop.Run(ctx, func(rec stream.Record[dispatch.Envelope]) error {
			env := rec.Value
			if rec.Resumed {
				env.Resumed = true
			}
			select {
			case out <- env:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("chat turn failed", slog.String("err", err.Error()))
			c.emitError(ctx, out, fmt.Sprintf("Error: gateway: %v", err))
			return
		}
		if res.Exhausted {
			c.emitError(ctx, out, "Error: gateway stream interrupted, no further updates")
		}
	}()
	return out
}

func (c *Client) emitError(ctx context.Context, out chan<- dispatch.Envelope, text string) {
	env := dispatch.ChatEnvelope(fragment.New(uuid.NewString(), fragment.TextPart(text)))
	select {
	case out <- env:
	case <-ctx.Done():
	}
}

func (c *Client) openChat(ctx context.Context, body gateway.ChatRequest, lastEventID string) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stream.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}

// Agents lists the agents registered with the gateway.
func (c *Client) Agents(ctx context.Context) ([]agents.Descriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/agents", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stream.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	var descs []agents.Descriptor
	if err := json.NewDecoder(resp.Body).Decode(&descs); err != nil {
		return nil, fmt.Errorf("decoding agents: %w", err)
	}
	return descs, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeEnvelope(data []byte) (dispatch.Envelope, error) {
	var env dispatch.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, err
	}
	if env.MessageID == "" {
		return env, fmt.Errorf("envelope without messageId")
	}
	return env, nil
}
