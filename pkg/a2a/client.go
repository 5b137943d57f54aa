package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	AgentCardPath = "/.well-known/agent.json"
	JWKSPath      = "/.well-known/jwks.json"
)

var ErrUnexpectedStatus = errors.New("a2a: unexpected status")

// Client speaks the task JSON-RPC protocol to one agent endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	token      string
	userAgent  string
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// WithToken sends the token as a bearer credential on every call.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{},
		userAgent:  "switchboard",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) SendTask(ctx context.Context, params TaskSendParams) (*Task, error) {
	var task Task
	if err := c.call(ctx, MethodSend, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) GetTask(ctx context.Context, params TaskQueryParams) (*Task, error) {
	var task Task
	if err := c.call(ctx, MethodGet, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) CancelTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	if err := c.call(ctx, MethodCancel, TaskIDParams{ID: id}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// OpenStream issues a streaming method (tasks/sendSubscribe or
// tasks/resubscribe) and returns the raw event-stream body. The caller owns
// the body.
func (c *Client) OpenStream(ctx context.Context, method, requestID string, params any) (io.ReadCloser, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	resp, err := c.post(ctx, requestID, method, params, "text/event-stream")
	if err != nil {
		return nil, err
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return resp.Body, nil
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Error *JSONRPCError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err == nil && rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return nil, fmt.Errorf("a2a: %s: expected event stream, got %q", method, mediaType)
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	resp, err := c.post(ctx, uuid.NewString(), method, params, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *JSONRPCError   `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("a2a: %s: decoding response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return fmt.Errorf("a2a: %s: empty result", method)
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("a2a: %s: decoding result: %w", method, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, id, method string, params any, accept string) (*http.Response, error) {
	rpcReq, err := NewJSONRPCRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, fmt.Errorf("a2a: encoding %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("a2a: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("a2a: %s: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w %d from %s: %s", ErrUnexpectedStatus, resp.StatusCode, method, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

// CardResolver fetches agent cards from the well-known path.
type CardResolver struct {
	httpClient *http.Client
}

func NewCardResolver(h *http.Client) *CardResolver {
	if h == nil {
		h = &http.Client{Timeout: 10 * time.Second}
	}
	return &CardResolver{httpClient: h}
}

func (r *CardResolver) Resolve(ctx context.Context, baseURL string) (*AgentCard, error) {
	base := strings.TrimRight(baseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+AgentCardPath, nil)
	if err != nil {
		return nil, fmt.Errorf("a2a: creating card request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("a2a: fetching card from %s: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w %d fetching card from %s", ErrUnexpectedStatus, resp.StatusCode, base)
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("a2a: decoding card from %s: %w", base, err)
	}
	if card.Name == "" {
		return nil, fmt.Errorf("a2a: card from %s has no name", base)
	}
	if card.URL == "" {
		card.URL = base
	}
	return &card, nil
}
