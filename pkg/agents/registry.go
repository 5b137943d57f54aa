package agents

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/igorsilveira/switchboard/pkg/a2a"
	"github.com/igorsilveira/switchboard/pkg/llm"
	"github.com/igorsilveira/switchboard/pkg/stream"
	"github.com/igorsilveira/switchboard/pkg/taskstate"
)

// AgentConfig names one agent to register.
type AgentConfig struct {
	URL     string
	Session string
	Token   string
}

type Options struct {
	HTTPClient *http.Client
	Policy     stream.Policy
	Tracker    *taskstate.Tracker
	Logger     *slog.Logger
	// PushURL, when set, asks agents that support it to post task updates
	// there.
	PushURL string
}

// Registry maps tool names to remote agents. It is read-only once built and
// safe for concurrent use.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry fetches every agent card concurrently. Any failure aborts the
// whole construction.
func NewRegistry(ctx context.Context, agents []AgentConfig, opts Options) (*Registry, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracker == nil {
		opts.Tracker = taskstate.NewTracker()
	}
	if opts.Policy == (stream.Policy{}) {
		opts.Policy = stream.DefaultPolicy()
	}

	resolver := a2a.NewCardResolver(opts.HTTPClient)
	cards := make([]*a2a.AgentCard, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	for i, ac := range agents {
		g.Go(func() error {
			card, err := resolver.Resolve(gctx, ac.URL)
			if err != nil {
				return fmt.Errorf("resolving agent %s: %w", ac.URL, err)
			}
			cards[i] = card
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tools := make([]Tool, 0, len(agents))
	for i, card := range cards {
		tools = append(tools, newRemoteTool(card, agents[i], opts))
	}
	return NewStaticRegistry(tools...)
}

func newRemoteTool(card *a2a.AgentCard, ac AgentConfig, opts Options) *RemoteTool {
	desc := describe(card)
	session := ac.Session
	if session == "" {
		session = NewID()
	}

	clientOpts := []a2a.ClientOption{a2a.WithHTTPClient(opts.HTTPClient)}
	if ac.Token != "" {
		clientOpts = append(clientOpts, a2a.WithToken(ac.Token))
	}

	var push *a2a.PushNotificationConfig
	if opts.PushURL != "" && desc.PushNotifications {
		push = &a2a.PushNotificationConfig{
			URL:            opts.PushURL,
			Authentication: &a2a.AuthenticationInfo{Schemes: []string{"bearer"}},
		}
	}

	return &RemoteTool{
		desc:    desc,
		client:  a2a.NewClient(card.URL, clientOpts...),
		session: session,
		push:    push,
		policy:  opts.Policy,
		tracker: opts.Tracker,
		logger:  opts.Logger,
	}
}

// NewStaticRegistry builds a registry from ready tools.
func NewStaticRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := r.tools[t.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
		}
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t, nil
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int { return len(r.order) }

func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor())
	}
	return out
}

// Definitions renders every tool for a router request.
func (r *Registry) Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(r.order))
	for _, d := range r.Descriptors() {
		out = append(out, d.Definition())
	}
	return out
}

// Summary lists agents as "name: description" lines, sorted by name.
func (r *Registry) Summary() string {
	descs := r.Descriptors()
	sort.Slice(descs, func(i, j int) bool { return descs[i].ToolName < descs[j].ToolName })
	var b strings.Builder
	for _, d := range descs {
		fmt.Fprintf(&b, "- %s: %s\n", d.ToolName, d.Description)
	}
	return b.String()
}
