// Package a2atest provides a scripted in-process A2A agent for tests.
package a2atest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/igorsilveira/switchboard/pkg/a2a"
)

// Segment is what the agent sends on one connection: the events, then either
// a clean end with Status or a severed connection.
type Segment struct {
	Events []a2a.TaskUpdateEvent
	Sever  bool
	Status a2a.TaskStatus
}

// Script drives every task the server receives. Segments are consumed in
// order across the initial call and each resubscribe.
type Script struct {
	Segments []Segment
}

// Text is an artifact event with one text part.
func Text(s string) a2a.TaskUpdateEvent {
	return a2a.TaskUpdateEvent{Artifact: &a2a.Artifact{Parts: []a2a.Part{a2a.TextPart(s)}}}
}

// StatusText is a working status event carrying a message.
func StatusText(s string) a2a.TaskUpdateEvent {
	return a2a.TaskUpdateEvent{Status: &a2a.TaskStatus{
		State:   a2a.TaskStateWorking,
		Message: &a2a.Message{Role: a2a.RoleAgent, Parts: []a2a.Part{a2a.TextPart(s)}},
	}}
}

func Completed() a2a.TaskStatus {
	return a2a.TaskStatus{State: a2a.TaskStateCompleted}
}

func InputRequired(prompt string) a2a.TaskStatus {
	return a2a.TaskStatus{
		State:   a2a.TaskStateInputRequired,
		Message: &a2a.Message{Role: a2a.RoleAgent, Parts: []a2a.Part{a2a.TextPart(prompt)}},
	}
}

type Server struct {
	*httptest.Server
	Handler *a2a.Handler

	mu       sync.Mutex
	script   Script
	next     int
	calls    []a2a.Message
	resumes  int
	sessions []string
	taskIDs  []string
}

type Option func(*config)

type config struct {
	streaming bool
	notifier  a2a.Notifier
	jwks      http.Handler
}

func WithoutStreaming() Option {
	return func(c *config) { c.streaming = false }
}

func WithPush(n a2a.Notifier, jwks http.Handler) Option {
	return func(c *config) {
		c.notifier = n
		c.jwks = jwks
	}
}

// NewServer starts an agent named name that follows script.
func NewServer(name string, script Script, opts ...Option) *Server {
	cfg := config{streaming: true}
	for _, o := range opts {
		o(&cfg)
	}

	s := &Server{script: script}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Handler.ServeHTTP(w, r)
	}))

	card := &a2a.AgentCard{
		Name:         name,
		Description:  name + " test agent",
		URL:          s.URL,
		Version:      "test",
		Capabilities: a2a.Capabilities{Streaming: cfg.streaming},
	}
	s.Handler = a2a.NewHandler(a2a.HandlerConfig{
		Card:     card,
		Runner:   s,
		Notifier: cfg.notifier,
		JWKS:     cfg.jwks,
	})
	return s
}

func (s *Server) Run(ctx context.Context, task a2a.Task, msg a2a.Message, emit func(a2a.TaskUpdateEvent) error) (a2a.TaskStatus, error) {
	s.mu.Lock()
	s.calls = append(s.calls, msg)
	s.sessions = append(s.sessions, task.SessionID)
	s.taskIDs = append(s.taskIDs, task.ID)
	s.mu.Unlock()
	return s.play(emit)
}

func (s *Server) Resume(ctx context.Context, task a2a.Task, emit func(a2a.TaskUpdateEvent) error) (a2a.TaskStatus, error) {
	s.mu.Lock()
	s.resumes++
	s.mu.Unlock()
	return s.play(emit)
}

func (s *Server) play(emit func(a2a.TaskUpdateEvent) error) (a2a.TaskStatus, error) {
	s.mu.Lock()
	if s.next >= len(s.script.Segments) {
		s.mu.Unlock()
		return a2a.TaskStatus{State: a2a.TaskStateCompleted}, nil
	}
	seg := s.script.Segments[s.next]
	s.next++
	s.mu.Unlock()

	for _, ev := range seg.Events {
		if err := emit(ev); err != nil {
			return a2a.TaskStatus{}, err
		}
	}
	if seg.Sever {
		panic(http.ErrAbortHandler)
	}
	return seg.Status, nil
}

// Messages returns the messages received by tasks/send and
// tasks/sendSubscribe.
func (s *Server) Messages() []a2a.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]a2a.Message(nil), s.calls...)
}

func (s *Server) Resubscribes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumes
}

func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sessions...)
}

func (s *Server) TaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.taskIDs...)
}
