package push

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/igorsilveira/switchboard/pkg/a2a"
	"github.com/igorsilveira/switchboard/pkg/a2a/a2atest"
	"github.com/igorsilveira/switchboard/pkg/agents"
)

// newAgentKeys serves a signer's JWKS the way an agent does.
func newAgentKeys(t *testing.T) (*Signer, *httptest.Server) {
	t.Helper()
	signer, err := NewSigner()
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle(a2a.JWKSPath, signer.JWKS())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return signer, srv
}

func newVerifier(t *testing.T, agentURL string, opts ...VerifierOption) *Verifier {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	v := NewVerifier(ctx, opts...)
	if err := v.AddAgent(ctx, agentURL, nil); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}
	return v
}

func TestVerify(t *testing.T) {
	signer, agent := newAgentKeys(t)
	other, _ := newAgentKeys(t)

	body := []byte(`{"id":"t1","status":{"state":"completed"}}`)
	token, err := signer.Token(body)
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := other.Token(body)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		auth    string
		body    []byte
		clock   time.Duration
		wantErr error
	}{
		{"valid", "Bearer " + token, body, 0, nil},
		{"pretty printed body", "Bearer " + token, []byte("{\n  \"id\": \"t1\",\n  \"status\": {\"state\": \"completed\"}\n}"), 0, nil},
		{"tampered body", "Bearer " + token, []byte(`{"id":"t2","status":{"state":"completed"}}`), 0, ErrBodyMismatch},
		{"not json", "Bearer " + token, []byte("nope"), 0, ErrBodyMismatch},
		{"expired", "Bearer " + token, body, 6 * time.Minute, ErrTokenExpired},
		{"missing", "", body, 0, ErrMissingToken},
		{"wrong scheme", "Basic " + token, body, 0, ErrMissingToken},
		{"unknown key", "Bearer " + foreign, body, 0, ErrInvalidToken},
		{"garbage", "Bearer abc.def.ghi", body, 0, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset := tt.clock
			v := newVerifier(t, agent.URL, WithClock(func() time.Time { return time.Now().Add(offset) }))
			err := v.Verify(context.Background(), tt.auth, tt.body)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Verify: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerify_NoAgents(t *testing.T) {
	v := NewVerifier(context.Background())
	if err := v.Verify(context.Background(), "Bearer x", []byte("{}")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestReceiver_Validation(t *testing.T) {
	rc := NewReceiver(ReceiverConfig{Verifier: NewVerifier(context.Background())})

	rec := httptest.NewRecorder()
	rc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notify?validationToken=abc123", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "abc123" {
		t.Errorf("validation = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	rc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notify", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing token = %d, want 400", rec.Code)
	}
}

func TestReceiver_RejectsUnsigned(t *testing.T) {
	_, agent := newAgentKeys(t)
	rc := NewReceiver(ReceiverConfig{Verifier: newVerifier(t, agent.URL)})

	rec := httptest.NewRecorder()
	rc.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notify", bytes.NewReader([]byte(`{"id":"t1"}`))))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

type recorder struct {
	events []string
}

func (r *recorder) Log(_ context.Context, eventType, _, _, _ string, _ any) error {
	r.events = append(r.events, eventType)
	return nil
}

func TestEndToEnd(t *testing.T) {
	signer, err := NewSigner()
	if err != nil {
		t.Fatal(err)
	}
	agent := a2atest.NewServer("Pusher", a2atest.Script{Segments: []a2atest.Segment{
		{Events: []a2a.TaskUpdateEvent{a2atest.Text("working on it")}, Status: a2atest.Completed()},
	}}, a2atest.WithPush(signer, signer.JWKS()))
	defer agent.Close()

	tasks := make(chan a2a.Task, 1)
	audit := &recorder{}
	rc := NewReceiver(ReceiverConfig{
		Verifier: newVerifier(t, agent.URL),
		Audit:    audit,
		OnTask:   func(task a2a.Task) { tasks <- task },
	})
	receiver := httptest.NewServer(rc)
	defer receiver.Close()

	reg, err := agents.NewRegistry(context.Background(), []agents.AgentConfig{{URL: agent.URL}}, agents.Options{
		PushURL: receiver.URL + "/notify",
	})
	if err != nil {
		t.Fatal(err)
	}
	tool, _ := reg.Lookup("Pusher")
	ch, err := tool.Invoke(context.Background(), agents.Args{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	_, last := agents.Collect(ch)
	if last.Err != nil {
		t.Fatalf("invoke: %v", last.Err)
	}

	select {
	case task := <-tasks:
		if task.ID != last.TaskID || task.Status.State != a2a.TaskStateCompleted {
			t.Errorf("notified task = %s %s", task.ID, task.Status.State)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no push notification received")
	}
	if len(audit.events) != 1 || audit.events[0] != "push_received" {
		t.Errorf("audit events = %v", audit.events)
	}
}
