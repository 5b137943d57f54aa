package stream

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecoder_Events(t *testing.T) {
	body := ": comment\n" +
		"id: 1\n" +
		"data: {\"a\":1}\n\n" +
		"event: status\n" +
		"data: line one\n" +
		"data: line two\n\n" +
		"retry: 500\n\n"

	dec := NewDecoder(strings.NewReader(body))

	ev, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.ID != "1" || ev.Data != `{"a":1}` {
		t.Errorf("first event = %+v", ev)
	}

	ev, err = dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Type != "status" {
		t.Errorf("Type = %q, want status", ev.Type)
	}
	if ev.Data != "line one\nline two" {
		t.Errorf("Data = %q", ev.Data)
	}

	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestDecoder_TrailingEventWithoutBlankLine(t *testing.T) {
	dec := NewDecoder(strings.NewReader("data: last"))
	ev, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Data != "last" {
		t.Errorf("Data = %q, want last", ev.Data)
	}
}

type truncatedReader struct {
	data []byte
}

func (r *truncatedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestDecoder_Truncated(t *testing.T) {
	dec := NewDecoder(&truncatedReader{data: []byte("data: one\n\ndata: par")})

	ev, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Data != "one" {
		t.Errorf("Data = %q, want one", ev.Data)
	}

	_, err = dec.Decode()
	if !errors.Is(err, ErrStreamTruncated) {
		t.Fatalf("expected ErrStreamTruncated, got %v", err)
	}
}

func TestWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	if err := w.WriteJSON(map[string]string{"k": "v"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if err := w.WriteEvent("7", map[string]int{"n": 1}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	want := "data: {\"k\":\"v\"}\n\nid: 7\ndata: {\"n\":1}\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if w.Count() != 2 {
		t.Errorf("Count = %d, want 2", w.Count())
	}
	if !rec.Flushed {
		t.Error("expected writer to flush")
	}
}
