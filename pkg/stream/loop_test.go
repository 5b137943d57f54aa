package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type item struct {
	N int `json:"n"`
}

func decodeItem(b []byte) (item, error) {
	var it item
	err := json.Unmarshal(b, &it)
	return it, err
}

type segment struct {
	body     string
	truncate bool
}

// scriptedOpener serves one segment per open.
type scriptedOpener struct {
	segments []segment
	resumes  []Resume
	openErr  error
}

func (s *scriptedOpener) open(_ context.Context, r Resume) (io.ReadCloser, error) {
	s.resumes = append(s.resumes, r)
	if s.openErr != nil {
		return nil, s.openErr
	}
	if len(s.resumes) > len(s.segments) {
		return nil, errors.New("no more segments")
	}
	seg := s.segments[len(s.resumes)-1]
	if seg.truncate {
		return io.NopCloser(&truncatedReader{data: []byte(seg.body)}), nil
	}
	return io.NopCloser(strings.NewReader(seg.body)), nil
}

func testPolicy(max int) Policy {
	return Policy{MaxRetries: max, Step: time.Millisecond, Gap: GapFlag}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, l *Loop[item]) ([]Record[item], Result, error) {
	t.Helper()
	var got []Record[item]
	res, err := l.Run(context.Background(), func(r Record[item]) error {
		got = append(got, r)
		return nil
	})
	return got, res, err
}

func TestLoop_CleanStream(t *testing.T) {
	op := &scriptedOpener{segments: []segment{
		{body: "data: {\"n\":1}\n\ndata: {\"n\":2}\n\n"},
	}}
	l := NewLoop(op.open, decodeItem, Config{Policy: testPolicy(3), Logger: quietLogger()})

	got, res, err := collect(t, l)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 2 || got[0].Value.N != 1 || got[1].Value.N != 2 {
		t.Errorf("records = %+v", got)
	}
	if res.Retries != 0 || res.Exhausted {
		t.Errorf("result = %+v", res)
	}
}

func TestLoop_SkipsUndecodablePayloads(t *testing.T) {
	op := &scriptedOpener{segments: []segment{
		{body: "data: not json\n\ndata: {\"n\":3}\n\n"},
	}}
	l := NewLoop(op.open, decodeItem, Config{Policy: testPolicy(3), Logger: quietLogger()})

	got, _, err := collect(t, l)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 1 || got[0].Value.N != 3 {
		t.Errorf("records = %+v", got)
	}
}

func TestLoop_RecoversAfterTruncation(t *testing.T) {
	op := &scriptedOpener{segments: []segment{
		{body: "id: a\ndata: {\"n\":1}\n\nid: b\ndata: {\"n\":2}\n\n", truncate: true},
		{body: "id: c\ndata: {\"n\":3}\n\n"},
	}}
	var retries []int
	l := NewLoop(op.open, decodeItem, Config{
		Policy:  testPolicy(3),
		Logger:  quietLogger(),
		OnRetry: func(attempt int, _ time.Duration) { retries = append(retries, attempt) },
	})

	got, res, err := collect(t, l)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var ns []int
	var resumed []bool
	for _, r := range got {
		ns = append(ns, r.Value.N)
		resumed = append(resumed, r.Resumed)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, ns); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{false, false, true}, resumed); diff != "" {
		t.Errorf("resumed mismatch (-want +got):\n%s", diff)
	}
	if res.Retries != 1 || res.Exhausted {
		t.Errorf("result = %+v", res)
	}
	if diff := cmp.Diff([]int{1}, retries); diff != "" {
		t.Errorf("OnRetry mismatch (-want +got):\n%s", diff)
	}
	if op.resumes[1].LastEventID != "b" || op.resumes[1].Attempt != 1 {
		t.Errorf("second open resume = %+v", op.resumes[1])
	}
}

func TestLoop_GapSilentDoesNotFlag(t *testing.T) {
	op := &scriptedOpener{segments: []segment{
		{body: "data: {\"n\":1}\n\n", truncate: true},
		{body: "data: {\"n\":2}\n\n"},
	}}
	p := testPolicy(3)
	p.Gap = GapSilent
	l := NewLoop(op.open, decodeItem, Config{Policy: p, Logger: quietLogger()})

	got, _, err := collect(t, l)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range got {
		if r.Resumed {
			t.Errorf("record %d flagged as resumed", r.Value.N)
		}
	}
}

func TestLoop_ExhaustsWithoutError(t *testing.T) {
	var segs []segment
	for i := 0; i < 4; i++ {
		segs = append(segs, segment{body: fmt.Sprintf("data: {\"n\":%d}\n\n", i), truncate: true})
	}
	op := &scriptedOpener{segments: segs}
	l := NewLoop(op.open, decodeItem, Config{Policy: testPolicy(3), Logger: quietLogger()})

	got, res, err := collect(t, l)
	if err != nil {
		t.Fatalf("Run should not fail on exhaustion: %v", err)
	}
	if !res.Exhausted {
		t.Error("expected Exhausted")
	}
	if res.Retries != 3 {
		t.Errorf("Retries = %d, want 3", res.Retries)
	}
	if len(op.resumes) != 4 {
		t.Errorf("opens = %d, want 4", len(op.resumes))
	}
	if len(got) != 4 {
		t.Errorf("records = %d, want 4", len(got))
	}
}

func TestLoop_OpenErrorNotRetried(t *testing.T) {
	op := &scriptedOpener{openErr: errors.New("connection refused")}
	l := NewLoop(op.open, decodeItem, Config{Policy: testPolicy(3), Logger: quietLogger()})

	_, res, err := collect(t, l)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if len(op.resumes) != 1 {
		t.Errorf("opens = %d, want 1", len(op.resumes))
	}
	if res.Retries != 0 {
		t.Errorf("Retries = %d, want 0", res.Retries)
	}
}

func TestLoop_YieldErrorStops(t *testing.T) {
	op := &scriptedOpener{segments: []segment{
		{body: "data: {\"n\":1}\n\ndata: {\"n\":2}\n\n"},
	}}
	l := NewLoop(op.open, decodeItem, Config{Policy: testPolicy(3), Logger: quietLogger()})

	stop := errors.New("stop")
	var seen int
	_, err := l.Run(context.Background(), func(Record[item]) error {
		seen++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected stop error, got %v", err)
	}
	if seen != 1 {
		t.Errorf("seen = %d, want 1", seen)
	}
}

func TestLinearBackoff_StrictlyIncreasing(t *testing.T) {
	b := LinearBackoff(1500 * time.Millisecond)
	want := []time.Duration{1500 * time.Millisecond, 3 * time.Second, 4500 * time.Millisecond}
	var prev time.Duration
	for i, w := range want {
		got, stop := b.Next()
		if stop {
			t.Fatalf("unexpected stop at %d", i)
		}
		if got != w {
			t.Errorf("delay %d = %v, want %v", i, got, w)
		}
		if got-prev != 1500*time.Millisecond {
			t.Errorf("step %d = %v, want 1.5s", i, got-prev)
		}
		prev = got
	}
}

func TestLoop_RealConnectionSevered(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		sw := NewWriter(w)
		_ = sw.WriteEvent(fmt.Sprint(n), item{N: n})
		if n == 1 {
			panic(http.ErrAbortHandler)
		}
	}))
	defer srv.Close()

	open := func(ctx context.Context, _ Resume) (io.ReadCloser, error) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		resp, err := srv.Client().Do(req)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}
	l := NewLoop(open, decodeItem, Config{Policy: testPolicy(3), Logger: quietLogger()})

	got, res, err := collect(t, l)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Retries != 1 {
		t.Errorf("Retries = %d, want 1", res.Retries)
	}
	if len(got) != 2 || got[0].Value.N != 1 || got[1].Value.N != 2 {
		t.Errorf("records = %+v", got)
	}
}

func TestLoop_ConnectionReset(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	firstSeen := make(chan struct{})
	go func() {
		for n := 1; n <= 2; n++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if _, err := http.ReadRequest(bufio.NewReader(conn)); err != nil {
				conn.Close()
				return
			}
			event := fmt.Sprintf("id: %d\ndata: {\"n\":%d}\n\n", n, n)
			if n == 1 {
				fmt.Fprint(conn, "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nTransfer-Encoding: chunked\r\n\r\n")
				fmt.Fprintf(conn, "%x\r\n%s\r\n", len(event), event)
				<-firstSeen
				_ = conn.(*net.TCPConn).SetLinger(0)
				conn.Close()
				continue
			}
			fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(event), event)
			conn.Close()
		}
	}()

	open := func(ctx context.Context, _ Resume) (io.ReadCloser, error) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+ln.Addr().String(), nil)
		resp, err := (&http.Client{Transport: &http.Transport{}}).Do(req)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}
	l := NewLoop(open, decodeItem, Config{Policy: testPolicy(3), Logger: quietLogger()})

	var got []Record[item]
	res, err := l.Run(context.Background(), func(r Record[item]) error {
		got = append(got, r)
		if r.Value.N == 1 {
			close(firstSeen)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Retries != 1 || res.Exhausted {
		t.Errorf("result = %+v, want one retry", res)
	}
	if len(got) != 2 || got[0].Value.N != 1 || got[1].Value.N != 2 {
		t.Fatalf("records = %+v", got)
	}
	if !got[1].Resumed {
		t.Error("record after the reset should be flagged resumed")
	}
}

func TestSevered(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{io.ErrUnexpectedEOF, true},
		{&net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, true},
		{fmt.Errorf("body: %w", net.ErrClosed), true},
		{errors.New("boom"), false},
		{syscall.ECONNREFUSED, false},
	}
	for _, tt := range tests {
		if got := severed(tt.err); got != tt.want {
			t.Errorf("severed(%v) = %t, want %t", tt.err, got, tt.want)
		}
	}
}
