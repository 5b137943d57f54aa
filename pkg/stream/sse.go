package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
)

const maxEventSize = 8 * 1024 * 1024

// Event is one decoded Server-Sent Event.
type Event struct {
	Type  string
	Data  string
	ID    string
	Retry int
}

// Decoder reads Server-Sent Events from a response body. A body that ends in
// the middle of a chunked transfer or whose connection is reset yields
// ErrStreamTruncated; a clean end of body yields io.EOF.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &Decoder{scanner: s}
}

func (d *Decoder) Decode() (*Event, error) {
	var ev Event
	var seen bool

	for d.scanner.Scan() {
		line := d.scanner.Text()

		if line == "" {
			if seen {
				return &ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Type = value
			seen = true
		case "data":
			if ev.Data != "" {
				ev.Data += "\n"
			}
			ev.Data += value
			seen = true
		case "id":
			ev.ID = value
		case "retry":
			if n, err := strconv.Atoi(value); err == nil {
				ev.Retry = n
			}
		}
	}

	if err := d.scanner.Err(); err != nil {
		if severed(err) {
			return nil, fmt.Errorf("%w: %v", ErrStreamTruncated, err)
		}
		return nil, fmt.Errorf("%w: reading event stream: %v", ErrTransport, err)
	}

	if seen {
		return &ev, nil
	}
	return nil, io.EOF
}

// severed reports whether a body read error means the peer dropped the
// connection after the response headers arrived.
func severed(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed)
}

// Writer emits Server-Sent Events, flushing after every event.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	seq     int
}

// NewWriter sets the event-stream headers and returns a Writer over w.
func NewWriter(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// WriteJSON writes v as the data of an unnamed event.
func (sw *Writer) WriteJSON(v any) error {
	return sw.write("", "", v)
}

// WriteEvent writes v as the data of an event with the given id. An empty id
// is omitted.
func (sw *Writer) WriteEvent(id string, v any) error {
	return sw.write("", id, v)
}

// WriteRaw writes pre-encoded data with the given id.
func (sw *Writer) WriteRaw(id string, data []byte) error {
	var b strings.Builder
	if id != "" {
		fmt.Fprintf(&b, "id: %s\n", id)
	}
	fmt.Fprintf(&b, "data: %s\n\n", data)
	if _, err := io.WriteString(sw.w, b.String()); err != nil {
		return err
	}
	sw.seq++
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// Count returns the number of events written.
func (sw *Writer) Count() int {
	return sw.seq
}

func (sw *Writer) write(event, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if event != "" {
		if _, err := fmt.Fprintf(sw.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	return sw.WriteRaw(id, data)
}
