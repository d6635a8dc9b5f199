// Package sse reads server-sent event streams.
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

var ErrEventTooLarge = errors.New("sse: event exceeds max size")

const defaultMaxEventSize = 1 << 20

// Event is a single dispatched server-sent event.
type Event struct {
	ID    string
	Type  string
	Data  []byte
	Retry time.Duration
}

// Reader parses events from an io.Reader.
type Reader struct {
	r            *bufio.Reader
	lastID       string
	maxEventSize int
	onActivity   func()
}

func NewReader(r io.Reader, opts ...func(*Reader)) *Reader {
	rd := &Reader{
		r:            bufio.NewReader(r),
		maxEventSize: defaultMaxEventSize,
	}
	for _, o := range opts {
		o(rd)
	}
	return rd
}

func WithMaxEventSize(n int) func(*Reader) {
	return func(r *Reader) {
		r.maxEventSize = n
	}
}

// withActivity registers f to be called for every line read, comments included.
func withActivity(f func()) func(*Reader) {
	return func(r *Reader) {
		r.onActivity = f
	}
}

// Next blocks until a complete event has been read.
// Events with neither a type nor data are skipped.
func (r *Reader) Next() (Event, error) {
	var (
		data    bytes.Buffer
		evtType string
		retry   time.Duration
		hasData bool
	)
	for {
		line, err := r.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" {
				return Event{}, io.EOF
			}
			if !errors.Is(err, io.EOF) {
				return Event{}, err
			}
		}
		if r.onActivity != nil {
			r.onActivity()
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		if line == "" {
			if !hasData && evtType == "" {
				if err != nil {
					return Event{}, io.EOF
				}
				continue
			}
			out := Event{
				ID:    r.lastID,
				Type:  evtType,
				Data:  bytes.TrimSuffix(data.Bytes(), []byte("\n")),
				Retry: retry,
			}
			if out.Type == "" {
				out.Type = "message"
			}
			return out, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			evtType = value
		case "data":
			hasData = true
			data.WriteString(value)
			data.WriteByte('\n')
			if r.maxEventSize > 0 && data.Len() > r.maxEventSize {
				return Event{}, ErrEventTooLarge
			}
		case "id":
			if !strings.Contains(value, "\x00") {
				r.lastID = value
			}
		case "retry":
			if ms, convErr := strconv.Atoi(value); convErr == nil {
				retry = time.Duration(ms) * time.Millisecond
			}
		}

		if err != nil {
			// EOF in the middle of an event discards it.
			return Event{}, io.EOF
		}
	}
}
