package sse

import (
	"errors"
	"io"
	"sync"
	"time"
)

var (
	ErrIdleTimeout = errors.New("sse: no data received within idle timeout")
	ErrClosed      = errors.New("sse: stream closed")
)

// Stream reads events from body on its own goroutine.
// Events is closed when the stream ends; Err then reports why.
type Stream struct {
	body         io.ReadCloser
	events       chan Event
	bufferSize   int
	idleTimeout  time.Duration
	maxEventSize int
	onClose      func()

	mu        sync.Mutex
	err       error
	once      sync.Once
	closeOnce sync.Once
	quit      chan struct{}
	done      chan struct{}
}

func WithBufferSize(n int) func(*Stream) {
	return func(s *Stream) {
		s.bufferSize = n
	}
}

// WithIdleTimeout ends the stream with ErrIdleTimeout when no line arrives for d.
func WithIdleTimeout(d time.Duration) func(*Stream) {
	return func(s *Stream) {
		s.idleTimeout = d
	}
}

func WithStreamMaxEventSize(n int) func(*Stream) {
	return func(s *Stream) {
		s.maxEventSize = n
	}
}

// OnClose is called once after the body has been closed.
func OnClose(f func()) func(*Stream) {
	return func(s *Stream) {
		s.onClose = f
	}
}

func NewStream(body io.ReadCloser, opts ...func(*Stream)) *Stream {
	s := &Stream{
		body:         body,
		bufferSize:   64,
		maxEventSize: defaultMaxEventSize,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.events = make(chan Event, s.bufferSize)
	go s.readLoop()
	return s
}

func (s *Stream) Events() <-chan Event {
	return s.events
}

// Err returns the reason the stream ended, io.EOF for a clean end of body.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the body and stops the reader. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	err := s.closeBody()
	<-s.done
	return err
}

func (s *Stream) closeBody() error {
	var err error
	s.once.Do(func() {
		err = s.body.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return err
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Stream) readLoop() {
	defer close(s.done)
	defer close(s.events)

	var idle *time.Timer
	activity := func() {}
	if s.idleTimeout > 0 {
		idle = time.AfterFunc(s.idleTimeout, func() {
			s.setErr(ErrIdleTimeout)
			_ = s.closeBody()
		})
		defer idle.Stop()
		activity = func() { idle.Reset(s.idleTimeout) }
	}

	reader := NewReader(s.body, WithMaxEventSize(s.maxEventSize), withActivity(activity))
	for {
		evt, err := reader.Next()
		if err != nil {
			select {
			case <-s.quit:
				s.setErr(ErrClosed)
			default:
				s.setErr(err)
			}
			_ = s.closeBody()
			return
		}
		select {
		case s.events <- evt:
		case <-s.quit:
			s.setErr(ErrClosed)
			return
		}
	}
}
