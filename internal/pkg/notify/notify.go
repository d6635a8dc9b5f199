// Package notify fans registry changes and diagnostics out to subscribers.
//
// Every subscription owns a bounded queue drained by its own goroutine, so a
// slow or panicking callback never holds up the publisher. When a queue is full
// the notification is dropped and counted.
package notify

import (
	"fmt"
	"path"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultQueueSize = 64

// Handle identifies a subscription.
type Handle string

// Filter selects which changes a subscriber receives. Zero fields match everything.
type Filter struct {
	ApplianceID string
	Kinds       []model.ChangeKind
	// Keys are path.Match patterns, e.g. "BSH.Common.Status.*".
	// Changes without keys (added, removed, connection, refreshed) always pass.
	Keys []string
}

// Match reports whether c passes the filter and returns c narrowed to the
// matching keys.
func (f Filter) Match(c model.Change) (model.Change, bool) {
	if f.ApplianceID != "" && f.ApplianceID != c.ApplianceID {
		return c, false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, c.Kind) {
		return c, false
	}
	if len(f.Keys) == 0 || len(c.Keys) == 0 {
		return c, true
	}
	var keys []string
	for _, k := range c.Keys {
		for _, pattern := range f.Keys {
			if ok, _ := path.Match(pattern, k); ok {
				keys = append(keys, k)
				break
			}
		}
	}
	if len(keys) == 0 {
		return c, false
	}
	c.Keys = keys
	return c, true
}

type worker[T any] struct {
	queue chan T
	fn    func(T)
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newWorker[T any](size int, fn func(T)) *worker[T] {
	return &worker[T]{
		queue: make(chan T, size),
		fn:    fn,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (w *worker[T]) run(logger *zap.Logger) {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case v := <-w.queue:
			w.invoke(v, logger)
		}
	}
}

func (w *worker[T]) invoke(v T, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("subscriber panicked", zap.Error(fmt.Errorf("%v", r)))
		}
	}()
	w.fn(v)
}

func (w *worker[T]) offer(v T) bool {
	select {
	case w.queue <- v:
		return true
	default:
		return false
	}
}

func (w *worker[T]) stop() {
	w.once.Do(func() { close(w.quit) })
}

type changeSub struct {
	filter Filter
	w      *worker[model.Change]
}

type Hub struct {
	mu        sync.RWMutex
	changes   map[Handle]*changeSub
	diags     map[Handle]*worker[model.Diagnostic]
	closed    bool
	wg        sync.WaitGroup
	queueSize int
	logger    *zap.Logger
	dropped   atomic.Uint64
}

func WithQueueSize(n int) func(*Hub) {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

func WithLogger(l *zap.Logger) func(*Hub) {
	return func(h *Hub) {
		h.logger = l
	}
}

func New(opts ...func(*Hub)) *Hub {
	h := &Hub{
		changes:   make(map[Handle]*changeSub),
		diags:     make(map[Handle]*worker[model.Diagnostic]),
		queueSize: defaultQueueSize,
		logger:    zap.L(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers cb for every change matching f. It returns an empty
// handle once the hub is closed.
func (h *Hub) Subscribe(f Filter, cb func(model.Change)) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ""
	}
	handle := Handle(uuid.NewString())
	w := newWorker(h.queueSize, cb)
	h.changes[handle] = &changeSub{filter: f, w: w}
	h.start(func() { w.run(h.logger.With(zap.String("subscription", string(handle)))) })
	return handle
}

// SubscribeDiagnostics registers cb for decode, consistency and transport reports.
func (h *Hub) SubscribeDiagnostics(cb func(model.Diagnostic)) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ""
	}
	handle := Handle(uuid.NewString())
	w := newWorker(h.queueSize, cb)
	h.diags[handle] = w
	h.start(func() { w.run(h.logger.With(zap.String("subscription", string(handle)))) })
	return handle
}

func (h *Hub) start(run func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		run()
	}()
}

// Unsubscribe removes the subscription. Notifications still queued for it are
// discarded. It is safe to call from inside the subscriber's own callback.
func (h *Hub) Unsubscribe(handle Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.changes[handle]; ok {
		delete(h.changes, handle)
		s.w.stop()
		return true
	}
	if w, ok := h.diags[handle]; ok {
		delete(h.diags, handle)
		w.stop()
		return true
	}
	return false
}

// Publish queues c for every matching subscriber without blocking.
func (h *Hub) Publish(c model.Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for handle, s := range h.changes {
		narrowed, ok := s.filter.Match(c)
		if !ok {
			continue
		}
		if !s.w.offer(narrowed) {
			h.dropped.Add(1)
			h.logger.Warn("subscriber queue full, dropping change",
				zap.String("subscription", string(handle)),
				zap.String("appliance", c.ApplianceID),
				zap.String("kind", c.Kind.String()))
		}
	}
}

func (h *Hub) Report(d model.Diagnostic) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for handle, w := range h.diags {
		if !w.offer(d) {
			h.dropped.Add(1)
			h.logger.Warn("diagnostic queue full, dropping report", zap.String("subscription", string(handle)))
		}
	}
}

// Dropped returns how many notifications were discarded because a queue was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close stops every subscription and waits for running callbacks to return.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for handle, s := range h.changes {
		s.w.stop()
		delete(h.changes, handle)
	}
	for handle, w := range h.diags {
		w.stop()
		delete(h.diags, handle)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
