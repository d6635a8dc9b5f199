package cmd

import (
	"context"
	"sync"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/anicoll/homeconnect-integration/internal/pkg/reconcile"
	"github.com/anicoll/homeconnect-integration/pkg/sse"
)

// MockTransport is a mock implementation of reconcile.Transport.
type MockTransport struct {
	ConnectEventStreamFunc func(ctx context.Context) (reconcile.EventStream, error)
	FetchFullStateFunc     func(ctx context.Context) ([]model.Appliance, error)
}

func (m *MockTransport) ConnectEventStream(ctx context.Context) (reconcile.EventStream, error) {
	if m.ConnectEventStreamFunc != nil {
		return m.ConnectEventStreamFunc(ctx)
	}
	return newMockStream(), nil
}

func (m *MockTransport) FetchFullState(ctx context.Context) ([]model.Appliance, error) {
	if m.FetchFullStateFunc != nil {
		return m.FetchFullStateFunc(ctx)
	}
	return nil, nil
}

// mockStream stays open until closed.
type mockStream struct {
	events chan sse.Event
	once   sync.Once
}

func newMockStream() *mockStream {
	return &mockStream{events: make(chan sse.Event)}
}

func (s *mockStream) Events() <-chan sse.Event { return s.events }

func (s *mockStream) Err() error { return nil }

func (s *mockStream) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

// MockHistoryStore is a mock implementation of HistoryStore.
type MockHistoryStore struct {
	mu          sync.Mutex
	cleanups    int
	CleanupFunc func(ctx context.Context, retention time.Duration) (int64, error)
}

func (m *MockHistoryStore) GetProperties(ctx context.Context, identifier, slug string, from, to *time.Time) (model.Properties, error) {
	return model.Properties{}, nil
}

func (m *MockHistoryStore) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	m.mu.Lock()
	m.cleanups++
	m.mu.Unlock()
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx, retention)
	}
	return 0, nil
}

func (m *MockHistoryStore) Cleanups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanups
}
