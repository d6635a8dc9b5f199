package cloud

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ConnectEventStream(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, eventsPath, r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: KEEP-ALIVE\n\n")
		fmt.Fprint(w, "id: A\nevent: STATUS\ndata: {\"haId\":\"A\",\"items\":[]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	stream, err := c.ConnectEventStream(ctx)
	// the handshake context no longer governs the open stream
	cancel()
	require.NoError(t, err)
	defer stream.Close()

	var types []string
	for len(types) < 2 {
		select {
		case evt, ok := <-stream.Events():
			require.True(t, ok, "stream ended early: %v", stream.Err())
			types = append(types, evt.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("no events received")
		}
	}
	assert.Equal(t, []string{"KEEP-ALIVE", "STATUS"}, types)
}

func TestClient_ConnectEventStream_RateLimited(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusTooManyRequests, "429")
	}))

	_, err := c.ConnectEventStream(context.Background())
	var te *reconcile.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, defaultRetryAfter, te.RetryAfter)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
}

func TestClient_ConnectEventStream_Unauthorized(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusUnauthorized, "invalid_token")
	}))

	_, err := c.ConnectEventStream(context.Background())
	var te *reconcile.TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.RetryAfter)
}

func TestClient_ConnectEventStream_SessionEnds(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	c.cfg.MaxStreamSession = 50 * time.Millisecond

	stream, err := c.ConnectEventStream(context.Background())
	require.NoError(t, err)
	select {
	case _, ok := <-stream.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream session was not bounded")
	}
}
