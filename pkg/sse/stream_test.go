package sse

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_DeliversEventsThenEOF(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewStream(pr)

	go func() {
		_, _ = pw.Write([]byte("event: STATUS\ndata: one\n\n"))
		_, _ = pw.Write([]byte("event: NOTIFY\ndata: two\n\n"))
		_ = pw.Close()
	}()

	var got []string
	for evt := range s.Events() {
		got = append(got, string(evt.Data))
	}
	assert.Equal(t, []string{"one", "two"}, got)
	assert.ErrorIs(t, s.Err(), io.EOF)
	require.NoError(t, s.Close())
}

func TestStream_IdleTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewStream(pr, WithIdleTimeout(50*time.Millisecond))

	select {
	case _, ok := <-s.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after idle timeout")
	}
	assert.ErrorIs(t, s.Err(), ErrIdleTimeout)
}

func TestStream_CloseUnblocksReader(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	closed := make(chan struct{})
	s := NewStream(pr, OnClose(func() { close(closed) }))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	<-closed
	_, ok := <-s.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, s.Err(), ErrClosed)
}
