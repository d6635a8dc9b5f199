package contxt

import (
	"context"
	"os"
	"time"
)

// NewContext bounds parent by timeout. With CONTEXT_TEST set the timeout is
// skipped so tests can step through sinks without deadlines.
func NewContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if os.Getenv("CONTEXT_TEST") != "" {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
