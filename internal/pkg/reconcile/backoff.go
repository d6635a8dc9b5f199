package reconcile

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func (e *Engine) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialBackoff
	b.MaxInterval = e.cfg.MaxBackoff
	b.RandomizationFactor = e.cfg.Jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// nextDelay returns the wait before the next attempt. A server supplied
// retry hint raises the delay, bounded by MaxRetryAfter.
func (e *Engine) nextDelay(b backoff.BackOff, cause error) time.Duration {
	d := b.NextBackOff()
	if d == backoff.Stop {
		d = e.cfg.MaxBackoff
	}
	var te *TransportError
	if errors.As(cause, &te) && te.RetryAfter > d {
		d = min(te.RetryAfter, e.cfg.MaxRetryAfter)
	}
	return d
}
