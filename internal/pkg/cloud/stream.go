package cloud

import (
	"context"
	"net/http"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/reconcile"
	"github.com/anicoll/homeconnect-integration/pkg/sse"
	"go.uber.org/zap"
)

const eventsPath = "/api/homeappliances/events"

// ConnectEventStream opens the event stream for all appliances. ctx bounds the
// handshake only. The session is closed once MaxStreamSession elapses or the
// access token expires, whichever is first, so that the engine reconnects with
// a fresh token.
func (c *Client) ConnectEventStream(ctx context.Context) (reconcile.EventStream, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &reconcile.TransportError{Op: "stream", Err: err}
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopHandshake := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.cfg.Host+eventsPath, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.Language != "" {
		req.Header.Set("Accept-Language", c.cfg.Language)
	}

	resp, err := c.streamClient.Do(req)
	if !stopHandshake() && err == nil {
		// ctx ended right after the response arrived
		resp.Body.Close()
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		return nil, &reconcile.TransportError{Op: "stream", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := readAPIError(resp)
		resp.Body.Close()
		cancel()
		te := &reconcile.TransportError{Op: "stream", Err: apiErr}
		if apiErr.Status == http.StatusTooManyRequests {
			te.RetryAfter = max(apiErr.RetryAfter, defaultRetryAfter)
		}
		return nil, te
	}

	opts := []func(*sse.Stream){sse.OnClose(cancel)}
	if c.cfg.StreamIdleTimeout > 0 {
		opts = append(opts, sse.WithIdleTimeout(c.cfg.StreamIdleTimeout))
	}
	stream := sse.NewStream(resp.Body, opts...)

	if session := c.sessionLength(token); session > 0 {
		timer := time.AfterFunc(session, func() {
			c.logger.Info("event stream session ended, renewing", zap.Duration("session", session))
			_ = stream.Close()
		})
		context.AfterFunc(streamCtx, func() { timer.Stop() })
	}
	c.logger.Info("event stream connected")
	return stream, nil
}

func (c *Client) sessionLength(token string) time.Duration {
	session := c.cfg.MaxStreamSession
	if exp, ok := tokenExpiry(token); ok {
		untilExpiry := exp.Sub(c.now())
		if untilExpiry <= 0 {
			return time.Second
		}
		if session <= 0 || untilExpiry < session {
			session = untilExpiry
		}
	}
	return session
}
