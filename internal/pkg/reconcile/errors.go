package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
)

var (
	ErrNotRunning     = errors.New("sync engine is not running")
	ErrAlreadyRunning = errors.New("sync engine is already running")
)

// TransportError is any failure to reach the vendor cloud: connectivity, auth
// rejection, timeouts. RetryAfter is a lower bound for the next attempt when
// the server asked for one.
type TransportError struct {
	Op         string
	Err        error
	RetryAfter time.Duration
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConsistencyError is raised for an event that references an appliance the
// registry does not know about.
type ConsistencyError struct {
	ApplianceID string
	EventType   model.EventType
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s event for unknown appliance %s", e.EventType, e.ApplianceID)
}

func asTransportError(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
