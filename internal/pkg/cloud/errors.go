package cloud

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNoToken        = errors.New("no access token available")
	ErrDeviceOffline  = errors.New("appliance is offline")
	ErrNotImplemented = errors.New("operation not supported by appliance")
)

// Vendor error keys.
const (
	errKeyUnsupportedOperation = "SDK.Error.UnsupportedOperation"
	errKeyUnsupportedSetting   = "SDK.Error.UnsupportedSetting"
	errKeyNoProgramActive      = "SDK.Error.NoProgramActive"
	errKeyNoProgramSelected    = "SDK.Error.NoProgramSelected"
)

// APIError is a non 2xx response from the cloud API.
type APIError struct {
	Status      int
	Key         string
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("home connect api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("home connect api: %d %s: %s", e.Status, e.Key, e.Description)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrDeviceOffline:
		return e.Status == http.StatusConflict
	case ErrNotImplemented:
		return e.Status == http.StatusNotFound || e.Key == errKeyUnsupportedOperation || e.Key == errKeyUnsupportedSetting
	}
	return false
}

// retryable reports whether the request may succeed when sent again: expired
// tokens and server side failures.
func (e *APIError) retryable() bool {
	return e.Status == http.StatusUnauthorized || e.Status >= http.StatusInternalServerError
}

// absent reports whether the error means "no data" for a sub resource.
func absent(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return errors.Is(err, ErrNotImplemented) || errors.Is(err, ErrDeviceOffline) ||
		apiErr.Key == errKeyNoProgramActive || apiErr.Key == errKeyNoProgramSelected
}
