package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
)

// Failure taxonomy shared by the background services and the detector
var (
	ErrNotAuthenticated   = errors.New("Not logged in")
	ErrSessionExpired     = errors.New("Session expired, please log in again")
	ErrDailyLimitReached  = errors.New("DAILY_LIMIT_REACHED")
	ErrTransport          = errors.New("Request timed out")
	ErrRemoteRejected     = errors.New("remote service rejected the request")
	ErrExtractionTimeout  = errors.New("Timeout waiting for email body")
	ErrProviderRejected   = errors.New("identity provider rejected the request")
	ErrInvalidInput       = errors.New("invalid input provided")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Wire codes carried next to error messages across the message boundary
const (
	CodeNotAuthenticated  = "NOT_AUTHENTICATED"
	CodeSessionExpired    = "SESSION_EXPIRED"
	CodeDailyLimitReached = "DAILY_LIMIT_REACHED"
	CodeTransport         = "TRANSPORT"
	CodeRemoteRejected    = "REMOTE_REJECTED"
	CodeExtractionTimeout = "EXTRACTION_TIMEOUT"
	CodeProviderRejected  = "PROVIDER_REJECTED"
	CodeInvalidInput      = "INVALID_INPUT"
)

var codeSentinels = map[string]error{
	CodeNotAuthenticated:  ErrNotAuthenticated,
	CodeSessionExpired:    ErrSessionExpired,
	CodeDailyLimitReached: ErrDailyLimitReached,
	CodeTransport:         ErrTransport,
	CodeRemoteRejected:    ErrRemoteRejected,
	CodeExtractionTimeout: ErrExtractionTimeout,
	CodeProviderRejected:  ErrProviderRejected,
	CodeInvalidInput:      ErrInvalidInput,
}

// RemoteError is a non-2xx answer from the analysis service
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("Backend error %d: %s", e.Status, e.Body)
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemoteRejected }

// ProviderError carries the identity provider's error message verbatim
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string { return e.Message }

func (e *ProviderError) Is(target error) bool { return target == ErrProviderRejected }

// codedError is an error rebuilt from its wire form
type codedError struct {
	sentinel error
	message  string
}

func (e *codedError) Error() string { return e.message }
func (e *codedError) Unwrap() error { return e.sentinel }

// ErrorCode returns the wire code of err, or "" when it is outside the taxonomy
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDailyLimitReached):
		return CodeDailyLimitReached
	case errors.Is(err, ErrSessionExpired):
		return CodeSessionExpired
	case errors.Is(err, ErrNotAuthenticated):
		return CodeNotAuthenticated
	case errors.Is(err, ErrExtractionTimeout):
		return CodeExtractionTimeout
	case errors.Is(err, ErrProviderRejected):
		return CodeProviderRejected
	case errors.Is(err, ErrRemoteRejected):
		return CodeRemoteRejected
	case errors.Is(err, ErrTransport):
		return CodeTransport
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	}
	return ""
}

// ErrorFromWire rebuilds an error from its message and code. Unknown codes
// yield a plain error with the message.
func ErrorFromWire(code, message string) error {
	if sentinel, ok := codeSentinels[code]; ok {
		if message == "" {
			message = sentinel.Error()
		}
		return &codedError{sentinel: sentinel, message: message}
	}
	if message == "" {
		message = "Unknown error"
	}
	return errors.New(message)
}

// IsRetryableError determines if a failure is worth a user-initiated retry
// without any other action
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrRemoteRejected) ||
		errors.Is(err, ErrExtractionTimeout) ||
		errors.Is(err, ErrServiceUnavailable)
}

// IsAuthError reports whether the user has to log in again
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrSessionExpired)
}

// transportError marks network failures and timeouts as ErrTransport.
// Anything else is returned unchanged.
func transportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransport) {
		return err
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return err
}

// bestEffort runs a side operation whose failure must never fail the
// operation it accompanies. Failures are logged and dropped.
func bestEffort(logger *log.Logger, name string, fn func() error) {
	if err := fn(); err != nil && logger != nil {
		logger.Printf("best-effort %s failed: %v", name, err)
	}
}
