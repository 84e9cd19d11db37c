package mot

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAPIKey is returned when an ingest mode is started without a key.
	ErrMissingAPIKey = errors.New("an api key is required")

	// ErrRetriesExhausted marks a page whose fetch kept failing transiently
	// until the attempt budget ran out.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// ConfigurationError reports invalid or missing configuration. It is fatal
// and raised before any network activity.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransientError is a retryable fetch failure: timeouts, connection errors,
// non-2xx responses other than 404 and undecodable bodies. StatusCode is 0
// when no response was received.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transient fetch failure: %v", e.Err)
	}
	return fmt.Sprintf("transient fetch failure (status %d): %v", e.StatusCode, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StorageError reports a failed write. The batch it belongs to was rolled
// back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
