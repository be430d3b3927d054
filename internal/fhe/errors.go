package fhe

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedBitWidth is returned for widths other than 8, 16, 32 and
	// 64 bits.
	ErrUnsupportedBitWidth = errors.New("unsupported bit width")

	// ErrValueOutOfRange is returned when a plaintext does not fit its width.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrEmptyBatch is returned when asked to encrypt no values.
	ErrEmptyBatch = errors.New("no values to encrypt")

	// ErrInvalidAddress is returned for a zero contract or user address.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrNotAuthorized is returned when the service refuses to decrypt a
	// handle for the requesting user.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrHandleNotFound is returned when the service does not know a handle.
	ErrHandleNotFound = errors.New("handle not found")

	// ErrUninitializedHandle is returned when asked to decrypt the all-zero
	// handle, which refers to a value that was never written.
	ErrUninitializedHandle = errors.New("handle is uninitialized")
)

// Initialization phases.
const (
	PhaseLoadModule     = "load-module"
	PhaseCreateInstance = "create-instance"
)

// InitError reports a failed initialization. The coordinator is left
// retryable.
type InitError struct {
	Phase string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("encryption service initialization failed during %s: %s", e.Phase, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ServiceError is a failure reported by, or on the way to, the encryption
// service. These are usually transient and safe to retry.
type ServiceError struct {
	// Op is the operation that failed, e.g. "input-proof".
	Op string
	// StatusCode is the HTTP status, or 0 if no response was received.
	StatusCode int
	// Reason is a human-readable explanation.
	Reason string
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("encryption service %s failed: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("encryption service %s failed with status %d: %s", e.Op, e.StatusCode, e.Reason)
}
