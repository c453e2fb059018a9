// Package types defines the shared types used across all livescribe packages.
//
// The error taxonomy lives here so that the capture pipeline, the live session
// layer, the provider constructors, and the recorder can all classify failures
// against the same sentinels without importing each other. Device- and
// network-level failures are translated into one of these kinds at the
// boundary where they occur; the recorder never sees a raw transport error.
package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the four failure kinds. Use [errors.Is] to test for a
// kind; the concrete error returned by a boundary is usually an [*Error] that
// wraps one of these.
var (
	// ErrPermissionDenied means microphone access was refused or no input
	// device could be opened. Fatal to the current start attempt.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrConnectionFailure means the live session failed to open or was
	// interrupted after opening.
	ErrConnectionFailure = errors.New("connection failure")

	// ErrCredentialMissing means no service credential was configured. It is
	// raised before any device or network access is attempted.
	ErrCredentialMissing = errors.New("service credential missing")

	// ErrEncoding means malformed sample data reached the frame encoder. This
	// is a programming error, not a user-recoverable condition.
	ErrEncoding = errors.New("malformed audio samples")
)

// Kind classifies an [Error].
type Kind int

const (
	KindUnknown Kind = iota
	KindPermissionDenied
	KindConnectionFailure
	KindCredentialMissing
	KindEncoding
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindConnectionFailure:
		return "connection_failure"
	case KindCredentialMissing:
		return "credential_missing"
	case KindEncoding:
		return "encoding"
	default:
		return "unknown"
	}
}

// sentinel returns the package-level sentinel for k, or nil for KindUnknown.
func (k Kind) sentinel() error {
	switch k {
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindConnectionFailure:
		return ErrConnectionFailure
	case KindCredentialMissing:
		return ErrCredentialMissing
	case KindEncoding:
		return ErrEncoding
	default:
		return nil
	}
}

// Error is a classified failure with a stable, user-facing reason.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind Kind

	// Reason is a short stable message suitable for display, e.g.
	// "connection interrupted".
	Reason string

	// Err is the underlying cause, if any. It is kept for logging; callers
	// should not match on it.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

// Unwrap exposes both the kind sentinel and the underlying cause so that
// errors.Is works against either.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewError builds a classified error.
func NewError(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// KindOf reports the taxonomy kind of err. Unclassified errors (including
// nil) return KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range []Kind{KindPermissionDenied, KindConnectionFailure, KindCredentialMissing, KindEncoding} {
		if errors.Is(err, k.sentinel()) {
			return k
		}
	}
	return KindUnknown
}

// Reason returns the stable user-facing reason of err. For unclassified
// errors it falls back to err.Error().
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}
