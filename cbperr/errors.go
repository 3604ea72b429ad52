// Package cbperr defines the stable error taxonomy shared by the codec and
// the agent message bus. Every terminal error in this module carries one of
// the kinds below so callers can branch on Kind() instead of matching error
// strings.
package cbperr

import "fmt"

// Kind is a stable discriminator for an error value.
type Kind string

const (
	// Codec errors (non-retryable, §4.3.5)
	KindFrameTooShort      Kind = "frame_too_short"
	KindBadMagic           Kind = "bad_magic"
	KindUnsupportedVersion Kind = "unsupported_version"
	KindLengthMismatch     Kind = "length_mismatch"
	KindCRCMismatch        Kind = "crc_mismatch"
	KindHashNotFound       Kind = "hash_not_found"
	KindDecompressionFailed Kind = "decompression_failed"
	KindUnpackFailed       Kind = "unpack_failed"
	KindInvalidSchema      Kind = "invalid_schema"

	// Bus errors (§7)
	KindTimeout          Kind = "timeout"
	KindCircuitOpen      Kind = "circuit_open"
	KindAgentNotFound    Kind = "agent_not_found"
	KindHandlerFailure   Kind = "handler_failure"
	KindInvalidInput     Kind = "invalid_input"
	KindBusShuttingDown  Kind = "bus_shutting_down"
	KindPermission       Kind = "permission"

	// Transient classifications recognized by the retry wrapper (§4.5.5).
	// These never originate from the codec; handlers report them via
	// message.NewError or cbperr.New so send_and_wait's retry loop can classify
	// the resulting error kind.
	KindNetwork  Kind = "network"
	KindResource Kind = "resource"
)

// Recoverable reports whether an error of this kind can ever succeed if the
// caller waits and retries later with no change in inputs.
func (k Kind) Recoverable() bool {
	switch k {
	case KindTimeout, KindCircuitOpen, KindAgentNotFound, KindHandlerFailure:
		return true
	default:
		return false
	}
}

// Retriable reports whether the bus's own retry-with-backoff loop should
// attempt this kind again automatically. Per §4.5.5, only timeout,
// network, and resource errors are transient; invalid_input and
// permission are never retried regardless of attempts remaining.
func (k Kind) Retriable() bool {
	switch k {
	case KindTimeout, KindNetwork, KindResource:
		return true
	default:
		return false
	}
}

// Error is the concrete error type produced by the codec and the bus. It
// always carries a stable Kind, a human message, and an optional structured
// context for diagnostics.
type Error struct {
	ErrKind Kind
	Message string
	Context map[string]any
	Cause   error
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{ErrKind: kind, Message: message}
}

// Wrap builds an *Error that wraps an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{ErrKind: kind, Message: message, Cause: cause}
}

// WithContext attaches structured context and returns the same error for
// chaining at the construction site.
func (e *Error) WithContext(ctx map[string]any) *Error {
	e.Context = ctx
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrKind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.ErrKind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Kind returns the stable discriminator, satisfying a `Kind() Kind` seam
// that callers can type-assert for instead of comparing error strings.
func (e *Error) Kind() Kind {
	return e.ErrKind
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*Error)
	if !ok {
		return false
	}
	return ce.ErrKind == kind
}
