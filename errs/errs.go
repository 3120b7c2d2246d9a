// Package errs defines the enumerated error kinds used across the exit-delay
// verifier and a one-shot logging wrapper around them, matching the
// teacher's preference for sentinel/wrapped errors over panics.
package errs

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Kind enumerates the error categories propagated between components. See
// the component design notes for which stage originates each kind and how
// it is expected to propagate.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransportRetryable
	KindSlotSkipped
	KindUnsupportedFork
	KindStateDeserialization
	KindMalformedExitData
	KindProofInternalError
	KindEmulationFailed
	KindGasLimitExceeded
	KindHighGasFee
	KindSendFailed
	KindNoSigner
)

func (k Kind) String() string {
	switch k {
	case KindTransportRetryable:
		return "TransportRetryable"
	case KindSlotSkipped:
		return "SlotSkipped"
	case KindUnsupportedFork:
		return "UnsupportedFork"
	case KindStateDeserialization:
		return "StateDeserialization"
	case KindMalformedExitData:
		return "MalformedExitData"
	case KindProofInternalError:
		return "ProofInternalError"
	case KindEmulationFailed:
		return "EmulationFailed"
	case KindGasLimitExceeded:
		return "GasLimitExceeded"
	case KindHighGasFee:
		return "HighGasFee"
	case KindSendFailed:
		return "SendFailed"
	case KindNoSigner:
		return "NoSigner"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying error with a Kind, a synthetic id assigned on
// first emission, and a Logged flag. Re-traversal through multiple
// components should check Logged before writing the full error again and
// emit only the ID on subsequent sightings.
type Error struct {
	Kind   Kind
	ID     string
	Logged bool
	Err    error

	// Fields carries kind-specific structured context (e.g. GasLimitExceeded
	// carries the estimated and configured values).
	Fields map[string]any
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s[%s]", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s[%s]: %v", e.Kind, e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a fresh *Error with a newly assigned synthetic id.
func New(kind Kind, err error) *Error {
	return &Error{
		Kind: kind,
		ID:   newID(),
		Err:  err,
	}
}

// Withf creates a fresh *Error from a formatted message.
func Withf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Errorf(format, args...))
}

// WithField attaches a structured field and returns the receiver for chaining.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// MarkLogged flips the Logged flag. Callers should call this exactly once,
// at the point where the full error (message + fields) is actually written
// to the log; subsequent sightings of the same *Error should log only ID().
func (e *Error) MarkLogged() { e.Logged = true }

// Is supports errors.Is comparisons against a bare Kind sentinel created via
// New(kind, nil), so call sites can write errors.Is(err, errs.New(errs.KindSlotSkipped, nil)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Of extracts the *Error wrapper from err, if any, via errors.As.
func Of(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it wraps an *Error, else KindUnknown.
func KindOf(err error) Kind {
	if e, ok := Of(err); ok {
		return e.Kind
	}
	return KindUnknown
}

func newID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
