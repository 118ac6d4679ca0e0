package recovery

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the failure family an error belongs to. Classification
// is derived from the kind, never stored alongside the error.
type Kind string

const (
	NetworkKind        Kind = "network"
	TimeoutKind        Kind = "timeout"
	ResourceKind       Kind = "resource"
	ValidationKind     Kind = "validation"
	ConfigurationKind  Kind = "configuration"
	ProtocolKind       Kind = "protocol"
	RetryExhaustedKind Kind = "retry-exhausted"
	UnknownKind        Kind = "unknown"
)

// KindError tags an underlying error with a failure kind so Classify can
// map it deterministically instead of sniffing messages.
type KindError struct {
	Kind Kind
	Err  error
}

func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap allows errors.Is and errors.As to reach the underlying error.
func (e *KindError) Unwrap() error {
	return e.Err
}

// WrapKind tags err with the given kind. Returns nil for a nil err.
func WrapKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// NewKindError builds a tagged error from a message.
func NewKindError(kind Kind, msg string) error {
	return &KindError{Kind: kind, Err: errors.New(msg)}
}

// ErrRetryBudgetExceeded marks a failure whose retry budget ran out.
// Both the scheduler and the state machine wrap their final attempt
// errors with it so callers can tell exhaustion from a single failure.
var ErrRetryBudgetExceeded = NewKindError(RetryExhaustedKind, "retry budget exceeded")
