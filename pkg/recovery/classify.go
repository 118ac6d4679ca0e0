package recovery

import (
	"context"
	"errors"
	"net"
	"strings"
)

type Severity string

const (
	LowSeverity      Severity = "LOW"
	MediumSeverity   Severity = "MEDIUM"
	HighSeverity     Severity = "HIGH"
	CriticalSeverity Severity = "CRITICAL"
)

type Category string

const (
	TransientCategory   Category = "TRANSIENT"
	RecoverableCategory Category = "RECOVERABLE"
	FatalCategory       Category = "FATAL"
	UnknownCategory     Category = "UNKNOWN"
)

// Action is the recovery strategy chosen for a classified error.
type Action string

const (
	RetryAction    Action = "RETRY"
	RollbackAction Action = "ROLLBACK"
	SkipAction     Action = "SKIP"
	EscalateAction Action = "ESCALATE"
	AbortAction    Action = "ABORT"
)

// Classification describes an error's severity, category and whether the
// caller may retry it. Derived on demand, never persisted.
type Classification struct {
	Severity             Severity `json:"severity"`
	Category             Category `json:"category"`
	Retryable            bool     `json:"retryable"`
	RequiresIntervention bool     `json:"requires_intervention"`
}

// KindOf resolves the failure kind of an error. Tagged errors win;
// otherwise well-known stdlib errors and message heuristics apply, with
// unknown as the fallback.
func KindOf(err error) Kind {
	if err == nil {
		return UnknownKind
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutKind
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return TimeoutKind
		}
		return NetworkKind
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline"):
		return TimeoutKind
	case containsAny(msg, "connection", "network", "unreachable", "dns", "econnrefused"):
		return NetworkKind
	case containsAny(msg, "no space", "disk full", "out of memory", "too many open files"):
		return ResourceKind
	case containsAny(msg, "validation", "invalid input", "schema", "malformed"):
		return ValidationKind
	case containsAny(msg, "configuration", "config"):
		return ConfigurationKind
	case containsAny(msg, "invalid transition", "not running", "protocol"):
		return ProtocolKind
	default:
		return UnknownKind
	}
}

// Classify maps an error to its classification. Deterministic and
// side-effect free; safe to call from any goroutine.
func Classify(err error) Classification {
	switch KindOf(err) {
	case NetworkKind:
		return Classification{Severity: MediumSeverity, Category: TransientCategory, Retryable: true}
	case TimeoutKind:
		return Classification{Severity: MediumSeverity, Category: TransientCategory, Retryable: true}
	case ResourceKind:
		return Classification{Severity: HighSeverity, Category: RecoverableCategory, Retryable: false, RequiresIntervention: true}
	case ValidationKind:
		return Classification{Severity: HighSeverity, Category: FatalCategory, Retryable: false, RequiresIntervention: true}
	case ConfigurationKind:
		return Classification{Severity: CriticalSeverity, Category: FatalCategory, Retryable: false, RequiresIntervention: true}
	case ProtocolKind:
		return Classification{Severity: HighSeverity, Category: RecoverableCategory, Retryable: false}
	case RetryExhaustedKind:
		return Classification{Severity: HighSeverity, Category: FatalCategory, Retryable: false, RequiresIntervention: true}
	default:
		// Optimistic default: unrecognized errors are worth one more try.
		return Classification{Severity: MediumSeverity, Category: UnknownCategory, Retryable: true}
	}
}

// Decide chooses the recovery action for an error. The scheduler applies
// the result at task granularity (skip dependents), the state machine at
// pipeline granularity (rollback or abort the run).
func Decide(err error) Action {
	c := Classify(err)
	switch {
	case c.Severity == CriticalSeverity:
		return AbortAction
	case c.Category == FatalCategory:
		return EscalateAction
	case c.Retryable:
		return RetryAction
	case c.Category == RecoverableCategory:
		return RollbackAction
	default:
		return SkipAction
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
