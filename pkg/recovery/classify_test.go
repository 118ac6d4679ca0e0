package recovery_test

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/recovery"
)

type fakeNetError struct {
	timeout bool
}

func (e *fakeNetError) Error() string   { return "dial tcp: broken" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

var _ net.Error = (*fakeNetError)(nil)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind recovery.Kind
	}{
		{
			name: "tagged error wins",
			err:  recovery.NewKindError(recovery.ResourceKind, "disk full"),
			kind: recovery.ResourceKind,
		},
		{
			name: "wrapped tagged error",
			err:  errors.Wrap(recovery.NewKindError(recovery.NetworkKind, "refused"), "fetch"),
			kind: recovery.NetworkKind,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			kind: recovery.TimeoutKind,
		},
		{
			name: "net error",
			err:  &fakeNetError{},
			kind: recovery.NetworkKind,
		},
		{
			name: "net error with timeout",
			err:  &fakeNetError{timeout: true},
			kind: recovery.TimeoutKind,
		},
		{
			name: "timeout by message",
			err:  fmt.Errorf("operation timed out after 5s"),
			kind: recovery.TimeoutKind,
		},
		{
			name: "connection refused by message",
			err:  fmt.Errorf("connection refused by peer"),
			kind: recovery.NetworkKind,
		},
		{
			name: "resource by message",
			err:  fmt.Errorf("write failed: no space left on device"),
			kind: recovery.ResourceKind,
		},
		{
			name: "validation by message",
			err:  fmt.Errorf("schema validation failed for field x"),
			kind: recovery.ValidationKind,
		},
		{
			name: "configuration by message",
			err:  fmt.Errorf("missing config key DB_HOST"),
			kind: recovery.ConfigurationKind,
		},
		{
			name: "unknown fallback",
			err:  fmt.Errorf("something odd happened"),
			kind: recovery.UnknownKind,
		},
		{
			name: "nil",
			err:  nil,
			kind: recovery.UnknownKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, recovery.KindOf(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		severity  recovery.Severity
		category  recovery.Category
		retryable bool
	}{
		{
			name:      "network is transient and retryable",
			err:       recovery.NewKindError(recovery.NetworkKind, "refused"),
			severity:  recovery.MediumSeverity,
			category:  recovery.TransientCategory,
			retryable: true,
		},
		{
			name:      "timeout is transient and retryable",
			err:       recovery.NewKindError(recovery.TimeoutKind, "deadline"),
			severity:  recovery.MediumSeverity,
			category:  recovery.TransientCategory,
			retryable: true,
		},
		{
			name:      "resource is recoverable but not retryable",
			err:       recovery.NewKindError(recovery.ResourceKind, "disk full"),
			severity:  recovery.HighSeverity,
			category:  recovery.RecoverableCategory,
			retryable: false,
		},
		{
			name:      "validation is fatal",
			err:       recovery.NewKindError(recovery.ValidationKind, "bad input"),
			severity:  recovery.HighSeverity,
			category:  recovery.FatalCategory,
			retryable: false,
		},
		{
			name:      "configuration is critical",
			err:       recovery.NewKindError(recovery.ConfigurationKind, "no dsn"),
			severity:  recovery.CriticalSeverity,
			category:  recovery.FatalCategory,
			retryable: false,
		},
		{
			name:      "protocol is recoverable",
			err:       recovery.NewKindError(recovery.ProtocolKind, "invalid transition"),
			severity:  recovery.HighSeverity,
			category:  recovery.RecoverableCategory,
			retryable: false,
		},
		{
			name:      "retry exhausted is fatal",
			err:       errors.Wrap(recovery.ErrRetryBudgetExceeded, "task x"),
			severity:  recovery.HighSeverity,
			category:  recovery.FatalCategory,
			retryable: false,
		},
		{
			name:      "unknown stays retryable",
			err:       fmt.Errorf("mystery"),
			severity:  recovery.MediumSeverity,
			category:  recovery.UnknownCategory,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := recovery.Classify(tt.err)
			assert.Equal(t, tt.severity, c.Severity)
			assert.Equal(t, tt.category, c.Category)
			assert.Equal(t, tt.retryable, c.Retryable)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	err := recovery.NewKindError(recovery.NetworkKind, "refused")
	first := recovery.Classify(err)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, recovery.Classify(err))
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		action recovery.Action
	}{
		{
			name:   "critical aborts",
			err:    recovery.NewKindError(recovery.ConfigurationKind, "no dsn"),
			action: recovery.AbortAction,
		},
		{
			name:   "fatal escalates",
			err:    recovery.NewKindError(recovery.ValidationKind, "bad input"),
			action: recovery.EscalateAction,
		},
		{
			name:   "transient retries",
			err:    recovery.NewKindError(recovery.TimeoutKind, "deadline"),
			action: recovery.RetryAction,
		},
		{
			name:   "recoverable rolls back",
			err:    recovery.NewKindError(recovery.ResourceKind, "disk full"),
			action: recovery.RollbackAction,
		},
		{
			name:   "unknown retries",
			err:    fmt.Errorf("mystery"),
			action: recovery.RetryAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.action, recovery.Decide(tt.err))
		})
	}
}

func TestKindErrorUnwrap(t *testing.T) {
	cause := os.ErrPermission
	err := recovery.WrapKind(recovery.ResourceKind, cause)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, recovery.ResourceKind, recovery.KindOf(err))

	// Wrapping yet again keeps the tag reachable.
	wrapped := errors.Wrap(err, "outer")
	assert.Equal(t, recovery.ResourceKind, recovery.KindOf(wrapped))
}

func TestTimeoutAfterWrapping(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	err := errors.Wrap(ctx.Err(), "phase acting")
	assert.Equal(t, recovery.TimeoutKind, recovery.KindOf(err))
}
