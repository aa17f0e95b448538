package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := New(KindTerminal, "invalid diff format").WithReason("too_many_type_errors")
	assert.Equal(t, KindTerminal, KindOf(err))
	assert.Equal(t, "too_many_type_errors", err.Reason)
	assert.False(t, ShouldRetry(err))
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestShouldRetryTransientOnly(t *testing.T) {
	assert.True(t, ShouldRetry(New(KindTransient, "timeout")))
	assert.False(t, ShouldRetry(New(KindUserInput, "bad repo")))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindTransient, "dial failed", cause)
	require.ErrorIs(t, err, cause)
}
