package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Error(t *testing.T) {
	t.Run("with field", func(t *testing.T) {
		err := NewValidationError("queue", "worker_count", ErrInvalidValue)
		assert.Contains(t, err.Error(), "queue")
		assert.Contains(t, err.Error(), "worker_count")
	})

	t.Run("without field", func(t *testing.T) {
		err := NewValidationError("queue", "", ErrMissingRequiredField)
		assert.Contains(t, err.Error(), "queue")
		assert.NotContains(t, err.Error(), "field ''")
	})

	t.Run("unwraps", func(t *testing.T) {
		err := NewValidationError("queue", "worker_count", ErrInvalidValue)
		assert.True(t, errors.Is(err, ErrInvalidValue))
	})
}

func TestLoadError_Error(t *testing.T) {
	err := NewLoadError("devpipe.yaml", ErrConfigNotFound)
	assert.Contains(t, err.Error(), "devpipe.yaml")
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}
