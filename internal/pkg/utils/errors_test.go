package utils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrNonRetryable(t *testing.T) {
	err := NewErrNonRetryable(fmt.Errorf("olia"))
	assert.Equal(t, "non retryable error: olia", err.Error())
	assert.False(t, IsRetryable(err))
	assert.False(t, IsRetryable(fmt.Errorf("wrap: %w", err)))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("olia")))
	assert.False(t, IsRetryable(ErrQuotaExceeded))
	assert.False(t, IsRetryable(fmt.Errorf("no org: %w", ErrNotFound)))
	assert.True(t, IsRetryable(ErrVersionConflict))
}
