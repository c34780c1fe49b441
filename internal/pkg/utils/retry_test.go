package utils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_OK(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return nil
	}, 3, time.Millisecond)
	assert.Nil(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("olia")
		}
		return nil
	}, 3, time.Millisecond)
	assert.Nil(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return fmt.Errorf("olia")
	}, 3, time.Millisecond)
	assert.NotNil(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetry_Canceled(t *testing.T) {
	ctx, cf := context.WithCancel(context.Background())
	cf()
	calls := 0
	err := Retry(ctx, func() error {
		calls++
		return fmt.Errorf("olia")
	}, 3, time.Second)
	assert.NotNil(t, err)
	assert.Equal(t, 1, calls)
}

func TestLinearBackOff(t *testing.T) {
	l := &linearBackOff{step: time.Second}
	assert.Equal(t, time.Second, l.NextBackOff())
	assert.Equal(t, 2*time.Second, l.NextBackOff())
	assert.Equal(t, 3*time.Second, l.NextBackOff())
	l.Reset()
	assert.Equal(t, time.Second, l.NextBackOff())
}
