package utils

import (
	"context"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/cenkalti/backoff/v4"
)

// Retry invokes f up to maxRetries+1 times with a linearly growing
// delay between attempts (step, 2*step, 3*step, ...)
func Retry(ctx context.Context, f func() error, maxRetries int, step time.Duration) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{step: step}, uint64(maxRetries)), ctx)
	return backoff.RetryNotify(f, bo, func(err error, d time.Duration) {
		goapp.Log.Warn().Err(err).Dur("after", d).Msg("retry")
	})
}

type linearBackOff struct {
	step, next time.Duration
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.next += l.step
	return l.next
}

func (l *linearBackOff) Reset() {
	l.next = 0
}
