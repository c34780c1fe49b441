package clean

import (
	"context"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/pkg/errors"
)

// Sweeper runs one expired-files cleanup pass
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Time, limit int, deadline time.Time) (*SweepReport, error)
}

// TimerData configures the periodic files sweep
type TimerData struct {
	RunEvery  time.Duration
	Expire    time.Duration
	MaxPerRun int
	Budget    time.Duration
	Sweeper   Sweeper
}

// StartSweepTimer runs the sweep loop until ctx is canceled.
// The returned channel is closed when the loop exits
func StartSweepTimer(ctx context.Context, data *TimerData) (<-chan struct{}, error) {
	if err := validateTimer(data); err != nil {
		return nil, err
	}
	if data.MaxPerRun <= 0 {
		data.MaxPerRun = 100
	}
	goapp.Log.Info().Dur("runEvery", data.RunEvery).Dur("expire", data.Expire).
		Int("maxPerRun", data.MaxPerRun).Msg("starting sweep timer")
	res := make(chan struct{})
	go func() {
		defer close(res)
		serviceLoop(ctx, data)
	}()
	return res, nil
}

func validateTimer(data *TimerData) error {
	if data.Sweeper == nil {
		return errors.New("no sweeper")
	}
	if data.RunEvery <= 0 {
		return errors.New("no runEvery")
	}
	if data.Expire <= 0 {
		return errors.New("no expire")
	}
	return nil
}

func serviceLoop(ctx context.Context, data *TimerData) {
	ticker := time.NewTicker(data.RunEvery)
	defer ticker.Stop()
	doSweep(ctx, data)
	for {
		select {
		case <-ctx.Done():
			goapp.Log.Info().Msg("exit sweep timer")
			return
		case <-ticker.C:
			doSweep(ctx, data)
		}
	}
}

func doSweep(ctx context.Context, data *TimerData) {
	var deadline time.Time
	if data.Budget > 0 {
		deadline = time.Now().Add(data.Budget)
	}
	rep, err := data.Sweeper.Sweep(ctx, time.Now().Add(-data.Expire), data.MaxPerRun, deadline)
	if err != nil {
		goapp.Log.Error().Err(err).Msg("sweep failed")
	}
	if rep != nil {
		goapp.Log.Info().Int("selected", rep.Selected).Int("cleaned", rep.Cleaned).
			Int("failed", rep.Failed).Bool("partial", rep.Partial).Msg("sweep done")
	}
}
