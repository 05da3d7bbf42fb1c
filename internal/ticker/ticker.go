// Package ticker runs housekeeping tasks on a fixed interval.
package ticker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Task is one periodic unit of work
type Task func(ctx context.Context, now time.Time)

// Ticker runs a task every interval until its context ends
type Ticker struct {
	name     string
	task     Task
	interval time.Duration
	logger   zerolog.Logger
}

// NewTicker creates a new Ticker
func NewTicker(name string, interval time.Duration, task Task, logger zerolog.Logger) *Ticker {
	return &Ticker{
		name:     name,
		task:     task,
		interval: interval,
		logger:   logger.With().Str("component", "ticker").Str("task", name).Logger(),
	}
}

// Start runs the task until ctx is cancelled. A panicking task is logged
// and the ticker keeps running.
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("ticker started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("ticker stopped")
			return

		case now := <-ticker.C:
			t.run(ctx, now)
		}
	}
}

func (t *Ticker) run(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Msg("task panicked")
		}
	}()
	t.task(ctx, now)
}
