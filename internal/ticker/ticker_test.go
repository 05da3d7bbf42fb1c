package ticker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewTicker(t *testing.T) {
	ticker := NewTicker("noop", time.Second, func(context.Context, time.Time) {}, zerolog.Nop())

	if ticker == nil {
		t.Fatal("expected ticker to be created")
	}

	if ticker.interval != 1*time.Second {
		t.Errorf("expected interval 1s, got %v", ticker.interval)
	}

	if ticker.name != "noop" {
		t.Errorf("expected name noop, got %s", ticker.name)
	}
}

func TestTickerRunsTask(t *testing.T) {
	var runs atomic.Int32
	ticker := NewTicker("count", 20*time.Millisecond, func(context.Context, time.Time) {
		runs.Add(1)
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan bool)
	go func() {
		ticker.Start(ctx)
		done <- true
	}()
	<-done

	if runs.Load() < 2 {
		t.Errorf("expected at least 2 runs, got %d", runs.Load())
	}
}

func TestTickerSurvivesPanic(t *testing.T) {
	var runs atomic.Int32
	ticker := NewTicker("panicky", 20*time.Millisecond, func(context.Context, time.Time) {
		if runs.Add(1) == 1 {
			panic("boom")
		}
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	ticker.Start(ctx)

	if runs.Load() < 2 {
		t.Errorf("expected ticker to keep running after a panic, got %d runs", runs.Load())
	}
}

func TestTickerStopsOnContextCancel(t *testing.T) {
	ticker := NewTicker("idle", 100*time.Millisecond, func(context.Context, time.Time) {}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool)
	go func() {
		ticker.Start(ctx)
		done <- true
	}()

	// Let it run for a bit
	time.Sleep(150 * time.Millisecond)

	cancel()

	select {
	case <-done:
		// Success - ticker stopped
	case <-time.After(1 * time.Second):
		t.Error("ticker did not stop within timeout after context cancel")
	}
}
