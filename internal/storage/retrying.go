package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/metrics"
)

type opKind int

const (
	opPut opKind = iota
	opInsert
	opDelete
)

func (k opKind) String() string {
	switch k {
	case opPut:
		return "put"
	case opInsert:
		return "insert"
	default:
		return "delete"
	}
}

// pendingWrite is a write that has not reached the backend yet
type pendingWrite struct {
	op   opKind
	kind string
	id   string
	doc  []byte
}

// Retrying wraps a Backend. Reads are retried with exponential backoff.
// A failed write is queued in an ordered outbox and acknowledged; Run flushes
// the outbox until every write is durable. While the outbox is non-empty new
// writes queue behind it so the backend sees them in order.
type Retrying struct {
	next     Backend
	attempts int
	base     time.Duration
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	outbox []pendingWrite
	kick   chan struct{}
}

// NewRetrying wraps next with the retry and outbox settings from cfg
func NewRetrying(next Backend, cfg Config, logger zerolog.Logger) *Retrying {
	r := &Retrying{
		next:     next,
		attempts: cfg.RetryAttempts,
		base:     cfg.RetryBase,
		interval: cfg.FlushInterval,
		logger:   logger.With().Str("component", "store_retry").Logger(),
		kick:     make(chan struct{}, 1),
	}
	if r.attempts < 1 {
		r.attempts = 1
	}
	if r.base <= 0 {
		r.base = 100 * time.Millisecond
	}
	if r.interval <= 0 {
		r.interval = 2 * time.Second
	}
	return r
}

// backoff returns the wait before retry n (n starts at 1)
func (r *Retrying) backoff(n int) time.Duration {
	return r.base * time.Duration(1<<(n-1))
}

func (r *Retrying) read(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			metrics.Get().RecordStoreRetry(op)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff(attempt)):
			}
		}
		err = fn()
		if err == nil || errors.Is(err, ErrNotFound) {
			return err
		}
		r.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("store read failed")
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, r.attempts, err)
}

// latest returns the newest queued write for kind/id. Caller holds r.mu.
func (r *Retrying) latest(kind, id string) (pendingWrite, bool) {
	for i := len(r.outbox) - 1; i >= 0; i-- {
		if w := r.outbox[i]; w.kind == kind && w.id == id {
			return w, true
		}
	}
	return pendingWrite{}, false
}

func (r *Retrying) Get(ctx context.Context, kind, id string) ([]byte, error) {
	r.mu.Lock()
	w, queued := r.latest(kind, id)
	r.mu.Unlock()
	if queued {
		if w.op == opDelete {
			return nil, ErrNotFound
		}
		return append([]byte(nil), w.doc...), nil
	}

	var doc []byte
	err := r.read(ctx, "get", func() error {
		var err error
		doc, err = r.next.Get(ctx, kind, id)
		return err
	})
	return doc, err
}

// List reads from the backend only; writes still in the outbox are not merged
func (r *Retrying) List(ctx context.Context, kind, prefix string) ([][]byte, error) {
	var docs [][]byte
	err := r.read(ctx, "list", func() error {
		var err error
		docs, err = r.next.List(ctx, kind, prefix)
		return err
	})
	return docs, err
}

func (r *Retrying) Put(ctx context.Context, kind, id string, doc []byte) error {
	return r.write(ctx, pendingWrite{op: opPut, kind: kind, id: id, doc: append([]byte(nil), doc...)})
}

// Insert reports ErrExists synchronously when the backend is reachable. A
// queued insert that later meets an existing document is dropped.
func (r *Retrying) Insert(ctx context.Context, kind, id string, doc []byte) error {
	r.mu.Lock()
	if w, ok := r.latest(kind, id); ok && w.op != opDelete {
		r.mu.Unlock()
		return ErrExists
	}
	r.mu.Unlock()
	return r.write(ctx, pendingWrite{op: opInsert, kind: kind, id: id, doc: append([]byte(nil), doc...)})
}

func (r *Retrying) Delete(ctx context.Context, kind, id string) error {
	return r.write(ctx, pendingWrite{op: opDelete, kind: kind, id: id})
}

func (r *Retrying) write(ctx context.Context, w pendingWrite) error {
	r.mu.Lock()
	if len(r.outbox) > 0 {
		r.outbox = append(r.outbox, w)
		n := len(r.outbox)
		r.mu.Unlock()
		metrics.Get().SetOutboxPending(n)
		return nil
	}
	// holding mu keeps a concurrent failed write from being overtaken
	err := r.apply(ctx, w)
	if err == nil || errors.Is(err, ErrExists) {
		r.mu.Unlock()
		return err
	}
	r.outbox = append(r.outbox, w)
	n := len(r.outbox)
	r.mu.Unlock()

	metrics.Get().SetOutboxPending(n)
	r.logger.Warn().Err(err).
		Str("op", w.op.String()).
		Str("kind", w.kind).
		Str("id", w.id).
		Msg("store write failed, queued for retry")
	r.signal()
	return nil
}

func (r *Retrying) apply(ctx context.Context, w pendingWrite) error {
	switch w.op {
	case opPut:
		return r.next.Put(ctx, w.kind, w.id, w.doc)
	case opInsert:
		return r.next.Insert(ctx, w.kind, w.id, w.doc)
	default:
		return r.next.Delete(ctx, w.kind, w.id)
	}
}

func (r *Retrying) signal() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued writes
func (r *Retrying) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outbox)
}

// Flush writes queued operations in order, stopping at the first failure.
// It returns the number still pending.
func (r *Retrying) Flush(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	flushed := 0
	for len(r.outbox) > 0 {
		w := r.outbox[0]
		if err := r.apply(ctx, w); err != nil && !errors.Is(err, ErrExists) {
			metrics.Get().RecordStoreRetry(w.op.String())
			r.logger.Debug().Err(err).Int("pending", len(r.outbox)).Msg("outbox flush stalled")
			break
		}
		r.outbox = r.outbox[1:]
		flushed++
	}
	if len(r.outbox) == 0 {
		r.outbox = nil
	}
	if flushed > 0 {
		r.logger.Info().Int("flushed", flushed).Int("pending", len(r.outbox)).Msg("outbox flushed")
	}
	metrics.Get().SetOutboxPending(len(r.outbox))
	return len(r.outbox)
}

// Run flushes the outbox periodically and whenever a write is queued.
// On shutdown it makes one last attempt before returning.
func (r *Retrying) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if n := r.Flush(final); n > 0 {
				r.logger.Error().Int("pending", n).Msg("writes not persisted at shutdown")
			}
			cancel()
			return
		case <-ticker.C:
			r.Flush(ctx)
		case <-r.kick:
			// let the backend recover before the first retry
			select {
			case <-ctx.Done():
			case <-time.After(r.base):
				r.Flush(ctx)
			}
		}
	}
}

// Truncate clears the outbox and the backend
func (r *Retrying) Truncate(ctx context.Context) error {
	r.mu.Lock()
	r.outbox = nil
	r.mu.Unlock()
	metrics.Get().SetOutboxPending(0)
	return r.next.Truncate(ctx)
}

func (r *Retrying) Close() error {
	return r.next.Close()
}
