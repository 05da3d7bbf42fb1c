package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultBuffer = 1024

// Envelope is the JSON body of every published event
type Envelope struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Emitter accepts events from the core without blocking and publishes them
// from a single goroutine. The topic of kind "dialer.dial_result" under
// prefix "contactcore" is "contactcore/dialer/dial_result". When the buffer
// is full new events are dropped.
type Emitter struct {
	pub     Publisher
	prefix  string
	ch      chan Envelope
	now     func() time.Time
	dropped atomic.Int64
	logger  zerolog.Logger
}

// NewEmitter creates an Emitter publishing through pub
func NewEmitter(pub Publisher, prefix string, logger zerolog.Logger) *Emitter {
	return &Emitter{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "/"),
		ch:     make(chan Envelope, defaultBuffer),
		now:    time.Now,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Emit queues an event for publishing
func (e *Emitter) Emit(kind string, payload any) {
	select {
	case e.ch <- Envelope{Kind: kind, Timestamp: e.now().UTC(), Payload: payload}:
	default:
		if n := e.dropped.Add(1); n == 1 || n%100 == 0 {
			e.logger.Warn().Str("kind", kind).Int64("dropped", n).Msg("event buffer full, dropping events")
		}
	}
}

// Dropped returns how many events were discarded on a full buffer
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Topic returns the MQTT topic for an event kind
func (e *Emitter) Topic(kind string) string {
	t := strings.ReplaceAll(kind, ".", "/")
	if e.prefix == "" {
		return t
	}
	return e.prefix + "/" + t
}

// Run publishes queued events until ctx is cancelled. Events still buffered
// at shutdown are published on a detached context.
func (e *Emitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drain(context.WithoutCancel(ctx))
			return
		case env := <-e.ch:
			e.publish(ctx, env)
		}
	}
}

func (e *Emitter) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		select {
		case env := <-e.ch:
			e.publish(ctx, env)
		default:
			return
		}
	}
}

func (e *Emitter) publish(ctx context.Context, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		e.logger.Error().Err(err).Str("kind", env.Kind).Msg("failed to marshal event")
		return
	}
	topic := e.Topic(env.Kind)
	if err := e.pub.Publish(ctx, topic, data); err != nil {
		e.logger.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
		return
	}
	e.logger.Debug().Str("topic", topic).Msg("event published")
}
