// Package event accepts agent events over plain HTTP for agent desktops
// and vendor adapters that cannot hold a WebSocket open.
package event

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/ingestion"
	"github.com/dennisdiepolder/monti/contactcore/internal/metrics"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// maxEventBytes caps one event body
const maxEventBytes = 64 << 10

// Receiver handles incoming agent events
type Receiver struct {
	processor      ingestion.EventProcessor
	logger         zerolog.Logger
	eventsReceived int64
	lastReceived   time.Time
	mu             sync.RWMutex
}

// NewReceiver creates a new event receiver
func NewReceiver(processor ingestion.EventProcessor, logger zerolog.Logger) *Receiver {
	return &Receiver{
		processor: processor,
		logger:    logger.With().Str("component", "event_receiver").Logger(),
	}
}

// HandleEvent decodes one agent event and hands it to the processor
func (r *Receiver) HandleEvent(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxEventBytes)).Decode(&raw); err != nil {
		r.logger.Error().Err(err).Msg("failed to decode event")
		metrics.Get().RecordAgentEvent("invalid")
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	if err := r.dispatch(raw); err != nil {
		r.logger.Debug().Err(err).Msg("rejected event")
		metrics.Get().RecordAgentEvent("invalid")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Update stats
	atomic.AddInt64(&r.eventsReceived, 1)
	r.mu.Lock()
	r.lastReceived = time.Now()
	r.mu.Unlock()

	// Log periodically
	count := atomic.LoadInt64(&r.eventsReceived)
	if count%1000 == 0 {
		r.logger.Info().
			Int64("total_received", count).
			Msg("events received")
	}

	w.WriteHeader(http.StatusOK)
}

func (r *Receiver) dispatch(raw json.RawMessage) error {
	var head struct {
		Type    string `json:"type"`
		AgentID string `json:"agentId"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if head.AgentID == "" {
		return fmt.Errorf("agentId is required")
	}

	switch head.Type {
	case types.MsgRegister:
		var ev types.AgentRegister
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("invalid register: %w", err)
		}
		r.processor.ProcessRegister(&ev)
	case types.MsgHeartbeat:
		var ev types.AgentHeartbeat
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("invalid heartbeat: %w", err)
		}
		r.processor.ProcessHeartbeat(&ev)
	case types.MsgStateChange:
		var ev types.AgentStateChange
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("invalid state_change: %w", err)
		}
		r.processor.ProcessStateChange(&ev)
	case types.MsgInteractionComplete:
		var ev types.InteractionComplete
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("invalid interaction_complete: %w", err)
		}
		r.processor.ProcessInteractionComplete(&ev)
	case types.MsgWrapUp:
		var ev types.AgentWrapUp
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("invalid wrap_up: %w", err)
		}
		r.processor.ProcessWrapUp(&ev)
	case types.MsgPreviewConfirm, types.MsgPreviewSkip:
		var ev types.PreviewDecision
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("invalid preview decision: %w", err)
		}
		r.processor.ProcessPreviewDecision(&ev)
	default:
		return fmt.Errorf("unknown event type %q", head.Type)
	}
	return nil
}

// GetStats returns receiver statistics
func (r *Receiver) GetStats(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	lastReceived := r.lastReceived
	r.mu.RUnlock()

	stats := map[string]interface{}{
		"events_received": atomic.LoadInt64(&r.eventsReceived),
		"last_received":   lastReceived,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
