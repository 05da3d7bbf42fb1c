// Package aggregator builds the periodic queue and agent snapshot published
// to supervisors, and runs the agent pool housekeeping that goes with it.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/alerts"
	"github.com/dennisdiepolder/monti/contactcore/internal/cache"
	"github.com/dennisdiepolder/monti/contactcore/internal/metrics"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// EventSnapshot is the kind under which snapshots are published
const EventSnapshot = "snapshot"

// QueueSource supplies queue snapshots
type QueueSource interface {
	GetAllSnapshots() []types.QueueSnapshot
}

// Emitter publishes events
type Emitter interface {
	Emit(kind string, payload any)
}

// Config holds the housekeeping windows
type Config struct {
	DisconnectedMaxAge time.Duration // disconnected agents are forgotten after this
	ReservationTTL     time.Duration // unclaimed outbound reservations are dropped after this
	Thresholds         alerts.Thresholds
}

// DefaultConfig returns the windows used when none are configured
func DefaultConfig() Config {
	return Config{
		DisconnectedMaxAge: 30 * time.Minute,
		ReservationTTL:     2 * time.Minute,
		Thresholds:         alerts.DefaultThresholds(),
	}
}

// Aggregator collects queue and agent state into snapshots
type Aggregator struct {
	pool    *cache.AgentPool
	queues  QueueSource
	events  *cache.EventCache
	emitter Emitter
	cfg     Config
	logger  zerolog.Logger

	mu     sync.RWMutex
	latest *types.Snapshot
}

// NewAggregator creates a new aggregator
func NewAggregator(pool *cache.AgentPool, queues QueueSource, events *cache.EventCache, emitter Emitter, cfg Config, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		pool:    pool,
		queues:  queues,
		events:  events,
		emitter: emitter,
		cfg:     cfg,
		logger:  logger.With().Str("component", "aggregator").Logger(),
	}
}

// Cycle runs one housekeeping and snapshot pass. It has the ticker.Task signature.
func (a *Aggregator) Cycle(_ context.Context, now time.Time) {
	cycleStart := time.Now()
	m := metrics.Get()

	stale := a.pool.CheckStaleAgents()
	removed := a.pool.RemoveDisconnected(a.cfg.DisconnectedMaxAge)
	expired := a.pool.ExpireReservations(a.cfg.ReservationTTL)

	var (
		changes []types.AgentStateChange
		dropped int
	)
	if a.events != nil {
		changes, dropped = a.events.Drain()
	}

	queues := a.queues.GetAllSnapshots()
	alerts.CheckQueueAlerts(queues, a.cfg.Thresholds)

	byState := a.pool.StateCounts()
	connected, staleCount, disconnected := a.pool.GetConnectionStats()

	snap := types.Snapshot{
		Type:       EventSnapshot,
		Timestamp:  now,
		Queues:     queues,
		AgentState: byState,
		Connection: map[types.AgentConnectionStatus]int{
			types.StatusConnected:    connected,
			types.StatusStale:        staleCount,
			types.StatusDisconnected: disconnected,
		},
		Changes:        changes,
		ChangesDropped: dropped,
	}

	a.mu.Lock()
	a.latest = &snap
	a.mu.Unlock()

	m.UpdateQueueStats(queues)
	m.UpdateAgentStats(byState)
	if a.emitter != nil {
		a.emitter.Emit(EventSnapshot, snap)
	}
	m.RecordAggregationCycle(time.Since(cycleStart))

	if stale > 0 || removed > 0 || expired > 0 {
		a.logger.Info().
			Int("stale", stale).
			Int("removed", removed).
			Int("expired_reservations", expired).
			Msg("agent pool housekeeping")
	}
	a.logger.Debug().
		Int("state_changes", len(changes)).
		Int("changes_dropped", dropped).
		Int("queues", len(queues)).
		Int("connected", connected).
		Msg("snapshot built")
}

// Latest returns the most recent snapshot, or nil before the first cycle
func (a *Aggregator) Latest() *types.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}
