package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

const (
	// StaleThreshold is the default window after which a silent agent is unavailable (3 missed heartbeats)
	StaleThreshold = 6 * time.Second

	// defaultMaxConcurrent applies when an agent registers without a capacity
	defaultMaxConcurrent = 1
)

// AgentPool owns the live state of every agent. All check-and-set operations
// (TryAssign, Reserve, ClaimReservation) are atomic under the pool lock.
type AgentPool struct {
	agents     map[string]*types.AgentInfo // agentID -> current state
	mu         sync.RWMutex
	clock      clock.Clock
	staleAfter time.Duration
}

// NewAgentPool creates an empty pool. staleAfter <= 0 uses StaleThreshold.
func NewAgentPool(c clock.Clock, staleAfter time.Duration) *AgentPool {
	if staleAfter <= 0 {
		staleAfter = StaleThreshold
	}
	return &AgentPool{
		agents:     make(map[string]*types.AgentInfo),
		clock:      c,
		staleAfter: staleAfter,
	}
}

// StaleAfter returns the heartbeat staleness window
func (p *AgentPool) StaleAfter() time.Duration {
	return p.staleAfter
}

// RegisterAgent registers a new agent connection. Skills and queues from an
// earlier roster entry are kept when the registration carries none.
func (p *AgentPool) RegisterAgent(reg *types.AgentRegister) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	state := reg.State
	if state == "" {
		state = types.StateAvailable
	}
	maxConcurrent := reg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	info := &types.AgentInfo{
		AgentID:          reg.AgentID,
		State:            state,
		Queues:           append([]string(nil), reg.Queues...),
		Skills:           append([]types.AgentSkill(nil), reg.Skills...),
		MaxConcurrent:    maxConcurrent,
		IdleSince:        now,
		StateStart:       now,
		LastHeartbeat:    now,
		ConnectionStatus: types.StatusConnected,
	}
	if existing, ok := p.agents[reg.AgentID]; ok {
		if len(info.Skills) == 0 {
			info.Skills = existing.Skills
		}
		if len(info.Queues) == 0 {
			info.Queues = existing.Queues
		}
		// keep work that was assigned before a reconnect
		info.ActiveInteractions = existing.ActiveInteractions
		if len(info.ActiveInteractions) > 0 {
			info.State = types.StateOnCall
			info.IdleSince = existing.IdleSince
		}
	}
	p.agents[reg.AgentID] = info
}

// RegisterOfflineAgent adds a roster entry for an agent that has not connected yet
func (p *AgentPool) RegisterOfflineAgent(agentID string, queues []string, skills []types.AgentSkill, maxConcurrent int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.agents[agentID]; ok {
		if len(skills) > 0 {
			existing.Skills = append([]types.AgentSkill(nil), skills...)
		}
		if len(queues) > 0 {
			existing.Queues = append([]string(nil), queues...)
		}
		if maxConcurrent > 0 {
			existing.MaxConcurrent = maxConcurrent
		}
		return
	}

	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	now := p.clock.Now()
	p.agents[agentID] = &types.AgentInfo{
		AgentID:          agentID,
		State:            types.StateOffline,
		Queues:           append([]string(nil), queues...),
		Skills:           append([]types.AgentSkill(nil), skills...),
		MaxConcurrent:    maxConcurrent,
		StateStart:       now,
		ConnectionStatus: types.StatusDisconnected,
	}
}

// UpdateFromHeartbeat refreshes an agent's liveness
func (p *AgentPool) UpdateFromHeartbeat(hb *types.AgentHeartbeat) {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.agents[hb.AgentID]
	if !ok {
		// Agent not registered yet, ignore heartbeat
		return
	}
	existing.LastHeartbeat = p.clock.Now()
	existing.ConnectionStatus = types.StatusConnected
}

// UpdateFromStateChange applies an agent-declared state transition
func (p *AgentPool) UpdateFromStateChange(sc *types.AgentStateChange) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	existing, ok := p.agents[sc.AgentID]
	if !ok {
		p.agents[sc.AgentID] = &types.AgentInfo{
			AgentID:          sc.AgentID,
			State:            sc.State,
			MaxConcurrent:    defaultMaxConcurrent,
			IdleSince:        now,
			StateStart:       now,
			LastHeartbeat:    now,
			ConnectionStatus: types.StatusConnected,
		}
		return
	}

	if existing.State != sc.State {
		existing.StateStart = now
		if sc.State == types.StateAvailable && len(existing.ActiveInteractions) == 0 {
			existing.IdleSince = now
		}
	}
	existing.State = sc.State
	existing.LastHeartbeat = now
	existing.ConnectionStatus = types.StatusConnected
	if sc.State != types.StateAvailable {
		// an agent leaving availability drops any pending outbound reservation
		existing.ReservedFor = ""
		existing.ReservedAt = nil
	}
}

// SetSkills replaces an agent's skills
func (p *AgentPool) SetSkills(agentID string, skills []types.AgentSkill) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if agent, ok := p.agents[agentID]; ok {
		agent.Skills = append([]types.AgentSkill(nil), skills...)
	}
}

// SetConnected updates the connection status of an agent
func (p *AgentPool) SetConnected(agentID string, connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent, ok := p.agents[agentID]
	if !ok {
		return
	}
	agent.LastHeartbeat = p.clock.Now() // also tracks when disconnection happened for cleanup
	if connected {
		agent.ConnectionStatus = types.StatusConnected
		return
	}
	agent.ConnectionStatus = types.StatusDisconnected
	agent.ReservedFor = ""
	agent.ReservedAt = nil
}

// SetDisconnected marks an agent as disconnected
func (p *AgentPool) SetDisconnected(agentID string) {
	p.SetConnected(agentID, false)
}

// Logout takes an agent offline and returns the interactions it still held
func (p *AgentPool) Logout(agentID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent, ok := p.agents[agentID]
	if !ok {
		return nil
	}
	held := agent.ActiveInteractions
	agent.ActiveInteractions = nil
	agent.State = types.StateOffline
	agent.StateStart = p.clock.Now()
	agent.ConnectionStatus = types.StatusDisconnected
	agent.ReservedFor = ""
	agent.ReservedAt = nil
	return held
}

// CheckStaleAgents marks agents as stale if no heartbeat arrived within the window
func (p *AgentPool) CheckStaleAgents() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	threshold := p.clock.Now().Add(-p.staleAfter)
	marked := 0
	for _, agent := range p.agents {
		if agent.ConnectionStatus == types.StatusConnected && agent.LastHeartbeat.Before(threshold) {
			agent.ConnectionStatus = types.StatusStale
			agent.ReservedFor = ""
			agent.ReservedAt = nil
			marked++
		}
	}
	return marked
}

// RemoveDisconnected removes idle agents disconnected for longer than maxAge
func (p *AgentPool) RemoveDisconnected(maxAge time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	threshold := p.clock.Now().Add(-maxAge)
	removed := 0
	for id, agent := range p.agents {
		if agent.ConnectionStatus == types.StatusDisconnected &&
			len(agent.ActiveInteractions) == 0 &&
			agent.LastHeartbeat.Before(threshold) {
			delete(p.agents, id)
			removed++
		}
	}
	return removed
}

// eligible reports whether agent can take work now. token lets an agent
// reserved for that token still qualify.
func (p *AgentPool) eligible(agent *types.AgentInfo, now time.Time, token string) bool {
	if agent.ConnectionStatus != types.StatusConnected {
		return false
	}
	if now.Sub(agent.LastHeartbeat) > p.staleAfter {
		return false
	}
	switch agent.State {
	case types.StateAvailable:
	case types.StateOnCall:
		if len(agent.ActiveInteractions) == 0 {
			return false
		}
	default:
		return false
	}
	if len(agent.ActiveInteractions) >= agent.MaxConcurrent {
		return false
	}
	if agent.ReservedFor != "" && agent.ReservedFor != token {
		return false
	}
	return true
}

// TryAssign atomically assigns interactionID to the agent if the agent can
// take it. An agent reserved for interactionID qualifies.
func (p *AgentPool) TryAssign(agentID, interactionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent, ok := p.agents[agentID]
	if !ok {
		return false
	}
	now := p.clock.Now()
	if !p.eligible(agent, now, interactionID) {
		return false
	}
	p.assign(agent, interactionID, now)
	return true
}

func (p *AgentPool) assign(agent *types.AgentInfo, interactionID string, now time.Time) {
	for _, id := range agent.ActiveInteractions {
		if id == interactionID {
			return
		}
	}
	agent.ActiveInteractions = append(agent.ActiveInteractions, interactionID)
	agent.ReservedFor = ""
	agent.ReservedAt = nil
	if agent.State != types.StateOnCall {
		agent.State = types.StateOnCall
		agent.StateStart = now
	}
}

// Release removes interactionID from the agent. When the agent has no more
// work it returns to available, or to after-call work when acw is set.
func (p *AgentPool) Release(agentID, interactionID string, acw bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent, ok := p.agents[agentID]
	if !ok {
		return false
	}
	idx := -1
	for i, id := range agent.ActiveInteractions {
		if id == interactionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	agent.ActiveInteractions = append(agent.ActiveInteractions[:idx:idx], agent.ActiveInteractions[idx+1:]...)

	if len(agent.ActiveInteractions) == 0 && agent.State == types.StateOnCall {
		now := p.clock.Now()
		agent.StateStart = now
		if acw {
			agent.State = types.StateAfterCallWork
		} else {
			agent.State = types.StateAvailable
			agent.IdleSince = now
		}
	}
	return true
}

// Reserve holds an available agent for token so no other work is assigned
func (p *AgentPool) Reserve(agentID, token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent, ok := p.agents[agentID]
	if !ok || agent.ReservedFor != "" || len(agent.ActiveInteractions) > 0 {
		return false
	}
	now := p.clock.Now()
	if !p.eligible(agent, now, "") {
		return false
	}
	agent.ReservedFor = token
	agent.ReservedAt = &now
	return true
}

// ReserveLongestIdle reserves the longest idle available agent among ids.
// It returns the reserved agent, or "" when none could be held.
func (p *AgentPool) ReserveLongestIdle(ids []string, token string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	var best *types.AgentInfo
	for _, id := range ids {
		agent, ok := p.agents[id]
		if !ok || agent.ReservedFor != "" || len(agent.ActiveInteractions) > 0 || !p.eligible(agent, now, "") {
			continue
		}
		if best == nil || agent.IdleSince.Before(best.IdleSince) ||
			(agent.IdleSince.Equal(best.IdleSince) && agent.AgentID < best.AgentID) {
			best = agent
		}
	}
	if best == nil {
		return ""
	}
	best.ReservedFor = token
	best.ReservedAt = &now
	return best.AgentID
}

// ClaimReservation converts the agent's reservation for token into an
// assignment of interactionID. It fails if the reservation was lost.
func (p *AgentPool) ClaimReservation(agentID, token, interactionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent, ok := p.agents[agentID]
	if !ok || agent.ReservedFor != token {
		return false
	}
	now := p.clock.Now()
	if !p.eligible(agent, now, token) {
		return false
	}
	p.assign(agent, interactionID, now)
	return true
}

// CancelReservation drops the agent's reservation if it is still held for token
func (p *AgentPool) CancelReservation(agentID, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if agent, ok := p.agents[agentID]; ok && agent.ReservedFor == token {
		agent.ReservedFor = ""
		agent.ReservedAt = nil
	}
}

// ExpireReservations drops reservations older than maxAge
func (p *AgentPool) ExpireReservations(maxAge time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	threshold := p.clock.Now().Add(-maxAge)
	expired := 0
	for _, agent := range p.agents {
		if agent.ReservedAt != nil && agent.ReservedAt.Before(threshold) {
			agent.ReservedFor = ""
			agent.ReservedAt = nil
			expired++
		}
	}
	return expired
}

// Get returns a copy of one agent
func (p *AgentPool) Get(agentID string) (types.AgentInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	agent, ok := p.agents[agentID]
	if !ok {
		return types.AgentInfo{}, false
	}
	return copyAgent(agent), true
}

// GetAll returns copies of every agent sorted by id
func (p *AgentPool) GetAll() []types.AgentInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]types.AgentInfo, 0, len(p.agents))
	for _, agent := range p.agents {
		out = append(out, copyAgent(agent))
	}
	sortAgents(out)
	return out
}

// Eligible returns copies of agents that can take work now, sorted by id.
// Agents reserved for token are included.
func (p *AgentPool) Eligible(token string) []types.AgentInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := p.clock.Now()
	out := make([]types.AgentInfo, 0, len(p.agents))
	for _, agent := range p.agents {
		if p.eligible(agent, now, token) {
			out = append(out, copyAgent(agent))
		}
	}
	sortAgents(out)
	return out
}

// LoggedIn returns copies of connected, non-offline agents regardless of
// whether they are free right now
func (p *AgentPool) LoggedIn() []types.AgentInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := p.clock.Now()
	out := make([]types.AgentInfo, 0, len(p.agents))
	for _, agent := range p.agents {
		if agent.ConnectionStatus != types.StatusConnected || agent.State == types.StateOffline {
			continue
		}
		if now.Sub(agent.LastHeartbeat) > p.staleAfter {
			continue
		}
		out = append(out, copyAgent(agent))
	}
	sortAgents(out)
	return out
}

// Count returns the total number of tracked agents
func (p *AgentPool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.agents)
}

// GetConnectionStats returns connection statistics
func (p *AgentPool) GetConnectionStats() (connected, stale, disconnected int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, agent := range p.agents {
		switch agent.ConnectionStatus {
		case types.StatusConnected:
			connected++
		case types.StatusStale:
			stale++
		case types.StatusDisconnected:
			disconnected++
		}
	}
	return
}

// StateCounts returns the number of agents per state
func (p *AgentPool) StateCounts() map[types.AgentState]int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	counts := make(map[types.AgentState]int)
	for _, agent := range p.agents {
		counts[agent.State]++
	}
	return counts
}

func copyAgent(a *types.AgentInfo) types.AgentInfo {
	c := *a
	c.Queues = append([]string(nil), a.Queues...)
	c.Skills = append([]types.AgentSkill(nil), a.Skills...)
	c.ActiveInteractions = append([]string(nil), a.ActiveInteractions...)
	if a.ReservedAt != nil {
		t := *a.ReservedAt
		c.ReservedAt = &t
	}
	return c
}

func sortAgents(agents []types.AgentInfo) {
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
}
