package types

import "time"

// AgentState represents the current state of an agent
type AgentState string

const (
	StateAvailable     AgentState = "available"
	StateBusy          AgentState = "busy"
	StateOnCall        AgentState = "on_call"
	StateAfterCallWork AgentState = "after_call_work"
	StateBreak         AgentState = "break"
	StateOffline       AgentState = "offline"
)

// AgentConnectionStatus represents the connection status of an agent
type AgentConnectionStatus string

const (
	StatusConnected    AgentConnectionStatus = "connected"
	StatusDisconnected AgentConnectionStatus = "disconnected"
	StatusStale        AgentConnectionStatus = "stale" // no heartbeat within the staleness window
)

// AgentSkill is a single skill held by an agent
type AgentSkill struct {
	AgentID          string `json:"agentId" yaml:"agent_id"`
	SkillName        string `json:"skillName" yaml:"skill_name"`
	SkillCategory    string `json:"skillCategory,omitempty" yaml:"skill_category"`
	ProficiencyLevel int    `json:"proficiencyLevel" yaml:"proficiency_level"` // 1-10
	IsActive         bool   `json:"isActive" yaml:"is_active"`
}

// AgentInfo represents the current state of an agent in the pool
type AgentInfo struct {
	AgentID            string                `json:"agentId"`
	State              AgentState            `json:"state"`
	Queues             []string              `json:"queues,omitempty"` // queue membership, empty = any queue
	Skills             []AgentSkill          `json:"skills,omitempty"`
	MaxConcurrent      int                   `json:"maxConcurrent"`
	ActiveInteractions []string              `json:"activeInteractions,omitempty"`
	IdleSince          time.Time             `json:"idleSince"` // when the agent last became idle
	StateStart         time.Time             `json:"stateStart"`
	LastHeartbeat      time.Time             `json:"lastHeartbeat"`
	ConnectionStatus   AgentConnectionStatus `json:"connectionStatus"`
	ReservedFor        string                `json:"reservedFor,omitempty"` // reservation token (outbound)
	ReservedAt         *time.Time            `json:"reservedAt,omitempty"`
}

// ActiveCount returns the number of interactions currently assigned to the agent
func (a *AgentInfo) ActiveCount() int {
	return len(a.ActiveInteractions)
}

// Skill returns the active skill with the given name
func (a *AgentInfo) Skill(name string) (AgentSkill, bool) {
	for _, s := range a.Skills {
		if s.IsActive && s.SkillName == name {
			return s, true
		}
	}
	return AgentSkill{}, false
}

// ServesQueue reports whether the agent is a member of the queue.
// Agents without explicit membership serve every queue.
func (a *AgentInfo) ServesQueue(queue string) bool {
	if len(a.Queues) == 0 {
		return true
	}
	for _, q := range a.Queues {
		if q == queue {
			return true
		}
	}
	return false
}

// CustomerContext is the snapshot supplied by the customer context collaborator
type CustomerContext struct {
	CustomerID       string      `json:"customerId" yaml:"customer_id"`
	Tier             string      `json:"tier" yaml:"tier"`
	LifetimeValue    float64     `json:"lifetimeValue" yaml:"lifetime_value"`
	InteractionCount int         `json:"interactionCount" yaml:"interaction_count"`
	PreferredChannel ChannelType `json:"preferredChannel,omitempty" yaml:"preferred_channel"`
}
