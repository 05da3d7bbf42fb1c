package types

import "time"

// Message types exchanged over the agent WebSocket
const (
	MsgRegister            = "register"
	MsgHeartbeat           = "heartbeat"
	MsgStateChange         = "state_change"
	MsgInteractionComplete = "interaction_complete"
	MsgWrapUp              = "wrap_up"
	MsgPreviewConfirm      = "preview_confirm"
	MsgPreviewSkip         = "preview_skip"

	MsgAck               = "ack"
	MsgInteractionAssign = "interaction_assign"
	MsgPreviewContact    = "preview_contact"
	MsgForceEnd          = "force_end"
	MsgForceDisconnect   = "force_disconnect"
)

// AgentRegister is sent by an agent right after connecting
type AgentRegister struct {
	Type          string       `json:"type"` // "register"
	AgentID       string       `json:"agentId"`
	Queues        []string     `json:"queues,omitempty"`
	Skills        []AgentSkill `json:"skills,omitempty"`
	MaxConcurrent int          `json:"maxConcurrent,omitempty"`
	State         AgentState   `json:"state,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// AgentHeartbeat keeps an agent inside the staleness window
type AgentHeartbeat struct {
	Type      string    `json:"type"` // "heartbeat"
	AgentID   string    `json:"agentId"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentStateChange reports a state transition made by the agent
type AgentStateChange struct {
	Type      string     `json:"type"` // "state_change"
	AgentID   string     `json:"agentId"`
	State     AgentState `json:"state"`
	Timestamp time.Time  `json:"timestamp"`
}

// InteractionComplete is sent by an agent when an inbound interaction ends
type InteractionComplete struct {
	Type          string    `json:"type"` // "interaction_complete"
	AgentID       string    `json:"agentId"`
	InteractionID string    `json:"interactionId"`
	TalkTime      float64   `json:"talkTime"` // seconds
	Timestamp     time.Time `json:"timestamp"`
}

// AgentWrapUp carries the wrap-up of an outbound call
type AgentWrapUp struct {
	Type       string `json:"type"` // "wrap_up"
	CampaignID string `json:"campaignId"`
	ItemID     string `json:"itemId"`
	WrapUp
}

// PreviewDecision confirms or skips a contact presented in preview mode
type PreviewDecision struct {
	Type       string `json:"type"` // "preview_confirm" or "preview_skip"
	AgentID    string `json:"agentId"`
	CampaignID string `json:"campaignId"`
	ItemID     string `json:"itemId"`
}

// InteractionAssign is sent to an agent when work is routed to them
type InteractionAssign struct {
	Type          string          `json:"type"` // "interaction_assign"
	AgentID       string          `json:"agentId"`
	InteractionID string          `json:"interactionId"`
	Channel       ChannelType     `json:"channel"`
	Queue         string          `json:"queue"`
	CustomerRef   string          `json:"customerRef,omitempty"`
	Strategy      RoutingStrategy `json:"strategy,omitempty"`
	CampaignID    string          `json:"campaignId,omitempty"` // set for outbound calls
	Timestamp     time.Time       `json:"timestamp"`
}

// PreviewContact presents an outbound contact for the agent to confirm
type PreviewContact struct {
	Type        string    `json:"type"` // "preview_contact"
	AgentID     string    `json:"agentId"`
	CampaignID  string    `json:"campaignId"`
	ItemID      string    `json:"itemId"`
	PhoneNumber string    `json:"phoneNumber"`
	CustomerRef string    `json:"customerRef,omitempty"`
	Attempts    int       `json:"attempts"`
	Timestamp   time.Time `json:"timestamp"`
}

// ForceEnd is sent from backend to agent to end an active interaction
type ForceEnd struct {
	Type          string `json:"type"` // "force_end"
	AgentID       string `json:"agentId"`
	InteractionID string `json:"interactionId"`
}

// ForceDisconnect is sent from backend to agent to force logout
type ForceDisconnect struct {
	Type    string `json:"type"` // "force_disconnect"
	AgentID string `json:"agentId"`
}

// ServerAck acknowledges a registration
type ServerAck struct {
	Type    string `json:"type"` // "ack"
	AgentID string `json:"agentId"`
}
