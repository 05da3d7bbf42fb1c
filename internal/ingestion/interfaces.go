package ingestion

import (
	"context"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// EventProcessor processes agent events from any source (WebSocket hub,
// legacy HTTP receiver, a vendor adapter)
type EventProcessor interface {
	ProcessRegister(reg *types.AgentRegister)
	ProcessHeartbeat(hb *types.AgentHeartbeat)
	ProcessStateChange(sc *types.AgentStateChange)
	ProcessInteractionComplete(ic *types.InteractionComplete)
	ProcessWrapUp(wu *types.AgentWrapUp)
	ProcessPreviewDecision(pd *types.PreviewDecision)
}

// EventSource represents a source of agent events
type EventSource interface {
	// Run receives events and forwards them to the processor until ctx is done
	Run(ctx context.Context)

	// SendToAgent sends a message to a specific agent by ID
	SendToAgent(agentID string, message []byte) bool

	// AgentCount returns the number of connected agents
	AgentCount() int
}
