package routing

import "github.com/dennisdiepolder/monti/contactcore/internal/types"

// GenericOverflowMessage is played when a configured overflow target is unusable
const GenericOverflowMessage = "All of our agents are busy. Please leave a message after the tone."

// OverflowDecision is what to do with an interaction that cannot be served
type OverflowDecision struct {
	Action   types.OverflowAction
	Target   string // backup queue, or external target for redirect
	Fallback bool   // configured target was invalid, voicemail used instead
	Message  string
}

// Overflow resolves a rule's overflow action for an item currently in queue.
// Invalid backup targets fall back to voicemail.
func (e *Evaluator) Overflow(rule *types.RoutingRule, queue string) OverflowDecision {
	if rule == nil {
		return OverflowDecision{Action: types.OverflowVoicemail, Message: GenericOverflowMessage}
	}

	backup := rule.Conditions.BackupQueue
	switch rule.OverflowAction {
	case types.OverflowQueue:
		if backup != "" && backup != queue && e.queueExists(backup) {
			return OverflowDecision{Action: types.OverflowQueue, Target: backup}
		}
	case types.OverflowRedirect:
		if backup != "" {
			return OverflowDecision{Action: types.OverflowRedirect, Target: backup}
		}
	case types.OverflowVoicemail, types.OverflowCallback, types.OverflowDisconnect:
		return OverflowDecision{Action: rule.OverflowAction}
	}

	e.logger.Warn().
		Str("rule_id", rule.ID).
		Str("action", string(rule.OverflowAction)).
		Str("backup_queue", backup).
		Msg("overflow target invalid, falling back to voicemail")
	return FallbackDecision()
}

// FallbackDecision sends the caller to voicemail with the generic message
// and marks the overflow as a fallback
func FallbackDecision() OverflowDecision {
	return OverflowDecision{Action: types.OverflowVoicemail, Fallback: true, Message: GenericOverflowMessage}
}
