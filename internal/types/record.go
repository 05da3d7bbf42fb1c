package types

import "time"

// InteractionRecord is the persisted outcome of an inbound interaction
type InteractionRecord struct {
	ID                string          `json:"id"`
	Channel           ChannelType     `json:"channel"`
	CustomerRef       string          `json:"customerRef"`
	Queue             string          `json:"queue"`
	RuleID            string          `json:"ruleId,omitempty"`
	Strategy          RoutingStrategy `json:"strategy,omitempty"`
	Status            QueueItemStatus `json:"status"`
	AgentID           string          `json:"agentId,omitempty"`
	BasePriority      int             `json:"basePriority"`
	EffectivePriority float64         `json:"effectivePriority"`
	Unrouted          bool            `json:"unrouted,omitempty"`
	OverflowAction    OverflowAction  `json:"overflowAction,omitempty"`
	OverflowFallback  bool            `json:"overflowFallback,omitempty"`
	WaitTime          float64         `json:"waitTime"` // seconds
	TalkTime          float64         `json:"talkTime"` // seconds
	EnqueuedAt        time.Time       `json:"enqueuedAt"`
	EndedAt           time.Time       `json:"endedAt"`
}

// NewInteractionRecord builds the record for an item leaving the system
func NewInteractionRecord(item *QueueItem, endedAt time.Time) InteractionRecord {
	return InteractionRecord{
		ID:                item.ID,
		Channel:           item.Channel,
		CustomerRef:       item.CustomerRef,
		Queue:             item.QueueName,
		RuleID:            item.RuleID,
		Strategy:          item.Strategy,
		Status:            item.Status,
		AgentID:           item.AssignedAgent,
		BasePriority:      item.BasePriority,
		EffectivePriority: item.EffectivePriority,
		Unrouted:          item.Unrouted,
		OverflowFallback:  item.OverflowFallback,
		WaitTime:          item.WaitTime(endedAt).Seconds(),
		TalkTime:          item.TalkTime,
		EnqueuedAt:        item.EnqueuedAt,
		EndedAt:           endedAt,
	}
}
