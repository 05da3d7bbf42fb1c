package types

import "time"

// ChannelType is the medium an interaction arrives on
type ChannelType string

const (
	ChannelVoice ChannelType = "voice"
	ChannelChat  ChannelType = "chat"
	ChannelEmail ChannelType = "email"
	ChannelSMS   ChannelType = "sms"
)

// Valid reports whether c is a known channel
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelVoice, ChannelChat, ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

// Interaction is an inbound contact entering the routing core
type Interaction struct {
	ID             string      `json:"id"`
	Channel        ChannelType `json:"channel"`
	CustomerRef    string      `json:"customerRef"`
	BasePriority   int         `json:"basePriority"`
	RequestedQueue string      `json:"requestedQueue,omitempty"` // set by IVR transfer_queue
	RequestedAgent string      `json:"requestedAgent,omitempty"` // set by IVR transfer_agent
	Intent         string      `json:"intent,omitempty"`
	ArrivedAt      time.Time   `json:"arrivedAt"`
}

// QueueItemStatus represents the lifecycle state of a queued interaction
type QueueItemStatus string

const (
	ItemWaiting    QueueItemStatus = "waiting"    // In queue, not yet assigned
	ItemAssigned   QueueItemStatus = "assigned"   // Handed to an agent
	ItemAbandoned  QueueItemStatus = "abandoned"  // Customer left while waiting
	ItemOverflowed QueueItemStatus = "overflowed" // Left the queue through an overflow action
	ItemCompleted  QueueItemStatus = "completed"  // Agent finished handling
)

// QueueItem is an interaction waiting in (or dispatched from) a queue
type QueueItem struct {
	ID                string          `json:"id"`
	Channel           ChannelType     `json:"channel"`
	CustomerRef       string          `json:"customerRef"`
	QueueName         string          `json:"queueName"`
	BasePriority      int             `json:"basePriority"`
	EffectivePriority float64         `json:"effectivePriority"`
	EnqueuedAt        time.Time       `json:"enqueuedAt"`
	Status            QueueItemStatus `json:"status"`
	AssignedAgent     string          `json:"assignedAgent,omitempty"`
	AssignedAt        *time.Time      `json:"assignedAt,omitempty"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`

	RuleID           string          `json:"ruleId,omitempty"`
	Strategy         RoutingStrategy `json:"strategy,omitempty"`
	Unrouted         bool            `json:"unrouted,omitempty"`
	OverflowFallback bool            `json:"overflowFallback,omitempty"`
	OverflowedFrom   string          `json:"overflowedFrom,omitempty"` // queue the item was moved out of
	CallbackOffered  bool            `json:"callbackOffered,omitempty"`
	RequestedAgent   string          `json:"requestedAgent,omitempty"`
	Intent           string          `json:"intent,omitempty"`
	MatchedBoosts    []string        `json:"matchedBoosts,omitempty"`
	TalkTime         float64         `json:"talkTime,omitempty"` // seconds

	// Seq orders items with identical priority and enqueue time.
	Seq uint64 `json:"seq"`
}

// WaitTime returns how long the item has been waiting as of now
func (i *QueueItem) WaitTime(now time.Time) time.Duration {
	end := now
	if i.AssignedAt != nil {
		end = *i.AssignedAt
	}
	if end.Before(i.EnqueuedAt) {
		return 0
	}
	return end.Sub(i.EnqueuedAt)
}

// ServiceLevel tracks SL metrics for a queue
type ServiceLevel struct {
	Target        int     `json:"target"`        // target percentage (e.g., 80)
	ThresholdSecs int     `json:"thresholdSecs"` // threshold in seconds (e.g., 20)
	AnsweredInSL  int     `json:"answeredInSL"`  // interactions answered within threshold
	TotalAnswered int     `json:"totalAnswered"` // total interactions answered
	CurrentSL     float64 `json:"currentSL"`     // calculated SL percentage
}

// QueueAlert flags a queue condition worth operator attention
type QueueAlert struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// QueueSnapshot represents the current state of a queue
type QueueSnapshot struct {
	Queue           string       `json:"queue"`
	WaitingCount    int          `json:"waitingCount"`
	ActiveCount     int          `json:"activeCount"`
	CompletedCount  int          `json:"completedCount"`
	AbandonedCount  int          `json:"abandonedCount"`
	OverflowCount   int          `json:"overflowCount"`
	UnroutedCount   int          `json:"unroutedCount"`
	LongestWaitSecs float64      `json:"longestWaitSecs"`
	AvailableAgents int          `json:"availableAgents"`
	ServiceLevel    ServiceLevel `json:"serviceLevel"`
	Alerts          []QueueAlert `json:"alerts,omitempty"`
}

// Snapshot is the periodic payload published for supervisors and dashboards
type Snapshot struct {
	Type       string                        `json:"type"` // always "snapshot"
	Timestamp  time.Time                     `json:"timestamp"`
	Queues     []QueueSnapshot               `json:"queues"`
	AgentState map[AgentState]int            `json:"agentState"`
	Connection map[AgentConnectionStatus]int `json:"connection"`

	// agent state changes since the previous snapshot
	Changes        []AgentStateChange `json:"changes,omitempty"`
	ChangesDropped int                `json:"changesDropped,omitempty"`
}
