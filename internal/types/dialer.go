package types

import "time"

// DialerType is the pacing mode of a campaign
type DialerType string

const (
	DialerPredictive DialerType = "predictive"
	DialerPower      DialerType = "power"
	DialerPreview    DialerType = "preview"
)

// Valid reports whether d is a known pacing mode
func (d DialerType) Valid() bool {
	return d == DialerPredictive || d == DialerPower || d == DialerPreview
}

// CampaignStatus is the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// DefaultMaxAbandonRate is the predictive ceiling used when a campaign sets none
const DefaultMaxAbandonRate = 0.03

// DialerCampaign governs eligibility and pacing for its call list
type DialerCampaign struct {
	ID                string         `json:"id" yaml:"id"`
	Name              string         `json:"name" yaml:"name"`
	DialerType        DialerType     `json:"dialerType" yaml:"dialer_type"`
	Status            CampaignStatus `json:"status" yaml:"status"`
	MaxCallAttempts   int            `json:"maxCallAttempts" yaml:"max_call_attempts"`
	RetryDelayMinutes int            `json:"retryDelayMinutes" yaml:"retry_delay_minutes"`
	CallingHoursStart string         `json:"callingHoursStart" yaml:"calling_hours_start"` // "HH:MM"
	CallingHoursEnd   string         `json:"callingHoursEnd" yaml:"calling_hours_end"`     // "HH:MM"
	Timezone          string         `json:"timezone" yaml:"timezone"`
	ScheduledStart    *time.Time     `json:"scheduledStart,omitempty" yaml:"scheduled_start"`
	ScheduledEnd      *time.Time     `json:"scheduledEnd,omitempty" yaml:"scheduled_end"`
	MaxAbandonRate    float64        `json:"maxAbandonRate,omitempty" yaml:"max_abandon_rate"`
	MaxLines          int            `json:"maxLines,omitempty" yaml:"max_lines"`
}

// AbandonCeiling returns the configured ceiling or the default
func (c *DialerCampaign) AbandonCeiling() float64 {
	if c.MaxAbandonRate <= 0 {
		return DefaultMaxAbandonRate
	}
	return c.MaxAbandonRate
}

// CallStatus is the state of a call list item
type CallStatus string

const (
	CallPending           CallStatus = "pending"
	CallDialing           CallStatus = "dialing"
	CallCompleted         CallStatus = "completed"
	CallNoAnswer          CallStatus = "no_answer"
	CallBusy              CallStatus = "busy"
	CallVoicemail         CallStatus = "voicemail"
	CallFailed            CallStatus = "failed"
	CallAbandoned         CallStatus = "abandoned" // answered with no agent to take it
	CallCallbackScheduled CallStatus = "callback_scheduled"
)

// Retryable reports whether a disposition may be dialed again
func (s CallStatus) Retryable() bool {
	switch s {
	case CallNoAnswer, CallBusy, CallFailed, CallAbandoned:
		return true
	}
	return false
}

// CallListItem is one contact to dial for a campaign
type CallListItem struct {
	ID              string     `json:"id" yaml:"id"`
	CampaignID      string     `json:"campaignId" yaml:"campaign_id"`
	PhoneNumber     string     `json:"phoneNumber" yaml:"phone_number"`
	CustomerRef     string     `json:"customerRef,omitempty" yaml:"customer_ref"`
	Priority        int        `json:"priority" yaml:"priority"`
	Status          CallStatus `json:"status" yaml:"status"`
	Attempts        int        `json:"attempts" yaml:"attempts"`
	LastDisposition string     `json:"lastDisposition,omitempty" yaml:"last_disposition"`
	NextEligibleAt  *time.Time `json:"nextEligibleAt,omitempty" yaml:"next_eligible_at"`
	Exhausted       bool       `json:"exhausted,omitempty" yaml:"exhausted"`
	AssignedAgent   string     `json:"assignedAgent,omitempty" yaml:"-"`
	DialedAt        *time.Time `json:"dialedAt,omitempty" yaml:"-"`
	AnsweredAt      *time.Time `json:"answeredAt,omitempty" yaml:"-"`
}

// Terminal reports whether the item is excluded from future scheduling
func (i *CallListItem) Terminal() bool {
	if i.Exhausted {
		return true
	}
	switch i.Status {
	case CallCompleted, CallVoicemail, CallCallbackScheduled:
		return true
	}
	return false
}

// DialerSession is an agent's live participation in a campaign
type DialerSession struct {
	ID                   string     `json:"id"`
	CampaignID           string     `json:"campaignId"`
	AgentID              string     `json:"agentId"`
	CallsPresented       int        `json:"callsPresented"`
	CallsAnswered        int        `json:"callsAnswered"`
	CallsConverted       int        `json:"callsConverted"`
	TotalTalkTimeSeconds float64    `json:"totalTalkTimeSeconds"`
	StartedAt            time.Time  `json:"startedAt"`
	EndedAt              *time.Time `json:"endedAt,omitempty"`
}

// CallResult is the immutable record of one dial attempt
type CallResult struct {
	ID             string    `json:"id"`
	CampaignID     string    `json:"campaignId"`
	CallListItemID string    `json:"callListItemId"`
	AgentID        string    `json:"agentId,omitempty"`
	Attempt        int       `json:"attempt"`
	Disposition    string    `json:"disposition"`
	SubDisposition string    `json:"subDisposition,omitempty"`
	Duration       float64   `json:"duration"` // seconds, dial to hangup
	TalkTime       float64   `json:"talkTime"` // seconds
	IsAnswered     bool      `json:"isAnswered"`
	IsConverted    bool      `json:"isConverted"`
	AgentNotes     string    `json:"agentNotes,omitempty"`
	DialedAt       time.Time `json:"dialedAt"`
}

// WrapUp is the agent's disposition of an answered outbound call
type WrapUp struct {
	AgentID        string  `json:"agentId"`
	Disposition    string  `json:"disposition"`
	SubDisposition string  `json:"subDisposition,omitempty"`
	Converted      bool    `json:"converted"`
	Callback       bool    `json:"callback"`
	Notes          string  `json:"notes,omitempty"`
	TalkTime       float64 `json:"talkTime"` // seconds
}
