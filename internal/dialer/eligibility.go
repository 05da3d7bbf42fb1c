package dialer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/telephony"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// Reasons a campaign or contact is not dialable
const (
	ReasonInactive      = "campaign_inactive"
	ReasonOutsideWindow = "outside_scheduled_window"
	ReasonOutsideHours  = "outside_calling_hours"
	ReasonBadConfig     = "invalid_campaign_config"
	ReasonNotPending    = "not_pending"
	ReasonExhausted     = "attempts_exhausted"
	ReasonNotYet        = "not_yet_eligible"
)

var (
	// ErrInvalidCampaign is returned for campaigns that cannot be scheduled
	ErrInvalidCampaign = errors.New("invalid campaign")
	// ErrInvalidItem is returned for contacts that cannot be dialed
	ErrInvalidItem = errors.New("invalid call list item")
)

// ValidateCampaign checks everything the scheduler relies on, so that a
// running campaign never meets a half-valid configuration
func ValidateCampaign(c *types.DialerCampaign) error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidCampaign)
	}
	if !c.DialerType.Valid() {
		return fmt.Errorf("%w %s: unknown dialer type %q", ErrInvalidCampaign, c.ID, c.DialerType)
	}
	if c.MaxCallAttempts < 1 {
		return fmt.Errorf("%w %s: max_call_attempts must be at least 1", ErrInvalidCampaign, c.ID)
	}
	if c.RetryDelayMinutes < 0 {
		return fmt.Errorf("%w %s: negative retry_delay_minutes", ErrInvalidCampaign, c.ID)
	}
	if _, _, err := callingHours(c); err != nil {
		return fmt.Errorf("%w %s: %v", ErrInvalidCampaign, c.ID, err)
	}
	if _, err := clock.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w %s: %v", ErrInvalidCampaign, c.ID, err)
	}
	if c.ScheduledStart != nil && c.ScheduledEnd != nil && c.ScheduledEnd.Before(*c.ScheduledStart) {
		return fmt.Errorf("%w %s: scheduled window ends before it starts", ErrInvalidCampaign, c.ID)
	}
	if c.MaxAbandonRate < 0 || c.MaxAbandonRate >= 1 {
		return fmt.Errorf("%w %s: max_abandon_rate must be in [0, 1)", ErrInvalidCampaign, c.ID)
	}
	return nil
}

func callingHours(c *types.DialerCampaign) (int, int, error) {
	start, err := clock.ParseHHMM(c.CallingHoursStart)
	if err != nil {
		return 0, 0, fmt.Errorf("calling_hours_start: %w", err)
	}
	end, err := clock.ParseHHMM(c.CallingHoursEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("calling_hours_end: %w", err)
	}
	return start, end, nil
}

// WithinCallingHours reports whether now falls inside the campaign's calling
// hours, both ends inclusive, in the campaign timezone
func WithinCallingHours(c *types.DialerCampaign, now time.Time) (bool, error) {
	start, end, err := callingHours(c)
	if err != nil {
		return false, err
	}
	loc, err := clock.LoadLocation(c.Timezone)
	if err != nil {
		return false, err
	}
	return clock.InWindow(clock.MinuteOfDay(now.In(loc)), start, end), nil
}

// CampaignOpen reports whether the campaign may place dials at now
func CampaignOpen(c *types.DialerCampaign, now time.Time) (bool, string) {
	if c.Status != types.CampaignActive {
		return false, ReasonInactive
	}
	if c.ScheduledStart != nil && now.Before(*c.ScheduledStart) {
		return false, ReasonOutsideWindow
	}
	if c.ScheduledEnd != nil && now.After(*c.ScheduledEnd) {
		return false, ReasonOutsideWindow
	}
	ok, err := WithinCallingHours(c, now)
	if err != nil {
		return false, ReasonBadConfig
	}
	if !ok {
		return false, ReasonOutsideHours
	}
	return true, ""
}

// prepareItem readies a new contact for a call list. It always starts
// pending; attempts made elsewhere count toward the campaign maximum.
func prepareItem(c *types.DialerCampaign, item *types.CallListItem) error {
	if strings.TrimSpace(item.PhoneNumber) == "" {
		return fmt.Errorf("%w %s: phone number is required", ErrInvalidItem, item.ID)
	}
	if item.Attempts < 0 {
		return fmt.Errorf("%w %s: attempts must not be negative", ErrInvalidItem, item.ID)
	}
	item.Status = types.CallPending
	item.Exhausted = false
	item.AssignedAgent = ""
	item.DialedAt = nil
	item.AnsweredAt = nil
	if item.Attempts >= c.MaxCallAttempts {
		item.Attempts = c.MaxCallAttempts
		item.Exhausted = true
	}
	return nil
}

// ItemEligible reports whether a contact of an open campaign may be dialed at now
func ItemEligible(c *types.DialerCampaign, item *types.CallListItem, now time.Time) (bool, string) {
	if item.Terminal() || item.Status != types.CallPending {
		return false, ReasonNotPending
	}
	if item.Attempts >= c.MaxCallAttempts {
		return false, ReasonExhausted
	}
	if item.NextEligibleAt != nil && item.NextEligibleAt.After(now) {
		return false, ReasonNotYet
	}
	return true, ""
}

// applyDisposition records the outcome of a finished attempt. The attempt
// must already be counted on item.
func applyDisposition(c *types.DialerCampaign, item *types.CallListItem, status types.CallStatus, now time.Time) {
	item.LastDisposition = string(status)
	item.AssignedAgent = ""
	item.DialedAt = nil
	item.NextEligibleAt = nil

	if status.Retryable() {
		if item.Attempts < c.MaxCallAttempts {
			next := now.Add(time.Duration(c.RetryDelayMinutes) * time.Minute)
			item.Status = types.CallPending
			item.NextEligibleAt = &next
			return
		}
		item.Exhausted = true
	}
	item.Status = status
}

// statusFor maps a ring result to a call list status
func statusFor(o telephony.Outcome) types.CallStatus {
	switch o {
	case telephony.OutcomeNoAnswer:
		return types.CallNoAnswer
	case telephony.OutcomeBusy:
		return types.CallBusy
	case telephony.OutcomeMachine:
		return types.CallVoicemail
	}
	return types.CallFailed
}
