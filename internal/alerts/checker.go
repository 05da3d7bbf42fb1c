package alerts

import (
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Thresholds configures when a queue raises an alert
type Thresholds struct {
	LongestWait      time.Duration // warning once the head has waited this long
	LongestWaitCrit  time.Duration // critical once the head has waited this long
	MinSLSamples     int           // answered interactions needed before SL is judged
	UnroutedWarnings int           // unrouted interactions tolerated in a queue
}

// DefaultThresholds returns the thresholds used when none are configured
func DefaultThresholds() Thresholds {
	return Thresholds{
		LongestWait:      2 * time.Minute,
		LongestWaitCrit:  5 * time.Minute,
		MinSLSamples:     10,
		UnroutedWarnings: 0,
	}
}

// CheckQueueAlerts evaluates alert rules for a slice of queue snapshots,
// replacing each snapshot's Alerts field in place.
func CheckQueueAlerts(queues []types.QueueSnapshot, th Thresholds) {
	for i := range queues {
		q := &queues[i]
		q.Alerts = nil

		wait := time.Duration(q.LongestWaitSecs * float64(time.Second))
		switch {
		case th.LongestWaitCrit > 0 && wait >= th.LongestWaitCrit:
			q.Alerts = append(q.Alerts, types.QueueAlert{
				Rule:     "wait_long",
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("Longest wait %s", formatDuration(wait)),
			})
		case th.LongestWait > 0 && wait >= th.LongestWait:
			q.Alerts = append(q.Alerts, types.QueueAlert{
				Rule:     "wait_long",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Longest wait %s", formatDuration(wait)),
			})
		}

		if q.WaitingCount > 0 && q.AvailableAgents == 0 {
			q.Alerts = append(q.Alerts, types.QueueAlert{
				Rule:     "no_agents",
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("%d waiting, no agent available", q.WaitingCount),
			})
		}

		sl := q.ServiceLevel
		if sl.TotalAnswered >= th.MinSLSamples && sl.TotalAnswered > 0 && sl.CurrentSL < float64(sl.Target) {
			q.Alerts = append(q.Alerts, types.QueueAlert{
				Rule:     "sl_below_target",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("SL %.1f%% below target %d%%", sl.CurrentSL, sl.Target),
			})
		}

		if q.UnroutedCount > th.UnroutedWarnings {
			q.Alerts = append(q.Alerts, types.QueueAlert{
				Rule:     "unrouted",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("%d interactions matched no rule", q.UnroutedCount),
			})
		}
	}
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		hours := mins / 60
		mins = mins % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
