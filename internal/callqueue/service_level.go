package callqueue

import "github.com/dennisdiepolder/monti/contactcore/internal/types"

// SLTracker tracks service level metrics for a queue
type SLTracker struct {
	Target        int // target percentage (e.g., 80)
	ThresholdSecs int // threshold in seconds (e.g., 20)
	AnsweredInSL  int // interactions answered within threshold
	TotalAnswered int // total interactions answered
}

// NewSLTracker creates a new SL tracker with the given target
func NewSLTracker(target, thresholdSecs int) *SLTracker {
	return &SLTracker{
		Target:        target,
		ThresholdSecs: thresholdSecs,
	}
}

// RecordAnswer records an interaction being answered
func (s *SLTracker) RecordAnswer(waitTimeSecs float64) {
	s.TotalAnswered++
	if waitTimeSecs <= float64(s.ThresholdSecs) {
		s.AnsweredInSL++
	}
}

// UndoAnswer reverses RecordAnswer for an assignment that never reached the agent
func (s *SLTracker) UndoAnswer(waitTimeSecs float64) {
	if s.TotalAnswered == 0 {
		return
	}
	s.TotalAnswered--
	if waitTimeSecs <= float64(s.ThresholdSecs) && s.AnsweredInSL > 0 {
		s.AnsweredInSL--
	}
}

// Configure updates target and threshold after a catalog reload
func (s *SLTracker) Configure(target, thresholdSecs int) {
	s.Target = target
	s.ThresholdSecs = thresholdSecs
}

// CurrentSL returns the current service level percentage
func (s *SLTracker) CurrentSL() float64 {
	if s.TotalAnswered == 0 {
		return 100.0 // Nothing answered yet, SL is 100%
	}
	return float64(s.AnsweredInSL) / float64(s.TotalAnswered) * 100.0
}

// Snapshot returns a ServiceLevel snapshot
func (s *SLTracker) Snapshot() types.ServiceLevel {
	return types.ServiceLevel{
		Target:        s.Target,
		ThresholdSecs: s.ThresholdSecs,
		AnsweredInSL:  s.AnsweredInSL,
		TotalAnswered: s.TotalAnswered,
		CurrentSL:     s.CurrentSL(),
	}
}
