package telephony

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SimConfig controls the simulated media layer
type SimConfig struct {
	Weights  map[Outcome]float64 // relative outcome weights for unscripted dials
	RingTime time.Duration
	Seed     int64
}

// DefaultSimConfig answers most calls after a short ring
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Weights: map[Outcome]float64{
			OutcomeAnswered: 6,
			OutcomeNoAnswer: 2,
			OutcomeBusy:     1,
			OutcomeMachine:  1,
		},
		RingTime: 2 * time.Second,
		Seed:     time.Now().UnixNano(),
	}
}

type outcomeWeight struct {
	outcome Outcome
	weight  float64
}

// Simulator is an in-process Collaborator used by the simulator run mode
// and by tests. Outcomes and caller input can be scripted.
type Simulator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	weights  []outcomeWeight
	ringTime time.Duration
	down     bool

	outcomes  map[string][]Outcome // number -> scripted dial outcomes
	inputs    map[string][]Input   // handle ID -> scripted caller input
	prompts   map[string][]string
	transfers map[string]string
	hungUp    map[string]bool
	dials     []string

	logger zerolog.Logger
}

// NewSimulator creates a Simulator
func NewSimulator(cfg SimConfig, logger zerolog.Logger) *Simulator {
	s := &Simulator{
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		ringTime:  cfg.RingTime,
		outcomes:  make(map[string][]Outcome),
		inputs:    make(map[string][]Input),
		prompts:   make(map[string][]string),
		transfers: make(map[string]string),
		hungUp:    make(map[string]bool),
		logger:    logger.With().Str("component", "telephony_sim").Logger(),
	}
	// fixed order so a seed reproduces the same sequence
	for _, o := range []Outcome{OutcomeAnswered, OutcomeNoAnswer, OutcomeBusy, OutcomeMachine, OutcomeFailed} {
		if w := cfg.Weights[o]; w > 0 {
			s.weights = append(s.weights, outcomeWeight{outcome: o, weight: w})
		}
	}
	return s
}

// SetTransportDown simulates a media layer outage
func (s *Simulator) SetTransportDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

// ScriptOutcomes queues dial outcomes for a number, consumed in order
func (s *Simulator) ScriptOutcomes(number string, outcomes ...Outcome) {
	s.mu.Lock()
	s.outcomes[number] = append(s.outcomes[number], outcomes...)
	s.mu.Unlock()
}

// ScriptInputs queues caller input for a handle, consumed in order
func (s *Simulator) ScriptInputs(handleID string, inputs ...Input) {
	s.mu.Lock()
	s.inputs[handleID] = append(s.inputs[handleID], inputs...)
	s.mu.Unlock()
}

// Inbound creates a handle for a simulated inbound call
func (s *Simulator) Inbound(number string) CallHandle {
	return CallHandle{ID: uuid.New().String(), Number: number}
}

// PlaceCall simulates ringing and returns the outcome
func (s *Simulator) PlaceCall(ctx context.Context, number string) (DialResult, error) {
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return DialResult{}, ErrTransportDown
	}
	s.dials = append(s.dials, number)
	outcome := s.nextOutcome(number)
	ring := s.ringTime
	s.mu.Unlock()

	if ring > 0 {
		select {
		case <-ctx.Done():
			return DialResult{}, ctx.Err()
		case <-time.After(ring):
		}
	}

	h := CallHandle{ID: uuid.New().String(), Number: number}
	s.logger.Debug().Str("number", number).Str("outcome", string(outcome)).Msg("simulated dial")
	return DialResult{Handle: h, Outcome: outcome, RingTime: ring}, nil
}

// nextOutcome expects s.mu held
func (s *Simulator) nextOutcome(number string) Outcome {
	if q := s.outcomes[number]; len(q) > 0 {
		s.outcomes[number] = q[1:]
		return q[0]
	}
	total := 0.0
	for _, w := range s.weights {
		total += w.weight
	}
	if total == 0 {
		return OutcomeAnswered
	}
	r := s.rng.Float64() * total
	for _, w := range s.weights {
		if r < w.weight {
			return w.outcome
		}
		r -= w.weight
	}
	return s.weights[len(s.weights)-1].outcome
}

// PlayPrompt records the prompt
func (s *Simulator) PlayPrompt(ctx context.Context, h CallHandle, prompt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hungUp[h.ID] {
		return ErrHungUp
	}
	s.prompts[h.ID] = append(s.prompts[h.ID], prompt)
	return nil
}

// CollectInput returns scripted input, or waits for the timeout
func (s *Simulator) CollectInput(ctx context.Context, h CallHandle, timeout time.Duration) (Input, error) {
	s.mu.Lock()
	if s.hungUp[h.ID] {
		s.mu.Unlock()
		return Input{}, ErrHungUp
	}
	if q := s.inputs[h.ID]; len(q) > 0 {
		s.inputs[h.ID] = q[1:]
		s.mu.Unlock()
		return q[0], nil
	}
	s.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Input{}, ctx.Err()
	case <-t.C:
		return Input{TimedOut: true}, nil
	}
}

// Transfer records where the call went
func (s *Simulator) Transfer(ctx context.Context, h CallHandle, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hungUp[h.ID] {
		return fmt.Errorf("transfer %s: %w", h.ID, ErrHungUp)
	}
	s.transfers[h.ID] = target
	return nil
}

// Hangup ends the call
func (s *Simulator) Hangup(_ context.Context, h CallHandle) error {
	s.mu.Lock()
	s.hungUp[h.ID] = true
	s.mu.Unlock()
	return nil
}

// Prompts returns the prompts played on a call
func (s *Simulator) Prompts(h CallHandle) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[h.ID]...)
}

// TransferTarget returns where a call was transferred
func (s *Simulator) TransferTarget(h CallHandle) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[h.ID]
	return t, ok
}

// HungUp reports whether the call was ended
func (s *Simulator) HungUp(h CallHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hungUp[h.ID]
}

// Dials returns every number dialed so far
func (s *Simulator) Dials() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dials...)
}
