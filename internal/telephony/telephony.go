// Package telephony defines the media collaborator the core drives calls
// through. The core never touches SIP or RTP itself.
package telephony

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTransportDown means the media layer is unreachable. Dials that fail
	// with it do not count as attempts.
	ErrTransportDown = errors.New("telephony transport down")
	// ErrHungUp means the far end left the call
	ErrHungUp = errors.New("call hung up")
)

// CallHandle identifies a live call on the media layer
type CallHandle struct {
	ID     string `json:"id"`
	Number string `json:"number,omitempty"`
}

// Outcome is how an outbound dial ended its ringing phase
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeNoAnswer Outcome = "no_answer"
	OutcomeBusy     Outcome = "busy"
	OutcomeMachine  Outcome = "voicemail" // answering machine detected
	OutcomeFailed   Outcome = "failed"
)

// DialResult is returned by PlaceCall once the ringing phase is over
type DialResult struct {
	Handle   CallHandle
	Outcome  Outcome
	RingTime time.Duration
}

// Input is what a caller gave at a prompt
type Input struct {
	Digits   string
	Speech   string
	TimedOut bool
}

// Collaborator is the media layer
type Collaborator interface {
	PlaceCall(ctx context.Context, number string) (DialResult, error)
	PlayPrompt(ctx context.Context, h CallHandle, prompt string) error
	CollectInput(ctx context.Context, h CallHandle, timeout time.Duration) (Input, error)
	Transfer(ctx context.Context, h CallHandle, target string) error
	Hangup(ctx context.Context, h CallHandle) error
}
