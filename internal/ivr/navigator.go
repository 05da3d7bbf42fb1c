package ivr

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/telephony"
)

// Navigator drives Sessions over the telephony collaborator
type Navigator struct {
	menus   MenuSource
	matcher IntentMatcher
	tel     telephony.Collaborator
	logger  zerolog.Logger
}

// NewNavigator creates a Navigator. A nil matcher uses KeywordMatcher.
func NewNavigator(menus MenuSource, matcher IntentMatcher, tel telephony.Collaborator, logger zerolog.Logger) *Navigator {
	if matcher == nil {
		matcher = KeywordMatcher{}
	}
	return &Navigator{
		menus:   menus,
		matcher: matcher,
		tel:     tel,
		logger:  logger.With().Str("component", "ivr").Logger(),
	}
}

// Run walks the caller on h through menuID until an outcome is reached.
// Cancelling ctx counts as a hangup.
func (n *Navigator) Run(ctx context.Context, h telephony.CallHandle, menuID string) (Outcome, error) {
	s, err := NewSession(n.menus, n.matcher, menuID)
	if err != nil {
		return Outcome{}, err
	}
	return n.drive(ctx, h, s, s.Step(Event{Kind: EventStart}))
}

// ResumeRun continues a traversal captured by Session.Snapshot
func (n *Navigator) ResumeRun(ctx context.Context, h telephony.CallHandle, snap Snapshot) (Outcome, error) {
	s, err := Resume(n.menus, n.matcher, snap)
	if err != nil {
		return Outcome{}, err
	}
	d := s.Pending()
	if s.State() == StateGreeting {
		d = s.Step(Event{Kind: EventStart})
	}
	return n.drive(ctx, h, s, d)
}

func (n *Navigator) drive(ctx context.Context, h telephony.CallHandle, s *Session, d Directive) (Outcome, error) {
	log := n.logger.With().Str("call_id", h.ID).Logger()

	for d.Outcome == nil {
		ev, err := n.perform(ctx, h, d)
		if err != nil {
			s.Step(Event{Kind: EventHangup})
			o, _ := s.Outcome()
			log.Error().Err(err).Msg("ivr aborted on telephony error")
			return o, fmt.Errorf("ivr call %s: %w", h.ID, err)
		}
		d = s.Step(ev)
		log.Debug().
			Str("state", string(s.State())).
			Int("retries", s.Retries()).
			Int("depth", s.Depth()).
			Msg("ivr step")
	}

	o := *d.Outcome
	log.Info().
		Str("action", string(o.Action)).
		Str("target", o.Target).
		Str("menu_id", o.MenuID).
		Bool("fallback", o.Fallback).
		Bool("cancelled", o.Cancelled).
		Msg("ivr finished")
	return o, nil
}

// perform plays prompts and collects input; a hangup is returned as an
// event, other failures as errors
func (n *Navigator) perform(ctx context.Context, h telephony.CallHandle, d Directive) (Event, error) {
	for _, p := range d.Play {
		if err := n.tel.PlayPrompt(ctx, h, p); err != nil {
			if hungUp(ctx, err) {
				return Event{Kind: EventHangup}, nil
			}
			return Event{}, err
		}
	}
	if !d.Collect {
		return Event{Kind: EventStart}, nil
	}

	pctx, cancel := context.WithTimeout(ctx, d.Timeout)
	in, err := n.tel.CollectInput(pctx, h, d.Timeout)
	cancel()

	switch {
	case ctx.Err() != nil:
		return Event{Kind: EventHangup}, nil
	case err == nil && in.TimedOut:
		return Event{Kind: EventTimeout}, nil
	case err == nil:
		return Event{Kind: EventInput, Digits: in.Digits, Speech: in.Speech}, nil
	case errors.Is(err, context.DeadlineExceeded):
		return Event{Kind: EventTimeout}, nil
	case hungUp(ctx, err):
		return Event{Kind: EventHangup}, nil
	}
	return Event{}, err
}

func hungUp(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, telephony.ErrHungUp)
}
