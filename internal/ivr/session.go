// Package ivr walks a caller through IVR menus. Session is a pure state
// machine; Navigator drives it over the telephony collaborator.
package ivr

import (
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// MaxDepth bounds submenu nesting
const MaxDepth = 8

// State of a traversal
type State string

const (
	StateGreeting      State = "greeting"
	StateAwaitingInput State = "awaiting_input"
	StateInvalidInput  State = "invalid_input" // replaying the invalid-option message, input still accepted
	StateTimeout       State = "timeout"       // replaying the timeout message, input still accepted
	StateMatched       State = "matched"
	StateDone          State = "done" // fallback taken
	StateCancelled     State = "cancelled"
)

// Final reports whether the traversal has ended
func (s State) Final() bool {
	return s == StateMatched || s == StateDone || s == StateCancelled
}

// EventKind is what happened on the call
type EventKind int

const (
	EventStart EventKind = iota
	EventInput
	EventTimeout
	EventHangup
)

// Event drives a Session
type Event struct {
	Kind   EventKind
	Digits string
	Speech string
}

// Outcome is where the caller ended up
type Outcome struct {
	Action    types.IVRActionType `json:"action"`
	Target    string              `json:"target,omitempty"`
	Intent    string              `json:"intent,omitempty"`
	MenuID    string              `json:"menuId"` // menu the outcome was decided in
	OptionKey string              `json:"optionKey,omitempty"`
	Fallback  bool                `json:"fallback,omitempty"`
	Cancelled bool                `json:"cancelled,omitempty"`
}

// Directive tells the driver what to do next
type Directive struct {
	Play    []string
	Collect bool
	Timeout time.Duration
	Outcome *Outcome // set once the traversal ended
}

// MenuSource resolves menus by ID
type MenuSource interface {
	Menu(id string) (types.IVRMenu, bool)
}

// IntentMatcher picks an option for a spoken utterance
type IntentMatcher interface {
	Match(menu *types.IVRMenu, utterance string) (types.IVROption, bool)
}

// Session is one caller's traversal. It is not safe for concurrent use and
// holds no state shared with other calls.
type Session struct {
	menus   MenuSource
	matcher IntentMatcher

	state   State
	stack   []types.IVRMenu
	retries int
	keys    []string
	outcome *Outcome
}

// NewSession starts a traversal at menuID
func NewSession(menus MenuSource, matcher IntentMatcher, menuID string) (*Session, error) {
	menu, ok := menus.Menu(menuID)
	if !ok {
		return nil, fmt.Errorf("ivr menu %q not found", menuID)
	}
	if matcher == nil {
		matcher = KeywordMatcher{}
	}
	return &Session{
		menus:   menus,
		matcher: matcher,
		state:   StateGreeting,
		stack:   []types.IVRMenu{menu},
	}, nil
}

// State returns the current state
func (s *Session) State() State { return s.state }

// Retries returns failed attempts in the current menu
func (s *Session) Retries() int { return s.retries }

// Depth returns the current submenu depth, 1 for the entry menu
func (s *Session) Depth() int { return len(s.stack) }

// Outcome returns the result once the traversal ended
func (s *Session) Outcome() (Outcome, bool) {
	if s.outcome == nil {
		return Outcome{}, false
	}
	return *s.outcome, true
}

func (s *Session) menu() *types.IVRMenu {
	return &s.stack[len(s.stack)-1]
}

func (s *Session) timeout() time.Duration {
	return time.Duration(s.menu().TimeoutSeconds) * time.Second
}

// Step applies one event and returns the next directive
func (s *Session) Step(ev Event) Directive {
	if s.state.Final() {
		return Directive{Outcome: s.outcome}
	}
	if ev.Kind == EventHangup {
		return s.finish(StateCancelled, Outcome{Action: types.ActionHangup, MenuID: s.menu().ID, Cancelled: true})
	}

	switch s.state {
	case StateGreeting:
		if ev.Kind != EventStart {
			return s.Pending()
		}
		return s.greet()
	case StateAwaitingInput, StateInvalidInput, StateTimeout:
		switch ev.Kind {
		case EventInput:
			return s.input(ev)
		case EventTimeout:
			return s.fail(StateTimeout, s.menu().TimeoutMessage)
		}
	}
	return s.Pending()
}

// Pending re-issues the directive for the current state, used after Resume
func (s *Session) Pending() Directive {
	switch {
	case s.state.Final():
		return Directive{Outcome: s.outcome}
	case s.state == StateGreeting:
		return Directive{}
	}
	return Directive{Collect: true, Timeout: s.timeout()}
}

func (s *Session) greet() Directive {
	s.state = StateAwaitingInput
	d := Directive{Collect: true, Timeout: s.timeout()}
	if g := s.menu().Greeting; g != "" {
		d.Play = []string{g}
	}
	return d
}

func (s *Session) input(ev Event) Directive {
	m := s.menu()
	var (
		opt types.IVROption
		ok  bool
	)
	if ev.Digits != "" {
		opt, ok = m.OptionByKey(ev.Digits)
	}
	if !ok && ev.Speech != "" && m.ConversationalAI {
		opt, ok = s.matcher.Match(m, ev.Speech)
	}
	if !ok {
		return s.fail(StateInvalidInput, m.InvalidOptionMessage)
	}
	s.keys = append(s.keys, opt.OptionKey)
	return s.choose(opt)
}

// fail counts a timeout or invalid input; reaching max_retries takes the fallback
func (s *Session) fail(next State, message string) Directive {
	s.retries++
	if s.retries >= s.menu().MaxRetries {
		return s.fallback()
	}
	s.state = next
	d := Directive{Collect: true, Timeout: s.timeout()}
	if message != "" {
		d.Play = []string{message}
	}
	return d
}

func (s *Session) choose(opt types.IVROption) Directive {
	m := s.menu()
	switch opt.ActionType {
	case types.ActionSubmenu:
		if len(s.stack) >= MaxDepth {
			return s.fallback()
		}
		next, ok := s.menus.Menu(opt.ActionTarget)
		if !ok {
			return s.fallback()
		}
		s.stack = append(s.stack, next)
		s.retries = 0
		s.state = StateGreeting
		return s.greet()
	case types.ActionAIIntent:
		return s.finish(StateMatched, Outcome{
			Action:    types.ActionTransferQueue,
			Target:    opt.ActionTarget,
			Intent:    opt.Intent,
			MenuID:    m.ID,
			OptionKey: opt.OptionKey,
		})
	}
	return s.finish(StateMatched, Outcome{
		Action:    opt.ActionType,
		Target:    opt.ActionTarget,
		Intent:    opt.Intent,
		MenuID:    m.ID,
		OptionKey: opt.OptionKey,
	})
}

func (s *Session) fallback() Directive {
	m := s.menu()
	fb := m.Fallback
	switch fb.ActionType {
	case "", types.ActionSubmenu, types.ActionAIIntent:
		fb = types.IVRFallback{ActionType: types.ActionVoicemail}
	}
	return s.finish(StateDone, Outcome{Action: fb.ActionType, Target: fb.Target, MenuID: m.ID, Fallback: true})
}

func (s *Session) finish(state State, o Outcome) Directive {
	s.state = state
	s.outcome = &o
	return Directive{Outcome: s.outcome}
}

// Snapshot is the resumable state of a Session
type Snapshot struct {
	State   State    `json:"state"`
	MenuIDs []string `json:"menuIds"` // entry menu first
	Retries int      `json:"retries"`
	Keys    []string `json:"keys,omitempty"`
	Outcome *Outcome `json:"outcome,omitempty"`
}

// Snapshot captures the traversal so it can be resumed elsewhere
func (s *Session) Snapshot() Snapshot {
	ids := make([]string, len(s.stack))
	for i := range s.stack {
		ids[i] = s.stack[i].ID
	}
	snap := Snapshot{
		State:   s.state,
		MenuIDs: ids,
		Retries: s.retries,
		Keys:    append([]string(nil), s.keys...),
	}
	if s.outcome != nil {
		o := *s.outcome
		snap.Outcome = &o
	}
	return snap
}

// Resume rebuilds a Session from a snapshot
func Resume(menus MenuSource, matcher IntentMatcher, snap Snapshot) (*Session, error) {
	if len(snap.MenuIDs) == 0 {
		return nil, fmt.Errorf("ivr snapshot has no menus")
	}
	if len(snap.MenuIDs) > MaxDepth {
		return nil, fmt.Errorf("ivr snapshot depth %d exceeds %d", len(snap.MenuIDs), MaxDepth)
	}
	stack := make([]types.IVRMenu, 0, len(snap.MenuIDs))
	for _, id := range snap.MenuIDs {
		m, ok := menus.Menu(id)
		if !ok {
			return nil, fmt.Errorf("ivr menu %q not found", id)
		}
		stack = append(stack, m)
	}
	if matcher == nil {
		matcher = KeywordMatcher{}
	}
	s := &Session{
		menus:   menus,
		matcher: matcher,
		state:   snap.State,
		stack:   stack,
		retries: snap.Retries,
		keys:    append([]string(nil), snap.Keys...),
	}
	if snap.Outcome != nil {
		o := *snap.Outcome
		s.outcome = &o
	}
	if s.state == "" {
		s.state = StateGreeting
	}
	return s, nil
}
