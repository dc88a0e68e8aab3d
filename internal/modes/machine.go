// Package modes implements the assistant persona state machine: at most one
// mode active at a time, with a two-step confirmation dialog for turning a
// mode off via chat.
package modes

import (
	"fmt"
	"strings"
)

// Mode identifies an assistant persona overlay.
type Mode string

// The enumerated personas. ModeNone means plain chat.
const (
	ModeNone    Mode = ""
	ModeLearn   Mode = "learn"
	ModeEnglish Mode = "english"
	ModeStartup Mode = "startup"
)

// Valid reports whether m is one of the enumerated personas.
func (m Mode) Valid() bool {
	switch m {
	case ModeLearn, ModeEnglish, ModeStartup:
		return true
	}
	return false
}

// DisplayName returns the user-facing name of the mode.
func (m Mode) DisplayName() string {
	switch m {
	case ModeLearn:
		return "Learn Mode"
	case ModeEnglish:
		return "English Speaking Mode"
	case ModeStartup:
		return "The Billionaire Dollar Idea"
	}
	return "mode"
}

// TurnOutcome classifies what the machine did with a user turn.
type TurnOutcome int

const (
	// TurnForward means the turn was not consumed and should go to the
	// inference backend.
	TurnForward TurnOutcome = iota
	// TurnAskConfirm means the machine entered the pending-off state and
	// produced a confirmation question.
	TurnAskConfirm
	// TurnDeactivated means the user confirmed and the mode was turned off.
	TurnDeactivated
	// TurnKeptActive means the user declined (or was ambiguous) and the mode
	// stays active.
	TurnKeptActive
)

// TurnResult is the machine's decision for one user turn. Reply is the
// canned assistant message to append when the turn was consumed.
type TurnResult struct {
	Outcome TurnOutcome
	Reply   string
	Mode    Mode
}

// Machine tracks the active persona and the pending-deactivation step.
// Not safe for concurrent use; the session coordinator serializes access.
type Machine struct {
	active     Mode
	pendingOff bool
}

// Active returns the currently active mode, or ModeNone.
func (s *Machine) Active() Mode {
	return s.active
}

// PendingOff reports whether a deactivation confirmation is outstanding.
func (s *Machine) PendingOff() bool {
	return s.pendingOff
}

// Select handles an explicit menu selection. Selecting the active mode
// toggles it off; selecting another mode replaces the active one; ModeNone
// deactivates. Returns the previously active mode and the now-active mode.
func (s *Machine) Select(mode Mode) (from, to Mode) {
	from = s.active
	s.pendingOff = false

	if mode == ModeNone || mode == s.active {
		s.active = ModeNone
	} else {
		s.active = mode
	}
	return from, s.active
}

// HandleTurn runs a user turn through the turn-off dialog. Consumed turns
// (anything but TurnForward) must not reach the inference backend.
func (s *Machine) HandleTurn(content string) TurnResult {
	lower := strings.ToLower(content)

	if s.pendingOff {
		mode := s.active
		s.pendingOff = false

		keepActive := TurnResult{
			Outcome: TurnKeptActive,
			Reply:   fmt.Sprintf("Alright, I'll keep the %s active. Let's continue!", mode.DisplayName()),
			Mode:    mode,
		}

		switch {
		case containsAny(lower, affirmativeTokens):
			s.active = ModeNone
			return TurnResult{
				Outcome: TurnDeactivated,
				Reply:   "Done! I've turned off the mode. We're back to our regular chat now. What would you like to talk about?",
				Mode:    mode,
			}
		case containsAny(lower, negativeTokens):
			return keepActive
		default:
			// An ambiguous answer keeps the mode active too.
			return keepActive
		}
	}

	if s.active != ModeNone && containsAny(lower, turnOffPhrases) {
		s.pendingOff = true
		return TurnResult{
			Outcome: TurnAskConfirm,
			Reply:   fmt.Sprintf("Do you want me to turn off %s? Just say \"Yes\" to confirm or \"No\" to keep it active.", s.active.DisplayName()),
			Mode:    s.active,
		}
	}

	return TurnResult{Outcome: TurnForward, Mode: s.active}
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
