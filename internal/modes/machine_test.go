package modes

import (
	"strings"
	"testing"
)

func TestSelectTogglesSameMode(t *testing.T) {
	t.Parallel()
	var m Machine

	if _, to := m.Select(ModeLearn); to != ModeLearn {
		t.Fatalf("expected learn active, got %q", to)
	}
	if _, to := m.Select(ModeLearn); to != ModeNone {
		t.Fatalf("expected toggle-off back to none, got %q", to)
	}
}

func TestSelectReplacesOtherMode(t *testing.T) {
	t.Parallel()
	var m Machine

	m.Select(ModeLearn)
	from, to := m.Select(ModeEnglish)
	if from != ModeLearn {
		t.Errorf("expected from=learn, got %q", from)
	}
	if to != ModeEnglish {
		t.Errorf("expected to=english, got %q", to)
	}
}

func TestSelectClearsPendingOff(t *testing.T) {
	t.Parallel()
	var m Machine

	m.Select(ModeLearn)
	if res := m.HandleTurn("please turn off this"); res.Outcome != TurnAskConfirm {
		t.Fatalf("expected ask-confirm, got %v", res.Outcome)
	}
	m.Select(ModeStartup)
	if m.PendingOff() {
		t.Error("expected pending-off to be cleared by explicit selection")
	}
}

func TestTurnOffFlow(t *testing.T) {
	t.Parallel()
	var m Machine
	m.Select(ModeLearn)

	res := m.HandleTurn("can you turn off the mode please")
	if res.Outcome != TurnAskConfirm {
		t.Fatalf("expected ask-confirm, got %v", res.Outcome)
	}
	if res.Reply == "" || !strings.Contains(res.Reply, "Learn Mode") {
		t.Errorf("expected confirmation question naming the mode, got %q", res.Reply)
	}
	if m.Active() != ModeLearn {
		t.Error("mode must stay active while confirmation is pending")
	}

	res = m.HandleTurn("yes please")
	if res.Outcome != TurnDeactivated {
		t.Fatalf("expected deactivation, got %v", res.Outcome)
	}
	if m.Active() != ModeNone {
		t.Errorf("expected no active mode, got %q", m.Active())
	}
}

func TestTurnOffDeclined(t *testing.T) {
	t.Parallel()
	for _, decline := range []string{"no", "nahi", "cancel that"} {
		var m Machine
		m.Select(ModeLearn)

		m.HandleTurn("turn off")
		res := m.HandleTurn(decline)
		if res.Outcome != TurnKeptActive {
			t.Fatalf("%q: expected kept-active, got %v", decline, res.Outcome)
		}
		if m.Active() != ModeLearn {
			t.Errorf("%q: expected learn still active, got %q", decline, m.Active())
		}
		if m.PendingOff() {
			t.Errorf("%q: pending-off should be cleared after a decline", decline)
		}
	}
}

func TestTurnOffAmbiguousKeepsActive(t *testing.T) {
	t.Parallel()
	var m Machine
	m.Select(ModeEnglish)

	m.HandleTurn("stop mode")
	res := m.HandleTurn("what's the weather like")
	if res.Outcome != TurnKeptActive {
		t.Fatalf("expected ambiguous input to keep the mode, got %v", res.Outcome)
	}
	if m.Active() != ModeEnglish {
		t.Errorf("expected english still active, got %q", m.Active())
	}
}

func TestHindiAffirmative(t *testing.T) {
	t.Parallel()
	var m Machine
	m.Select(ModeStartup)

	if res := m.HandleTurn("turn this mode off"); res.Outcome != TurnAskConfirm {
		t.Fatalf("expected ask-confirm, got %v", res.Outcome)
	}
	if res := m.HandleTurn("haan"); res.Outcome != TurnDeactivated {
		t.Fatalf("expected deactivation on haan, got %v", res.Outcome)
	}
	if m.Active() != ModeNone {
		t.Errorf("expected no active mode, got %q", m.Active())
	}
}

func TestNoModeForwardsEverything(t *testing.T) {
	t.Parallel()
	var m Machine

	res := m.HandleTurn("turn off the lights")
	if res.Outcome != TurnForward {
		t.Fatalf("turn-off phrases are inert without an active mode, got %v", res.Outcome)
	}
}

func TestMatchingIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	var m Machine
	m.Select(ModeLearn)

	if res := m.HandleTurn("TURN OFF"); res.Outcome != TurnAskConfirm {
		t.Fatalf("expected case-insensitive match, got %v", res.Outcome)
	}
	if res := m.HandleTurn("YES"); res.Outcome != TurnDeactivated {
		t.Fatalf("expected case-insensitive affirmative, got %v", res.Outcome)
	}
}
