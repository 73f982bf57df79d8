package phonetic_test

import (
	"testing"

	"github.com/hearthward/jarvisd/internal/transcript/phonetic"
)

var vocab = []string{"pihole", "frigate", "Home Assistant", "pve1", "jellyfin"}

func TestMatcherMishearing(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	// Whisper routinely splits "pihole" into two words.
	corrected, conf, matched := m.Match("pie hole", vocab)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "pie hole")
	}
	if corrected != "pihole" {
		t.Errorf("Match(%q): corrected=%q, want pihole", "pie hole", corrected)
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "pie hole", conf)
	}
}

func TestMatcherMultiWordEntity(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	corrected, conf, matched := m.Match("home assistan", vocab)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "home assistan")
	}
	if corrected != "Home Assistant" {
		t.Errorf("corrected=%q, want the entity's original casing", corrected)
	}
	if conf < 0.7 {
		t.Errorf("confidence=%f, want >= 0.7", conf)
	}
}

func TestMatcherNoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	corrected, conf, matched := m.Match("restart", []string{"pihole", "nas"})
	if matched {
		t.Fatalf("Match(%q): matched=true, want false", "restart")
	}
	if corrected != "restart" {
		t.Errorf("corrected=%q, want the original word back", corrected)
	}
	if conf != 0 {
		t.Errorf("confidence=%f, want 0", conf)
	}
}

func TestMatcherCaseInsensitive(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	corrected, _, matched := m.Match("JELLYFIN", vocab)
	if !matched {
		t.Fatal("uppercase input did not match")
	}
	if corrected != "jellyfin" {
		t.Errorf("corrected=%q, want the entity's original casing", corrected)
	}
}

func TestMatcherEmptyInputs(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	if _, _, matched := m.Match("pihole", nil); matched {
		t.Error("matched against an empty vocabulary")
	}
	if _, _, matched := m.Match("   ", vocab); matched {
		t.Error("matched blank input")
	}
}

func TestMatcherThresholdOptions(t *testing.T) {
	t.Parallel()

	// An impossible threshold rejects even exact matches.
	m := phonetic.New(phonetic.WithPhoneticThreshold(1.01), phonetic.WithFuzzyThreshold(1.01))
	if _, _, matched := m.Match("pihole", vocab); matched {
		t.Error("matched above an impossible threshold")
	}
}
