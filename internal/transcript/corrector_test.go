package transcript

import (
	"testing"
)

var testVocab = []string{"pihole", "jellyfin", "pve1", "Home Assistant"}

func TestCorrectSplitName(t *testing.T) {
	c := NewCorrector(testVocab)

	got, corrections := c.Correct("restart pie hole now")
	if got != "restart pihole now" {
		t.Errorf("Correct = %q, want %q", got, "restart pihole now")
	}
	if len(corrections) != 1 {
		t.Fatalf("corrections = %d, want 1", len(corrections))
	}
	if corrections[0].Original != "pie hole" || corrections[0].Corrected != "pihole" {
		t.Errorf("correction = %+v", corrections[0])
	}
	if corrections[0].Confidence <= 0 {
		t.Errorf("confidence = %f", corrections[0].Confidence)
	}
}

func TestCorrectPreservesPunctuation(t *testing.T) {
	c := NewCorrector(testVocab)

	got, corrections := c.Correct("can you check jellyfan?")
	if got != "can you check jellyfin?" {
		t.Errorf("Correct = %q", got)
	}
	if len(corrections) != 1 || corrections[0].Original != "jellyfan" {
		t.Errorf("corrections = %+v", corrections)
	}
}

func TestCorrectLeavesExactWordsAlone(t *testing.T) {
	c := NewCorrector(testVocab)

	got, corrections := c.Correct("is pihole running")
	if got != "is pihole running" {
		t.Errorf("Correct = %q, exact word rewritten", got)
	}
	if len(corrections) != 0 {
		t.Errorf("corrections = %+v for an already-correct transcript", corrections)
	}
}

func TestCorrectEmptyVocabulary(t *testing.T) {
	c := NewCorrector(nil)

	got, corrections := c.Correct("restart pie hole")
	if got != "restart pie hole" || corrections != nil {
		t.Errorf("Correct with empty vocab = %q, %v", got, corrections)
	}
}

func TestCorrectShortWordsSkipped(t *testing.T) {
	c := NewCorrector([]string{"pve1"})

	// "to" and "a" are below the token length floor and must never be
	// submitted to the matcher on their own.
	got, _ := c.Correct("go to a")
	if got != "go to a" {
		t.Errorf("Correct = %q, short words rewritten", got)
	}
}

func TestSetVocabularyReplaces(t *testing.T) {
	c := NewCorrector([]string{"jellyfin"})
	c.SetVocabulary([]string{"pihole"})

	got, _ := c.Correct("check pie hole")
	if got != "check pihole" {
		t.Errorf("Correct = %q after vocabulary swap", got)
	}
}

func TestSplitTrailingPunct(t *testing.T) {
	tests := []struct {
		in, word, punct string
	}{
		{"pihole.", "pihole", "."},
		{"pihole?!", "pihole", "?!"},
		{"pihole", "pihole", ""},
		{"...", "", "..."},
	}
	for _, tt := range tests {
		word, punct := splitTrailingPunct(tt.in)
		if word != tt.word || punct != tt.punct {
			t.Errorf("splitTrailingPunct(%q) = %q, %q", tt.in, word, punct)
		}
	}
}
