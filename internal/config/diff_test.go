package config

import "testing"

func TestDiffLogLevel(t *testing.T) {
	old := &Config{Server: ServerConfig{LogLevel: LogInfo}}
	new := &Config{Server: ServerConfig{LogLevel: LogDebug}}

	d := Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if !d.Any() {
		t.Error("Any() = false with a changed log level")
	}
}

func TestDiffVocabulary(t *testing.T) {
	old := &Config{Assistant: AssistantConfig{Vocabulary: []string{"pihole"}}}
	new := &Config{Assistant: AssistantConfig{Vocabulary: []string{"pihole", "jellyfin"}}}

	d := Diff(old, new)
	if !d.VocabularyChanged || len(d.NewVocabulary) != 2 {
		t.Errorf("diff = %+v", d)
	}
}

func TestDiffNoChange(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{LogLevel: LogInfo},
		Assistant: AssistantConfig{SystemPrompt: "p", Vocabulary: []string{"a"}},
	}
	clone := *cfg
	clone.Assistant.Vocabulary = []string{"a"}

	if d := Diff(cfg, &clone); d.Any() {
		t.Errorf("diff = %+v, want none", d)
	}
}

func TestDiffIgnoresNonReloadableFields(t *testing.T) {
	old := &Config{Database: DatabaseConfig{Path: "a.db"}}
	new := &Config{Database: DatabaseConfig{Path: "b.db"}}

	if d := Diff(old, new); d.Any() {
		t.Errorf("database path change reported as hot-reloadable: %+v", d)
	}
}
