package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"llamacpp", "openai"},
	"stt": {"whisper"},
	"tts": {"piper", "xtts"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Database
	if cfg.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	// Hypervisor
	if cfg.Proxmox.BaseURL == "" {
		slog.Warn("proxmox.base_url is empty; cluster monitoring and lifecycle tools will be unavailable")
	} else if cfg.Proxmox.TokenID == "" || cfg.Proxmox.TokenSecret == "" {
		errs = append(errs, errors.New("proxmox.token_id and proxmox.token_secret are required when proxmox.base_url is set"))
	}

	// SSH
	if cfg.SSH.User != "" && cfg.SSH.KeyPath == "" {
		errs = append(errs, errors.New("ssh.key_path is required when ssh.user is set"))
	}
	if cfg.SSH.Port < 0 || cfg.SSH.Port > 65535 {
		errs = append(errs, fmt.Errorf("ssh.port %d is out of range", cfg.SSH.Port))
	}

	// Provider name validation, warn only for unknown names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	if cfg.Providers.LLMFallback != nil {
		validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTSPrimary.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)

	// Provider cross-requirements
	if cfg.Providers.LLM.Name != "" && cfg.Providers.LLM.BaseURL == "" {
		errs = append(errs, errors.New("providers.llm.base_url is required when providers.llm.name is set"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; the conversational surface will be unavailable")
	}
	if cfg.Providers.STT.Name == "" && cfg.Providers.TTSPrimary.Name != "" {
		slog.Warn("TTS is configured without STT; the voice namespace cannot transcribe utterances")
	}
	if cfg.Providers.TTSPrimary.Name != "" && cfg.Providers.TTSFallback.Name == "" {
		slog.Warn("providers.tts_fallback is empty; speech synthesis has no failover engine")
	}

	// Mail is all-or-nothing.
	mailFields := []string{cfg.Mail.Host, cfg.Mail.From, cfg.Mail.To}
	set := 0
	for _, f := range mailFields {
		if f != "" {
			set++
		}
	}
	if set != 0 && set != len(mailFields) {
		errs = append(errs, errors.New("mail requires host, from, and to together"))
	}

	// Safety
	if kw := strings.TrimSpace(cfg.Safety.ApprovalKeyword); kw != "" && len(kw) < 4 {
		errs = append(errs, fmt.Errorf("safety.approval_keyword %q is too short; use at least 4 characters", kw))
	}
	for i, id := range cfg.Safety.ProtectedVMIDs {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("safety.protected_vmids[%d] = %d is not a valid VM ID", i, id))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
