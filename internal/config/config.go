// Package config provides the configuration schema, loader, provider
// registry, and file watcher for the jarvisd control plane.
package config

// LogLevel controls log verbosity for the daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for jarvisd.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig    `yaml:"server"`
	Database      DatabaseConfig  `yaml:"database"`
	Proxmox       ProxmoxConfig   `yaml:"proxmox"`
	SSH           SSHConfig       `yaml:"ssh"`
	HomeAssistant EndpointConfig  `yaml:"homeassistant"`
	Frigate       EndpointConfig  `yaml:"frigate"`
	Providers     ProvidersConfig `yaml:"providers"`
	Mail          MailConfig      `yaml:"mail"`
	Assistant     AssistantConfig `yaml:"assistant"`
	Safety        SafetyConfig    `yaml:"safety"`
}

// ServerConfig holds network, logging, and authentication settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// PasswordHash is the bcrypt hash accepted by /api/auth/login.
	// Empty disables password login.
	PasswordHash string `yaml:"password_hash"`

	// APIKey, when non-empty, is accepted in the X-API-Key header as an
	// alternative to a bearer token.
	APIKey string `yaml:"api_key"`

	// TLS configures TLS for the server. When nil, the server runs plain
	// HTTP (the usual homelab stance behind a reverse proxy).
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// DatabaseConfig locates the embedded store.
type DatabaseConfig struct {
	// Path is the sqlite database file. The parent directory is created at
	// startup.
	Path string `yaml:"path"`
}

// ProxmoxConfig holds the hypervisor API connection settings.
type ProxmoxConfig struct {
	// BaseURL is the Proxmox API root (e.g., "https://pve1:8006").
	BaseURL string `yaml:"base_url"`

	// TokenID is the API token identifier ("user@realm!name").
	TokenID string `yaml:"token_id"`

	// TokenSecret is the API token secret.
	TokenSecret string `yaml:"token_secret"`

	// InsecureTLS skips certificate verification. Self-signed Proxmox
	// certificates are the common case on a LAN.
	InsecureTLS bool `yaml:"insecure_tls"`
}

// SSHConfig holds the pooled per-node SSH execution settings.
type SSHConfig struct {
	// User is the SSH login user on cluster nodes.
	User string `yaml:"user"`

	// KeyPath is the private key file used for authentication.
	KeyPath string `yaml:"key_path"`

	// Port is the SSH port. Defaults to 22.
	Port int `yaml:"port"`
}

// EndpointConfig is a bare HTTP service endpoint with an optional token.
type EndpointConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// ProvidersConfig declares the external inference endpoints. Each entry
// selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// LLM is the primary chat-completion endpoint (llama.cpp server).
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallback, when set, is tried after the primary's circuit opens.
	LLMFallback *ProviderEntry `yaml:"llm_fallback"`

	// STT is the whisper-server transcription endpoint.
	STT ProviderEntry `yaml:"stt"`

	// TTSPrimary is the fast synthesis engine (piper).
	TTSPrimary ProviderEntry `yaml:"tts_primary"`

	// TTSFallback is the slower, reliable engine (xtts).
	TTSFallback ProviderEntry `yaml:"tts_fallback"`

	// WakeScorer is the wake-word scoring endpoint used by jarvis-ear.
	WakeScorer EndpointConfig `yaml:"wake_scorer"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "llamacpp", "whisper", "piper", "xtts").
	Name string `yaml:"name"`

	// BaseURL is the provider's endpoint address.
	BaseURL string `yaml:"base_url"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above (e.g., xtts speaker and language).
	Options map[string]any `yaml:"options"`
}

// MailConfig holds the notification email settings. Mail is sent through a
// delegate host over SSH rather than speaking SMTP directly.
type MailConfig struct {
	// Host is the SSH delegate host that runs the local mail command.
	Host string `yaml:"host"`

	// From is the sender address.
	From string `yaml:"from"`

	// To is the operator address notified of remediations and escalations.
	To string `yaml:"to"`
}

// AssistantConfig holds the conversational settings.
type AssistantConfig struct {
	// SystemPrompt is the persona and instruction block for the LLM.
	SystemPrompt string `yaml:"system_prompt"`

	// Vocabulary lists node, VM, and service names used for phonetic
	// transcript correction. Hot-reloadable.
	Vocabulary []string `yaml:"vocabulary"`

	// Temperature controls LLM output randomness. Zero uses the server
	// default.
	Temperature float64 `yaml:"temperature"`
}

// SafetyConfig holds the safety kernel tables.
type SafetyConfig struct {
	// ApprovalKeyword unlocks ORANGE-tier actions.
	ApprovalKeyword string `yaml:"approval_keyword"`

	// ProtectedVMIDs lists VM IDs no tool call may touch without override.
	ProtectedVMIDs []int `yaml:"protected_vmids"`

	// ProtectedServices lists service names no tool call may touch without
	// override.
	ProtectedServices []string `yaml:"protected_services"`

	// AllowedPathBases lists directory prefixes file tools may read from.
	AllowedPathBases []string `yaml:"allowed_path_bases"`

	// ProtectedPaths lists path prefixes that are always refused.
	ProtectedPaths []string `yaml:"protected_paths"`
}
