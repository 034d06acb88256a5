// Package config provides the configuration schema, loader, and provider registry
// for the Mnemoxa memory service.
package config

import "time"

// LogLevel controls log verbosity for the Mnemoxa server.
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

// Config is the root configuration structure for Mnemoxa.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Providers ProvidersConfig `yaml:"providers"`
	Memory    MemoryConfig    `yaml:"memory"`
	Agent     AgentConfig     `yaml:"agent"`
}

// ServerConfig holds network and logging settings for the Mnemoxa server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ReadTimeout and WriteTimeout bound a single HTTP exchange. Zero means
	// the server defaults apply.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownGrace is how long in-flight requests get on shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AuthConfig holds the bearer-token settings.
type AuthConfig struct {
	// Secret is the HMAC signing secret for issued tokens. Supports
	// ${ENV_VAR} expansion so the literal never has to live in the file.
	Secret string `yaml:"secret"`

	// Issuer is stamped into every token and enforced on verification.
	// Leave empty to skip the issuer check.
	Issuer string `yaml:"issuer"`

	// TokenTTL is the lifetime of issued tokens. Zero means 24h.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// ProvidersConfig declares which provider implementation to use for each
// remote-model concern. Each entry selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	// LLM is the primary completion provider.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary provider fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// Supports ${ENV_VAR} expansion.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// MemoryConfig holds settings for the three memory backends.
type MemoryConfig struct {
	// TemporalDSN is the PostgreSQL connection string for the session/graph
	// memory store.
	TemporalDSN string `yaml:"temporal_dsn"`

	// FactualDSN is the PostgreSQL connection string for the pgvector
	// factual store. When empty the service falls back to the embedded
	// vector store.
	FactualDSN string `yaml:"factual_dsn"`

	// PersistDSN is the PostgreSQL connection string for users and raw
	// transcripts.
	PersistDSN string `yaml:"persist_dsn"`

	// EmbeddingDimensions is the vector dimension used for the embeddings column.
	// Must match the model configured in Providers.Embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// ShortTermPath is the SQLite file backing the agent's scratch store.
	// ":memory:" keeps it process-local.
	ShortTermPath string `yaml:"short_term_path"`

	// WaitForMemory makes chat turns block until memory writes complete.
	// Off by default; mainly for tests and debugging.
	WaitForMemory bool `yaml:"wait_for_memory"`
}

// AgentConfig shapes the conversational agent's behaviour.
type AgentConfig struct {
	// SystemPrompt is prepended to every LLM request, before the memory
	// context. Empty selects the built-in default.
	SystemPrompt string `yaml:"system_prompt"`

	// Temperature is the sampling temperature in [0, 2]. Zero means the
	// built-in default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the completion length. Zero means the built-in default.
	MaxTokens int `yaml:"max_tokens"`

	// HistoryLimit is how many prior turns of the session are replayed to
	// the LLM. Zero means the built-in default.
	HistoryLimit int `yaml:"history_limit"`

	// SessionTTL is how long an idle session's state is retained.
	SessionTTL time.Duration `yaml:"session_ttl"`
}
