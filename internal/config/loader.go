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
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path, expands ${ENV_VAR}
// references, and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg, err := decode(os.Expand(string(data), expandVar))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
// No environment expansion is applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return decode(string(data))
}

func decode(data string) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandVar resolves a ${VAR} reference to its environment value. Unset
// variables expand to the empty string, matching shell behaviour.
func expandVar(name string) string {
	return os.Getenv(name)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must not be negative"))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
		}
	}

	// Auth
	if cfg.Auth.Secret == "" {
		errs = append(errs, fmt.Errorf("auth.secret is required"))
	}
	if cfg.Auth.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl must not be negative"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; chat turns will always fall back to the apology reply")
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
	}

	// Embeddings ↔ memory dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}

	// Memory availability
	if cfg.Memory.TemporalDSN == "" {
		slog.Warn("memory.temporal_dsn is empty; session memory will not be available")
	}
	if cfg.Memory.FactualDSN == "" {
		slog.Warn("memory.factual_dsn is empty; factual memory falls back to the embedded vector store")
	}
	if cfg.Memory.PersistDSN == "" {
		errs = append(errs, fmt.Errorf("memory.persist_dsn is required"))
	}
	if cfg.Memory.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions must not be negative"))
	}

	// Agent
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0, 2]", cfg.Agent.Temperature))
	}
	if cfg.Agent.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("agent.max_tokens must not be negative"))
	}
	if cfg.Agent.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("agent.history_limit must not be negative"))
	}
	if cfg.Agent.SessionTTL < 0 {
		errs = append(errs, fmt.Errorf("agent.session_ttl must not be negative"))
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
