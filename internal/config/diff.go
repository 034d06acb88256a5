package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AgentChanged bool
	NewAgent     AgentConfig

	// RestartRequired is set when a field outside the hot-reloadable set
	// changed: listen address, auth, providers, or memory backends.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
// Only changes flagged hot-reloadable are applied without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Agent != new.Agent {
		d.AgentChanged = true
		d.NewAgent = new.Agent
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Auth != new.Auth ||
		old.Memory != new.Memory ||
		!providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = true
	}

	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	if !entryEqual(a.LLM, b.LLM) || !entryEqual(a.Embeddings, b.Embeddings) {
		return false
	}
	if len(a.LLMFallbacks) != len(b.LLMFallbacks) {
		return false
	}
	for i := range a.LLMFallbacks {
		if !entryEqual(a.LLMFallbacks[i], b.LLMFallbacks[i]) {
			return false
		}
	}
	return true
}

// entryEqual ignores the free-form Options map: option-only edits are rare
// and a restart prompt for them would be more confusing than helpful.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
