// Command mnemoxa is the main entry point for the Mnemoxa memory server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/mnemoxa/internal/app"
	"github.com/MrWong99/mnemoxa/internal/config"
	"github.com/MrWong99/mnemoxa/internal/observe"
	"github.com/MrWong99/mnemoxa/internal/resilience"
	"github.com/MrWong99/mnemoxa/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/mnemoxa/pkg/provider/embeddings/openai"
	"github.com/MrWong99/mnemoxa/pkg/provider/llm"
	"github.com/MrWong99/mnemoxa/pkg/provider/llm/anyllm"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mnemoxa: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mnemoxa: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// A LevelVar so config reloads can change the level without rebuilding
	// the handler.
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("mnemoxa starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "mnemoxa",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Log level and agent tuning apply live; anything else needs a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		d := config.Diff(old, updated)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.AgentChanged {
			application.Retune(d.NewAgent)
		}
		if d.RestartRequired {
			slog.Warn("configuration changes require a restart to take effect")
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if d, ok := entry.Options["dimensions"].(int); ok {
			opts = append(opts, oaembed.WithDimensions(d))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	// ollama serves an OpenAI-compatible /v1 embeddings endpoint.
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		return oaembed.New("ollama", entry.Model, oaembed.WithBaseURL(baseURL))
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// LLM fallbacks from the config are folded into a single provider that tries
// them in order.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		primary, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", name)

		if len(cfg.Providers.LLMFallbacks) == 0 {
			ps.LLM = primary
		} else {
			group := resilience.NewLLMFallback(primary, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.LLMFallbacks {
				fb, err := reg.CreateLLM(entry)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
				}
				group.AddFallback(entry.Name, fb)
				slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name)
			}
			ps.LLM = group
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		entry := cfg.Providers.Embeddings
		// The configured vector width applies to the provider too, so stored
		// and queried embeddings always match the column definition.
		if d := cfg.Memory.EmbeddingDimensions; d > 0 {
			merged := map[string]any{"dimensions": d}
			for k, v := range entry.Options {
				merged[k] = v
			}
			entry.Options = merged
		}
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Mnemoxa — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	fmt.Printf("║  LLM fallbacks   : %-19d ║\n", len(cfg.Providers.LLMFallbacks))
	printBackend("Temporal store", cfg.Memory.TemporalDSN)
	printBackend("Factual store", cfg.Memory.FactualDSN)
	printBackend("Transcripts", cfg.Memory.PersistDSN)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func printBackend(kind, dsn string) {
	value := "postgres"
	if dsn == "" {
		value = "(not configured)"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
