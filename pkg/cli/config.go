package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ermine-ai/ermine/pkg/adapter"
	"github.com/ermine-ai/ermine/pkg/hook"
	"github.com/ermine-ai/ermine/pkg/repository"
	"github.com/ermine-ai/ermine/pkg/service/adaptive"
	cronsvc "github.com/ermine-ai/ermine/pkg/service/cron"
	"github.com/ermine-ai/ermine/pkg/service/mcp"
	"github.com/ermine-ai/ermine/pkg/service/memory"
	"github.com/ermine-ai/ermine/pkg/service/scheduler"
	"github.com/ermine-ai/ermine/pkg/service/skill"
	"github.com/ermine-ai/ermine/pkg/tool"
	"github.com/ermine-ai/ermine/pkg/tool/cron"
	"github.com/ermine-ai/ermine/pkg/tool/file"
	"github.com/ermine-ai/ermine/pkg/tool/search"
	"github.com/ermine-ai/ermine/pkg/tool/shell"
	"github.com/ermine-ai/ermine/pkg/usecase/turn"
	"github.com/ermine-ai/ermine/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// config holds configuration values bound from flags and env vars
type config struct {
	dataDir   string
	workspace string
	logLevel  string

	geminiAPIKey    string
	generativeModel string
	embeddingModel  string

	entropyThreshold float64
	adaptiveEnabled  bool
	reviewEnabled    bool

	decayLambda float64
	maxMemories int
	memoryTopK  int

	toolTimeoutSec int
	mcpConfig      string

	sessionWindow     int
	sessionKeepRecent int

	skillsDir string
}

func globalFlags(cfg *config) []cli.Flag {
	home, _ := os.UserHomeDir()

	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Directory for memory, tuner, cron, and session files",
			Value:       filepath.Join(home, ".ermine"),
			Sources:     cli.EnvVars("ERMINE_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.StringFlag{
			Name:        "workspace",
			Aliases:     []string{"w"},
			Usage:       "Directory the shell and file tools may touch",
			Value:       ".",
			Sources:     cli.EnvVars("ERMINE_WORKSPACE"),
			Destination: &cfg.workspace,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("ERMINE_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key; heuristic offline mode when unset",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "generative-model",
			Usage:       "Gemini model for chat and synthesis",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("ERMINE_GENERATIVE_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Gemini model for embeddings",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("ERMINE_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.FloatFlag{
			Name:        "entropy-threshold",
			Usage:       "Entropy threshold in bits above which the agent asks for clarification",
			Value:       1.1,
			Sources:     cli.EnvVars("ERMINE_ENTROPY_THRESHOLD"),
			Destination: &cfg.entropyThreshold,
		},
		&cli.BoolFlag{
			Name:        "adaptive",
			Usage:       "Adapt the entropy threshold from tool outcomes",
			Value:       true,
			Sources:     cli.EnvVars("ERMINE_ADAPTIVE"),
			Destination: &cfg.adaptiveEnabled,
		},
		&cli.BoolFlag{
			Name:        "review",
			Usage:       "Append a second-opinion review to confident tool replies",
			Value:       true,
			Sources:     cli.EnvVars("ERMINE_REVIEW"),
			Destination: &cfg.reviewEnabled,
		},
		&cli.FloatFlag{
			Name:        "decay-lambda",
			Usage:       "Memory recency decay rate per day",
			Value:       0.05,
			Sources:     cli.EnvVars("ERMINE_DECAY_LAMBDA"),
			Destination: &cfg.decayLambda,
		},
		&cli.IntFlag{
			Name:        "max-memories",
			Usage:       "Maximum stored memories before eviction",
			Value:       512,
			Sources:     cli.EnvVars("ERMINE_MAX_MEMORIES"),
			Destination: &cfg.maxMemories,
		},
		&cli.IntFlag{
			Name:        "memory-top-k",
			Usage:       "Memories recalled per turn",
			Value:       4,
			Sources:     cli.EnvVars("ERMINE_MEMORY_TOP_K"),
			Destination: &cfg.memoryTopK,
		},
		&cli.IntFlag{
			Name:        "tool-timeout",
			Usage:       "Tool execution timeout in seconds",
			Value:       30,
			Sources:     cli.EnvVars("ERMINE_TOOL_TIMEOUT"),
			Destination: &cfg.toolTimeoutSec,
		},
		&cli.StringFlag{
			Name:        "mcp-config",
			Usage:       "Path to YAML file describing MCP servers",
			Sources:     cli.EnvVars("ERMINE_MCP_CONFIG"),
			Destination: &cfg.mcpConfig,
		},
		&cli.IntFlag{
			Name:        "session-window",
			Usage:       "Messages kept before consolidation starts",
			Value:       24,
			Sources:     cli.EnvVars("ERMINE_SESSION_WINDOW"),
			Destination: &cfg.sessionWindow,
		},
		&cli.IntFlag{
			Name:        "session-keep-recent",
			Usage:       "Recent messages excluded from consolidation",
			Value:       8,
			Sources:     cli.EnvVars("ERMINE_SESSION_KEEP_RECENT"),
			Destination: &cfg.sessionKeepRecent,
		},
		&cli.StringFlag{
			Name:        "skills-dir",
			Usage:       "Directory of SKILL.md files",
			Sources:     cli.EnvVars("ERMINE_SKILLS_DIR"),
			Destination: &cfg.skillsDir,
		},
	}
}

func (cfg *config) newLogger() *slog.Logger {
	return logging.New(cfg.logLevel, os.Stderr)
}

func (cfg *config) ensureDataDir() error {
	if err := os.MkdirAll(cfg.dataDir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create data directory", goerr.V("path", cfg.dataDir))
	}
	return nil
}

// newProvider returns the Gemini provider, or the offline heuristic
// provider when no API key is configured.
func (cfg *config) newProvider(ctx context.Context) (adapter.Provider, error) {
	if cfg.geminiAPIKey == "" {
		logging.From(ctx).Info("no Gemini API key, running in offline heuristic mode")
		return adapter.NewHeuristic(), nil
	}

	provider, err := adapter.NewGemini(ctx, cfg.geminiAPIKey,
		adapter.WithGenerativeModel(cfg.generativeModel),
		adapter.WithEmbeddingModel(cfg.embeddingModel))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Gemini provider")
	}
	return provider, nil
}

func (cfg *config) newMemory() (*memory.Store, error) {
	store, err := memory.New(memory.Config{
		DecayLambda: cfg.decayLambda,
		MaxMemories: cfg.maxMemories,
		Path:        filepath.Join(cfg.dataDir, "memory.json"),
	})
	if err != nil {
		return nil, err
	}
	if _, err := store.Load(); err != nil {
		return nil, goerr.Wrap(err, "failed to load memory archive")
	}
	return store, nil
}

func (cfg *config) newTuner(ctx context.Context) *adaptive.Tuner {
	return adaptive.New(ctx, adaptive.Config{
		Path:             filepath.Join(cfg.dataDir, "adaptive.json"),
		InitialThreshold: cfg.entropyThreshold,
	})
}

func (cfg *config) newCronStore() (*cronsvc.Store, error) {
	return cronsvc.NewStore(filepath.Join(cfg.dataDir, "cron.json"))
}

func (cfg *config) newRepository() (repository.SessionRepository, error) {
	return repository.NewSQLite(filepath.Join(cfg.dataDir, "sessions.db"))
}

// newRegistry assembles built-in tools plus any tools discovered from
// configured MCP servers.
func (cfg *config) newRegistry(ctx context.Context, cronStore *cronsvc.Store) (*tool.Registry, *mcp.Registry, error) {
	registry := tool.NewRegistry(
		shell.New(),
		file.New(),
		search.New(),
		cron.New(cronStore),
	)

	mcpConfig, err := mcp.LoadConfig(cfg.mcpConfig)
	if err != nil {
		return nil, nil, err
	}
	mcpRegistry := mcp.ConnectAll(ctx, mcpConfig)
	for _, t := range mcpRegistry.Tools() {
		registry.Register(t)
	}

	return registry, mcpRegistry, nil
}

// newRunner wires the full turn pipeline.
func (cfg *config) newRunner(ctx context.Context) (*turn.Runner, func(), error) {
	if err := cfg.ensureDataDir(); err != nil {
		return nil, nil, err
	}

	provider, err := cfg.newProvider(ctx)
	if err != nil {
		return nil, nil, err
	}

	store, err := cfg.newMemory()
	if err != nil {
		return nil, nil, err
	}

	sched, err := scheduler.New(cfg.entropyThreshold)
	if err != nil {
		return nil, nil, err
	}

	cronStore, err := cfg.newCronStore()
	if err != nil {
		return nil, nil, err
	}

	registry, mcpRegistry, err := cfg.newRegistry(ctx, cronStore)
	if err != nil {
		return nil, nil, err
	}

	repo, err := cfg.newRepository()
	if err != nil {
		return nil, nil, err
	}

	var skills *skill.Library
	if cfg.skillsDir != "" {
		skills = skill.NewLibrary(cfg.skillsDir)
	}

	runner, err := turn.New(turn.NewInput{
		Config: turn.Config{
			Workspace:            cfg.workspace,
			MemoryTopK:           cfg.memoryTopK,
			ToolTimeout:          time.Duration(cfg.toolTimeoutSec) * time.Second,
			EntropyThresholdBits: cfg.entropyThreshold,
			AdaptiveEnabled:      cfg.adaptiveEnabled,
			SessionWindow:        cfg.sessionWindow,
			SessionKeepRecent:    cfg.sessionKeepRecent,
			ConsolidationEnabled: true,
			ReviewEnabled:        cfg.reviewEnabled,
		},
		Provider:  provider,
		Scheduler: sched,
		Memory:    store,
		Tools:     registry,
		Tuner:     cfg.newTuner(ctx),
		Repo:      repo,
		Skills:    skills,
		Sink:      hook.LogSink{},
	})
	if err != nil {
		repo.Close()
		mcpRegistry.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := repo.Close(); err != nil {
			logging.From(ctx).Warn("failed to close session repository", "error", err)
		}
		if err := mcpRegistry.Close(); err != nil {
			logging.From(ctx).Warn("failed to close MCP registry", "error", err)
		}
	}
	return runner, cleanup, nil
}
