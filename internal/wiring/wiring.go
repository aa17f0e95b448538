// Package wiring assembles the full set of devpipe services from a loaded
// config.Config and a database.Client, mirroring the construction style of
// the teacher's cmd/tarsy/main.go (flat sequence of NewXService calls) but
// centralized so every CLI subcommand shares one wiring path instead of
// duplicating it.
package wiring

import (
	"context"
	"fmt"
	"os"

	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/pkg/aggregator"
	"github.com/oakforge/devpipe/pkg/agentic"
	"github.com/oakforge/devpipe/pkg/config"
	"github.com/oakforge/devpipe/pkg/database"
	"github.com/oakforge/devpipe/pkg/foreman"
	execpkg "github.com/oakforge/devpipe/pkg/foreman/exec"
	"github.com/oakforge/devpipe/pkg/hooks"
	"github.com/oakforge/devpipe/pkg/integrations/codehost"
	"github.com/oakforge/devpipe/pkg/integrations/issuetracker"
	"github.com/oakforge/devpipe/pkg/integrations/llm"
	"github.com/oakforge/devpipe/pkg/memory/archival"
	"github.com/oakforge/devpipe/pkg/memory/session"
	"github.com/oakforge/devpipe/pkg/memory/static"
	"github.com/oakforge/devpipe/pkg/orchestrator"
	"github.com/oakforge/devpipe/pkg/validator"
)

// App holds every long-lived service a CLI command might need. Not every
// command uses every field; commands that only read state (status, memory)
// leave Foreman/CodeHost/etc. unused rather than standing up a second,
// narrower wiring path.
type App struct {
	Config   *config.Config
	DB       *database.Client
	Client   *ent.Client
	LLM      *llm.Client
	Static   *static.Service
	Session  *session.Service
	Archival *archival.Service
	Bus      *hooks.Bus

	Orchestrator *orchestrator.Orchestrator
	Pool         *orchestrator.Pool
}

// Build wires every service from cfg, dialing the database and the LLM
// sidecar. llmAddr is the model-provider sidecar address (see
// LLMSidecarAddr); codeHostToken/issueTrackerToken are the resolved
// secrets named by cfg.CodeHost.TokenEnv / cfg.IssueTracker.TokenEnv.
func Build(ctx context.Context, cfg *config.Config, llmAddr, codeHostToken, issueTrackerToken string) (*App, error) {
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("wiring: load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("wiring: connect to database: %w", err)
	}

	seedModel := resolveDefaultModel(cfg.SeedModels)
	llmClient, err := llm.NewClient(llmAddr, seedModel.Model, float32(seedModel.DefaultTemperature), int32(seedModel.DefaultMaxTokens))
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("wiring: connect to llm sidecar: %w", err)
	}

	staticSvc := static.NewService(dbClient.Client, cfg.SeedRepos)
	sessionSvc := session.NewService(dbClient.Client)

	archivalSvc, err := archival.NewService(dbClient.Client, llmClient, cfg.Retention)
	if err != nil {
		_ = llmClient.Close()
		_ = dbClient.Close()
		return nil, fmt.Errorf("wiring: construct archival service: %w", err)
	}

	bus := hooks.New()
	hooks.NewObserver(dbClient.Client).Register(bus)

	executor := execpkg.NewExecutor(false)
	foremanSvc := foreman.New(
		executor,
		foreman.NewGitCloner(executor),
		foreman.NewGitApplier(executor),
		foremanTimeouts(cfg.Foreman),
		os.TempDir(),
	)

	// Checkers are intentionally nil: Validator reports type-check/lint/
	// unit_test/build as skipped pre-sandbox and Foreman's own
	// clone/install/type-check/test pipeline is the pipeline's actual
	// compile-and-run gate (see DESIGN.md's pkg/validator entry).
	validatorRunner := validator.NewRunner(nil, nil, nil, nil)

	replanAdapter := orchestrator.ReplanAdapter{Planner: llmClient}
	loop := agentic.New(llmClient, replanAdapter, llmClient, validatorRunner, sessionSvc, bus)

	var codeHost orchestrator.CodeHost
	if codeHostToken != "" {
		backend, err := codehost.NewBackend(cfg.CodeHost, codeHostToken)
		if err != nil {
			_ = llmClient.Close()
			_ = dbClient.Close()
			return nil, fmt.Errorf("wiring: construct code host backend: %w", err)
		}
		codeHost = backend
	}

	var issueTracker orchestrator.IssueTracker
	if issueTrackerToken != "" {
		issueTracker = issuetracker.NewClient(cfg.IssueTracker, issueTrackerToken)
	}

	aggregatorSvc := aggregator.New()

	orch := orchestrator.New(
		dbClient.Client,
		sessionSvc,
		staticSvc,
		validatorRunner,
		foremanSvc,
		loop,
		llmClient,
		llmClient,
		codeHost,
		issueTracker,
		nil, // ChildRunner set below, after Orchestrator exists
		llmClient,
		aggregatorSvc,
		bus,
		orchestrator.DefaultConfig(),
	)
	orch.SetChildRunner(&orchestrator.SelfChildRunner{Orchestrator: orch, Client: dbClient.Client})

	pool := orchestrator.NewPool(orch, orchestrator.EntTaskLister{Client: dbClient.Client}, cfg.Queue)

	return &App{
		Config:       cfg,
		DB:           dbClient,
		Client:       dbClient.Client,
		LLM:          llmClient,
		Static:       staticSvc,
		Session:      sessionSvc,
		Archival:     archivalSvc,
		Bus:          bus,
		Orchestrator: orch,
		Pool:         pool,
	}, nil
}

// Close releases every external connection App holds.
func (a *App) Close() error {
	if a.LLM != nil {
		_ = a.LLM.Close()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

func resolveDefaultModel(seeds map[string]config.ModelSeed) config.ModelSeed {
	if seed, ok := seeds["default"]; ok {
		return seed
	}
	for _, seed := range seeds {
		return seed
	}
	return config.ModelSeed{Model: "default", DefaultTemperature: 0.2, DefaultMaxTokens: 4096}
}

func foremanTimeouts(cfg *config.ForemanConfig) foreman.PhaseTimeouts {
	if cfg == nil {
		return foreman.DefaultPhaseTimeouts()
	}
	return foreman.PhaseTimeouts{
		Clone:     cfg.CloneTimeout,
		Apply:     cfg.CloneTimeout,
		Install:   cfg.InstallTimeout,
		TypeCheck: cfg.TypeCheckTimeout,
		Test:      cfg.TestTimeout,
	}
}

// LLMSidecarAddr resolves the model-provider sidecar address, defaulting
// to localhost like the rest of this package's env-resolved connection
// settings (database, webhook secret).
func LLMSidecarAddr() string {
	if addr := os.Getenv("LLM_SIDECAR_ADDR"); addr != "" {
		return addr
	}
	return "localhost:50051"
}

// ResolveToken reads the env var named by envVar, returning "" if unset —
// callers treat an empty token as "integration disabled" rather than an
// error, since devpipe execute --dry-run needs neither code host nor
// issue tracker.
func ResolveToken(envVar string) string {
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}
