// Command agentruntimed runs the agent runtime server: the WebSocket
// RPC gateway, the turn orchestrator, and the SQLite event store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tronrun/agentruntime/internal/auth"
	"github.com/tronrun/agentruntime/internal/compaction"
	"github.com/tronrun/agentruntime/internal/composer"
	"github.com/tronrun/agentruntime/internal/config"
	"github.com/tronrun/agentruntime/internal/gateway"
	"github.com/tronrun/agentruntime/internal/guardrails"
	"github.com/tronrun/agentruntime/internal/hooks"
	"github.com/tronrun/agentruntime/internal/orchestrator"
	"github.com/tronrun/agentruntime/internal/pipeline"
	"github.com/tronrun/agentruntime/internal/providers"
	"github.com/tronrun/agentruntime/internal/providers/gemini"
	"github.com/tronrun/agentruntime/internal/store/sqlite"
	"github.com/tronrun/agentruntime/internal/tools"
)

const corePrompt = `You are a coding agent. You work inside the user's project directory, use the provided tools to read, run, and search, and keep your answers grounded in what the tools actually returned.`

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

func main() {
	root := &cobra.Command{
		Use:   "agentruntimed",
		Short: "Conversational coding agent runtime",
	}
	root.AddCommand(serveCmd(), migrateCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var listenAddr string
	var dbPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.EnvOverride()
			if listenAddr != "" {
				cfg.Gateway.ListenAddr = listenAddr
			}
			if dbPath != "" {
				cfg.Database.Path = dbPath
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	return cmd
}

func migrateCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.EnvOverride()
			if dbPath != "" {
				cfg.Database.Path = dbPath
			}
			st, err := sqlite.Open(sqlite.Config{Path: cfg.Database.Path, Dimension: cfg.Database.VectorDim})
			if err != nil {
				return err
			}
			defer st.Close()
			slog.Info("migrations applied", "path", cfg.Database.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	return cmd
}

func serve(cfg *config.Config) error {
	snapshot := cfg.Snapshot()

	st, err := sqlite.Open(sqlite.Config{Path: snapshot.Database.Path, Dimension: snapshot.Database.VectorDim})
	if err != nil {
		return err
	}
	defer st.Close()

	authStore, err := auth.Open(auth.DefaultPath())
	if err != nil {
		return err
	}
	// One connection pool for every adapter.
	httpClient := &http.Client{Timeout: snapshot.Providers.HTTPTimeout}

	router := providers.NewModelRouter()
	anthropicCreds := auth.NewCredentialManager(authStore, "anthropic", "", "ANTHROPIC_API_KEY", nil)
	router.Register("anthropic", providers.NewReliableProvider(providers.NewAnthropicProvider(anthropicCreds,
		providers.WithAnthropicHTTPClient(httpClient),
		providers.WithAnthropicSSEIdleTimeout(snapshot.Providers.SSEIdleTimeout))))
	openaiCreds := auth.NewCredentialManager(authStore, "openai", "", "OPENAI_API_KEY", nil)
	router.Register("openai", providers.NewReliableProvider(providers.NewOpenAIProvider(openaiCreds,
		providers.WithOpenAIHTTPClient(httpClient),
		providers.WithOpenAISSEIdleTimeout(snapshot.Providers.SSEIdleTimeout))))
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		g, err := gemini.New(context.Background(), key)
		if err != nil {
			slog.Warn("gemini provider unavailable", "error", err)
		} else {
			router.Register("gemini", providers.NewReliableProvider(g))
		}
	}
	var provider providers.Provider = router

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	projectRoot, err := os.Getwd()
	if err != nil {
		projectRoot = "."
	}
	comp := composer.New(corePrompt, home, projectRoot)
	if err := comp.Rules().Watch(); err != nil {
		slog.Warn("dynamic rule watcher unavailable", "error", err)
	}
	defer comp.Rules().Close()

	bus := orchestrator.NewBus(256)
	orch := orchestrator.New(st, bus, snapshot.Gateway.MaxConcurrentRuns)

	registry := tools.NewRegistry()
	registry.Register(tools.NewReadTool())
	registry.Register(tools.NewBashTool().WithTimeouts(snapshot.Tools.BashDefaultTimeout, snapshot.Tools.BashMaxTimeout))
	registry.Register(tools.NewWebSearchTool(snapshot.Tools.WebSearchAPIKey))
	registry.Register(tools.NewAskUserQuestionTool())
	registry.Register(tools.NewRememberTool(st, nil))
	if len(snapshot.Tools.EnabledTools) > 0 {
		registry = registry.CloneFiltered(tools.Filter{Kind: tools.Explicit, Names: snapshot.Tools.EnabledTools})
	}

	guards := guardrails.NewEngine(guardrails.Config{
		StandardEnabled: snapshot.Guardrails.StandardEnabled,
		DisabledRuleIDs: snapshot.Guardrails.DisabledRuleIDs,
	})

	hookExec := hooks.NewExecutor(hooks.ExecutorConfig{
		BlockingTimeout:       snapshot.Hooks.BlockingTimeout,
		BackgroundConcurrency: int64(snapshot.Hooks.BackgroundConcurrency),
		CircuitThreshold:      snapshot.Hooks.CircuitThreshold,
		CircuitCooldown:       snapshot.Hooks.CircuitCooldown,
	})
	hooks.RegisterDiscovered(hookExec, hooks.DiscoveryConfig{
		ProjectRoot: projectRoot,
		Home:        home,
		ExtraDirs:   snapshot.Hooks.ExtraDirs,
	})

	baseOpts := pipeline.Options{
		Store:     st,
		Provider:  provider,
		Composer:  comp,
		Registry:  registry,
		Guards:    guards,
		Hooks:     hookExec,
		Orch:      orch,
		Trigger:   compaction.NewTrigger(compaction.DefaultTriggerConfig()),
		Compactor: compaction.NewCompactor(st, provider),
	}
	pipe := pipeline.New(baseOpts)

	// Subagents run a dedicated pipeline over a filtered registry
	// clone; their cancel context descends from the spawning run's.
	runner := func(ctx context.Context, childSessionID, prompt string, reg *tools.Registry) (string, error) {
		childOpts := baseOpts
		childOpts.Registry = reg
		childOpts.SubagentDepth = baseOpts.SubagentDepth + 1
		child := pipeline.New(childOpts)
		if err := child.Run(ctx, childSessionID, "run_"+uuid.NewString(), prompt); err != nil {
			return "", err
		}
		state, err := orch.State(ctx, childSessionID)
		if err != nil {
			return "", err
		}
		return state.FinalAssistantText(), nil
	}
	manager := tools.NewSubagentManager(st, runner, registry, tools.DefaultMaxSubagentDepth)
	if len(snapshot.Tools.EnabledTools) == 0 || containsName(snapshot.Tools.EnabledTools, "Task") {
		registry.Register(tools.NewTaskTool(manager))
	}

	server := gateway.NewServer(snapshot.Gateway, st, orch, pipe)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return err
		}
		hookExec.Drain(5 * time.Second)
		return nil
	}
}
