package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearthd/hearthd/internal/agent"
	"github.com/hearthd/hearthd/internal/agent/providers"
	"github.com/hearthd/hearthd/internal/audit"
	"github.com/hearthd/hearthd/internal/config"
	"github.com/hearthd/hearthd/internal/gateway"
	"github.com/hearthd/hearthd/internal/memory"
	"github.com/hearthd/hearthd/internal/scheduler"
	"github.com/hearthd/hearthd/internal/security"
	"github.com/hearthd/hearthd/internal/sessions"
	"github.com/hearthd/hearthd/internal/tools/browser"
	schedtool "github.com/hearthd/hearthd/internal/tools/schedule"
	"github.com/hearthd/hearthd/internal/tools/shell"
	"github.com/hearthd/hearthd/internal/workspace"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config.json (default: <data-dir>/config.json)")
	return cmd
}

func runServe(configPath string) error {
	token := os.Getenv(config.EnvToken)
	if token == "" {
		return fmt.Errorf("%s must be set", config.EnvToken)
	}

	dataDir, err := config.DefaultDataDir()
	if err != nil {
		return fmt.Errorf("resolve data directory: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if configPath == "" {
		configPath = filepath.Join(dataDir, "config.json")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	filter := security.NewFilter(cfg.SecretsFilterEnabled(),
		token,
		os.Getenv(config.EnvAnthropicKey),
		os.Getenv(config.EnvOpenAIKey),
	)

	auditLog, err := audit.NewLogger(filepath.Join(dataDir, "audit.jsonl"), cfg.AuditLogEnabled())
	if err != nil {
		return err
	}
	defer auditLog.Close()

	sessionStore, err := sessions.NewStore(filepath.Join(dataDir, "sessions"))
	if err != nil {
		return err
	}

	ws, err := workspace.New(cfg.WorkspaceDir(dataDir))
	if err != nil {
		return err
	}
	defer ws.Close()

	providerRegistry, err := providers.NewRegistryFromEnv()
	if err != nil {
		return err
	}
	if len(providerRegistry.Names()) == 0 {
		slog.Warn("no provider API keys in environment; chat will fail until one is set")
	}

	memoryPath := filepath.Join(dataDir, "memory.db")
	searcher, err := memory.NewSearcher(memoryPath, cfg.MemoryEnabled())
	if err != nil {
		return err
	}
	defer searcher.Close()

	jobStore, err := scheduler.NewStore(memoryPath)
	if err != nil {
		return err
	}
	defer jobStore.Close()

	tools := agent.NewRegistry()
	approvals := agent.NewApprovalManager()

	// The engine broadcasts through the dispatcher; the dispatcher needs the
	// engine for scheduler RPCs. The indirection breaks the cycle.
	var dispatcher *gateway.Dispatcher
	engine := scheduler.NewEngine(scheduler.Options{
		Store:     jobStore,
		Providers: providerRegistry,
		Sessions:  sessionStore,
		Tools:     tools,
		Audit:     auditLog,
		Filter:    filter,
		Workspace: ws,
		Broadcast: func(event string, data any) {
			if dispatcher != nil {
				dispatcher.Broadcast(event, data)
			}
		},
	})

	browserManager := browser.NewManager()
	tools.Register(shell.New(
		shell.WithTimeout(time.Duration(cfg.Tools.Timeout)*time.Millisecond),
		shell.WithMaxOutput(cfg.Tools.MaxOutputBytes),
	))
	tools.Register(browser.New(browserManager))
	tools.Register(schedtool.New(engine))

	dispatcher = gateway.NewDispatcher(gateway.DispatcherOptions{
		Token:        token,
		DefaultAgent: cfg.Agents.Default,
		Sessions:     sessionStore,
		Workspace:    ws,
		Providers:    providerRegistry,
		Tools:        tools,
		Approvals:    approvals,
		Scheduler:    engine,
		Memory:       searcher,
		Audit:        auditLog,
		Filter:       filter,
	})
	server := gateway.NewServer(cfg.Gateway.Host, cfg.Gateway.Port, dispatcher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	slog.Info("hearthd ready", "addr", server.Addr(), "dataDir", dataDir)

	<-ctx.Done()
	slog.Info("shutting down")

	engine.Stop()
	if err := browserManager.CloseAll(); err != nil {
		slog.Warn("browser shutdown", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("gateway shutdown", "error", err)
	}
	return nil
}
