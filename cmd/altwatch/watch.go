package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wpm/altwatch/internal/daemon"
	"github.com/wpm/altwatch/internal/dashboard"
	"github.com/wpm/altwatch/internal/describe"
	"github.com/wpm/altwatch/internal/ledger"
	"github.com/wpm/altwatch/internal/pipeline"
	"github.com/wpm/altwatch/internal/report"
	"github.com/wpm/altwatch/internal/state"
)

var watchCmd = &cobra.Command{
	Use:     "watch [dir]",
	GroupID: "watch",
	Short:   "Watch a directory tree and describe new or changed images",
	Long: `Watch WATCH_ROOT (or the given directory) for images and process each
new or modified one in arrival order.

Changes are picked up from filesystem events and from a periodic full scan
every POLL_INTERVAL_MS milliseconds. Each image is described once per
modification time. Results are merged into LOG_FILENAME next to the image,
or into EXPORT_LEDGER_FILENAME under EXPORT_ROOT when export mode is on.

Processor modes:
  auto    use the API when ANTHROPIC_API_KEY is set, manual otherwise
  api     always call the API
  manual  write prompt files to MANUAL_PROMPT_DIR

Set DASHBOARD_ADDR to serve a live WebSocket feed of the queue.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", args[0], err)
		}
		cfg.WatchRoot = abs
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mode, _ := cfg.Mode()
	describer, resolved, err := describe.New(describe.Options{
		Mode:      mode,
		APIKey:    cfg.AnthropicAPIKey,
		Model:     cfg.AnthropicModel,
		WatchRoot: cfg.WatchRoot,
		PromptDir: cfg.ManualPromptDir,
		Logger:    newLogger("describe"),
	})
	if errors.Is(err, describe.ErrMissingAPIKey) {
		return fmt.Errorf("processor_mode is api but ANTHROPIC_API_KEY is not set")
	}
	if err != nil {
		return err
	}

	processor, err := pipeline.NewProcessor(pipeline.Config{
		WatchRoot:             cfg.WatchRoot,
		LedgerFilename:        cfg.LogFilename,
		ExportRoot:            cfg.ExportRoot,
		ExportLedgerFilename:  cfg.ExportLedgerFilename,
		OptimizedMaxDimension: cfg.OptimizedMaxDimension,
		ProjectKeywords:       cfg.ProjectKeywords,
		HumanNotes:            cfg.HumanNotes,
		Logger:                newLogger("pipeline"),
	}, describer)
	if err != nil {
		return err
	}

	engineConfig := &daemon.Config{
		PollInterval: cfg.PollInterval(),
		SettleDelay:  daemon.DefaultSettleDelay,
		Ledger:       ledger.NewMerger(newLogger("ledger")),
		Reporter:     report.New(os.Stdout),
		Logger:       newLogger("daemon"),
	}
	if cfg.ExportRoot != "" {
		engineConfig.Exclude = append(engineConfig.Exclude, cfg.ExportRoot)
	}

	if cfg.StateDB != "" {
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		engineConfig.Index = store
	}

	var engine *daemon.Engine
	var server *dashboard.Server
	if cfg.DashboardAddr != "" {
		server = dashboard.NewServer(&dashboard.Config{
			Addr:   cfg.DashboardAddr,
			Logger: newLogger("dashboard"),
		})
		handler := dashboard.NewHandler(server, func() daemon.Stats { return engine.Stats() }, newLogger("dashboard"))
		engineConfig.Observers = append(engineConfig.Observers, handler)
	}

	engine, err = daemon.NewWithConfig(cfg.WatchRoot, processor, engineConfig)
	if err != nil {
		return err
	}

	fmt.Printf("Watching %s\n", engine.Root())
	fmt.Printf("   Processor mode: %s\n", resolved)
	if resolved == describe.ModeManual {
		fmt.Printf("   Manual prompts: %s\n", cfg.ManualPromptDir)
	}
	if cfg.ExportRoot != "" {
		fmt.Printf("   Export root: %s\n", cfg.ExportRoot)
	}
	if cfg.StateDB != "" {
		fmt.Printf("   State: %s\n", cfg.StateDB)
	}

	g, gctx := errgroup.WithContext(ctx)

	if server != nil {
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		fmt.Printf("   Dashboard: ws://%s/ws\n", server.GetAddr())

		g.Go(func() error {
			<-gctx.Done()
			return server.Stop()
		})
	}
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	g.Go(func() error {
		return engine.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Println("Stopped")
	return nil
}

// openStore opens STATE_DB and makes sure its schema exists.
func openStore(ctx context.Context) (*state.Store, error) {
	if cfg.StateDB == "" {
		return nil, fmt.Errorf("state_db is not set (STATE_DB)")
	}

	store, err := state.Open(cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}
	return store, nil
}
