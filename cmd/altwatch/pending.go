package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wpm/altwatch/internal/describe"
	"github.com/wpm/altwatch/internal/ledger"
	"github.com/wpm/altwatch/internal/pending"
	"github.com/wpm/altwatch/internal/report"
)

var pendingCmd = &cobra.Command{
	Use:     "pending",
	GroupID: "watch",
	Short:   "Send manual prompt payloads to the API",
	Long: `Process every *.payload.json file left in MANUAL_PROMPT_DIR by manual
mode, using the API.

Each completed payload replaces its "(pending manual response)" ledger row
and both hand-off files are removed. Payloads that fail are kept so the
command can be run again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required to process pending prompts")
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		drainer := pending.New(
			cfg.ManualPromptDir,
			describe.NewAPIDescriber(cfg.AnthropicAPIKey, cfg.AnthropicModel),
			ledger.NewMerger(newLogger("ledger")),
			report.New(os.Stdout),
			newLogger("pending"),
		)

		res, err := drainer.DrainAll(ctx)
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			return fmt.Errorf("%d of %d pending payloads failed", res.Failed, res.Found)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pendingCmd)
}
