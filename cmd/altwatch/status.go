package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/wpm/altwatch/internal/describe"
	"github.com/wpm/altwatch/internal/state"
)

var (
	statusSince string
	statusJSON  bool

	headingStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "state",
	Short:   "Show what has been processed",
	Long: `Show processed image counts from STATE_DB and the number of manual
prompts still waiting in MANUAL_PROMPT_DIR.

--since lists images processed after a point in time. It accepts a Go
duration ("36h") or a natural phrase ("yesterday", "last monday",
"3 days ago").`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		total, err := store.Count(ctx)
		if err != nil {
			return err
		}
		byStatus, err := store.CountByStatus(ctx)
		if err != nil {
			return err
		}
		payloads, err := describe.ListPayloadFiles(cfg.ManualPromptDir)
		if err != nil {
			return err
		}

		var recent []state.Entry
		if statusSince != "" {
			since, err := parseSince(statusSince, time.Now())
			if err != nil {
				return err
			}
			if recent, err = store.ListSince(ctx, since); err != nil {
				return err
			}
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"processed": total,
				"by_status": byStatus,
				"pending":   len(payloads),
				"recent":    recent,
			})
		}

		fmt.Println(headingStyle.Render("Processed images"))
		fmt.Printf("  Total: %d\n", total)
		statuses := make([]string, 0, len(byStatus))
		for s := range byStatus {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Printf("  %-7s %d\n", s+":", byStatus[s])
		}
		fmt.Printf("  Pending manual prompts: %d\n", len(payloads))

		if statusSince != "" {
			fmt.Println()
			fmt.Println(headingStyle.Render(fmt.Sprintf("Since %s", statusSince)))
			if len(recent) == 0 {
				fmt.Println(mutedStyle.Render("  nothing"))
			}
			for _, e := range recent {
				fmt.Printf("  %s  %-6s %s\n", e.ProcessedAt.Format("2006-01-02 15:04:05"), e.Status, relToRoot(e.Path))
				if e.AltText != "" {
					fmt.Println(mutedStyle.Render("    " + e.AltText))
				}
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusSince, "since", "", "List images processed since this time")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}

// parseSince turns a duration or a natural language phrase into a time
// relative to now.
func parseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if d, err := time.ParseDuration(text); err == nil {
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q", text)
	}
	return r.Time, nil
}

func relToRoot(path string) string {
	if cfg == nil || cfg.WatchRoot == "" {
		return path
	}
	rel, err := filepath.Rel(cfg.WatchRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
