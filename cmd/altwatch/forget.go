package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var forgetCmd = &cobra.Command{
	Use:     "forget <image>...",
	GroupID: "state",
	Short:   "Drop images from the processed index",
	Long: `Remove images from STATE_DB so the next watch run describes them again,
even if they have not been modified.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		for _, arg := range args {
			path, err := filepath.Abs(arg)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", arg, err)
			}
			if err := store.Forget(ctx, path); err != nil {
				return err
			}
			fmt.Printf("Forgot %s\n", path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(forgetCmd)
}
