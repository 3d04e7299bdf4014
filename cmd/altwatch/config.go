package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Print the effective configuration",
	Long: `Print the configuration after every source has been applied. The API
key is masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.ConfigFile != "" {
			fmt.Fprintf(os.Stderr, "# read from %s\n", cfg.ConfigFile)
		}
		return cfg.Redacted().Encode(os.Stdout, configFormat)
	},
}

func init() {
	configCmd.Flags().StringVarP(&configFormat, "format", "f", "toml", "Output format: toml or yaml")
	rootCmd.AddCommand(configCmd)
}
