// Command altwatch watches a folder of images and keeps a Markdown ledger
// of alt text for every image it sees.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wpm/altwatch/internal/config"
)

var (
	configFile string
	cfg        *config.Config

	// logSink receives every component logger. LOG_FILE adds a rotating file.
	logSink io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "altwatch",
	Short: "Generate alt text for images dropped into a watched folder",
	Long: `altwatch watches a directory tree for new or changed images, asks a
vision model for alt text (or writes a prompt for manual processing), and
records the result in a Markdown table next to each image.

Settings come from altwatch.toml or altwatch.yaml, .env.local and .env,
and the process environment, in increasing order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.Options{ConfigFile: configFile})
		if err != nil {
			return err
		}
		cfg = loaded

		if cfg.LogFile != "" {
			logSink = io.MultiWriter(os.Stderr, &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			})
		}
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "watch", Title: "Watching:"},
		&cobra.Group{ID: "state", Title: "State:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: altwatch.toml or altwatch.yaml)")
}

// newLogger returns a logger for one component, e.g. "[daemon] ".
func newLogger(component string) *log.Logger {
	return log.New(logSink, "["+component+"] ", log.LstdFlags)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
