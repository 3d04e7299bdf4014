package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/wpm/altwatch/internal/config"
	"github.com/wpm/altwatch/internal/describe"
)

var (
	initForce bool
	initYes   bool
	initPath  string
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Write an altwatch.toml in the current directory",
	Long: `Ask for the main settings and write them to altwatch.toml (or the file
given with --output; a .yaml extension writes YAML).

With --yes the current effective settings are written without asking.
The API key is never written; keep it in ANTHROPIC_API_KEY or .env.local.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := *cfg
		out.AnthropicAPIKey = ""
		out.ConfigFile = ""

		if !initYes {
			if err := askSettings(&out); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Fprintln(os.Stderr, "Aborted")
					return nil
				}
				return err
			}
		}

		if err := out.Validate(); err != nil {
			return err
		}
		if err := out.WriteFile(initPath, initForce); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", initPath)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "Write current settings without prompting")
	initCmd.Flags().StringVarP(&initPath, "output", "o", config.FileName+".toml", "File to write")
	rootCmd.AddCommand(initCmd)
}

func askSettings(c *config.Config) error {
	root := c.WatchRoot
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}
	mode := c.ProcessorMode
	if mode == "" {
		mode = string(describe.ModeAuto)
	}
	keywords := strings.Join(c.ProjectKeywords, ", ")
	notes := c.HumanNotes
	exportRoot := c.ExportRoot
	stateDB := c.StateDB
	useState := stateDB != ""

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Watch root").
				Description("Directory tree to watch for images").
				Value(&root).
				Validate(func(s string) error {
					info, err := os.Stat(strings.TrimSpace(s))
					if err != nil {
						return err
					}
					if !info.IsDir() {
						return fmt.Errorf("%s is not a directory", s)
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Processor mode").
				Options(
					huh.NewOption("auto: API when a key is set, otherwise manual", string(describe.ModeAuto)),
					huh.NewOption("api: always call the API", string(describe.ModeAPI)),
					huh.NewOption("manual: write prompt files", string(describe.ModeManual)),
				).
				Value(&mode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Project keywords").
				Description("Comma separated, passed to every description").
				Value(&keywords),
			huh.NewText().
				Title("Notes").
				Description("Context for every description (optional)").
				Value(&notes),
			huh.NewInput().
				Title("Export root").
				Description("Leave empty to write ledgers next to the images").
				Value(&exportRoot),
			huh.NewConfirm().
				Title("Remember processed images across restarts?").
				Value(&useState),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	c.WatchRoot = absOrEmpty(root)
	c.ProcessorMode = mode
	c.ProjectKeywords = nil
	for _, k := range strings.Split(keywords, ",") {
		if k = strings.TrimSpace(k); k != "" {
			c.ProjectKeywords = append(c.ProjectKeywords, k)
		}
	}
	c.HumanNotes = strings.TrimSpace(notes)
	c.ExportRoot = absOrEmpty(exportRoot)
	switch {
	case !useState:
		c.StateDB = ""
	case stateDB == "":
		c.StateDB = filepath.Join(c.WatchRoot, ".altwatch", "state.db")
	}
	return nil
}

func absOrEmpty(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
