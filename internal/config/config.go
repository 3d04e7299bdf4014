// Package config loads altwatch settings.
//
// Sources are layered, later ones winning:
//
//	defaults < altwatch.toml / altwatch.yaml < .env.local / .env < process environment
//
// Keys are the environment variable names in lower case, so WATCH_ROOT in
// the environment and watch_root in a config file set the same value.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/wpm/altwatch/internal/describe"
)

const (
	// DefaultPollIntervalMS is used when the configured interval is
	// missing, not a number, or below MinPollIntervalMS.
	DefaultPollIntervalMS = 1000

	// MinPollIntervalMS is the shortest accepted poll interval.
	MinPollIntervalMS = 250

	// FileName is the config file base name searched for.
	FileName = "altwatch"
)

// dotenvFiles are read in order; a key set by an earlier file wins.
var dotenvFiles = []string{".env.local", ".env"}

// Config holds every altwatch setting.
type Config struct {
	WatchRoot             string   `toml:"watch_root" yaml:"watch_root"`
	LogFilename           string   `toml:"log_filename" yaml:"log_filename"`
	PollIntervalMS        int      `toml:"poll_interval_ms" yaml:"poll_interval_ms"`
	ProjectKeywords       []string `toml:"project_keywords" yaml:"project_keywords"`
	HumanNotes            string   `toml:"human_notes" yaml:"human_notes"`
	ProcessorMode         string   `toml:"processor_mode" yaml:"processor_mode"`
	ManualPromptDir       string   `toml:"manual_prompt_dir" yaml:"manual_prompt_dir"`
	AnthropicAPIKey       string   `toml:"anthropic_api_key,omitempty" yaml:"anthropic_api_key,omitempty"`
	AnthropicModel        string   `toml:"anthropic_model" yaml:"anthropic_model"`
	ExportRoot            string   `toml:"export_root,omitempty" yaml:"export_root,omitempty"`
	ExportLedgerFilename  string   `toml:"export_ledger_filename" yaml:"export_ledger_filename"`
	OptimizedMaxDimension int      `toml:"optimized_max_dimension" yaml:"optimized_max_dimension"`
	StateDB               string   `toml:"state_db,omitempty" yaml:"state_db,omitempty"`
	LogFile               string   `toml:"log_file,omitempty" yaml:"log_file,omitempty"`
	DashboardAddr         string   `toml:"dashboard_addr,omitempty" yaml:"dashboard_addr,omitempty"`

	// ConfigFile is the file the settings were read from, if any.
	ConfigFile string `toml:"-" yaml:"-"`
}

// Options controls where Load looks.
type Options struct {
	// ConfigFile is an explicit config file. It must exist.
	ConfigFile string

	// Dir is where altwatch.{toml,yaml} and the dotenv files are looked
	// up. Defaults to the working directory. Relative paths resolve against
	// the directory of the config file that was read, or Dir without one.
	Dir string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("watch_root", "")
	v.SetDefault("log_filename", "alt-text-log.md")
	v.SetDefault("poll_interval_ms", DefaultPollIntervalMS)
	v.SetDefault("project_keywords", "")
	v.SetDefault("human_notes", "")
	v.SetDefault("processor_mode", string(describe.ModeAuto))
	v.SetDefault("manual_prompt_dir", "pending_prompts")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("anthropic_model", describe.DefaultModel)
	v.SetDefault("export_root", "")
	v.SetDefault("export_ledger_filename", "alt-text.md")
	v.SetDefault("optimized_max_dimension", 1600)
	v.SetDefault("state_db", "")
	v.SetDefault("log_file", "")
	v.SetDefault("dashboard_addr", "")
}

// Load reads the layered configuration.
func Load(opts Options) (*Config, error) {
	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(dir)
		if ucd, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(ucd, FileName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := mergeDotenv(v, dir); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	c := &Config{
		WatchRoot:             v.GetString("watch_root"),
		LogFilename:           strings.TrimSpace(v.GetString("log_filename")),
		PollIntervalMS:        parsePollInterval(v.Get("poll_interval_ms")),
		ProjectKeywords:       parseKeywords(v.Get("project_keywords")),
		HumanNotes:            v.GetString("human_notes"),
		ProcessorMode:         strings.ToLower(strings.TrimSpace(v.GetString("processor_mode"))),
		ManualPromptDir:       v.GetString("manual_prompt_dir"),
		AnthropicAPIKey:       strings.TrimSpace(v.GetString("anthropic_api_key")),
		AnthropicModel:        v.GetString("anthropic_model"),
		ExportRoot:            v.GetString("export_root"),
		ExportLedgerFilename:  strings.TrimSpace(v.GetString("export_ledger_filename")),
		OptimizedMaxDimension: v.GetInt("optimized_max_dimension"),
		StateDB:               v.GetString("state_db"),
		LogFile:               v.GetString("log_file"),
		DashboardAddr:         v.GetString("dashboard_addr"),
		ConfigFile:            v.ConfigFileUsed(),
	}

	base := dir
	if c.ConfigFile != "" {
		abs, err := filepath.Abs(c.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config file path: %w", err)
		}
		base = filepath.Dir(abs)
	}

	c.WatchRoot = resolve(base, c.WatchRoot)
	c.ManualPromptDir = resolve(base, c.ManualPromptDir)
	c.ExportRoot = resolve(base, c.ExportRoot)
	c.StateDB = resolve(base, c.StateDB)
	c.LogFile = resolve(base, c.LogFile)

	return c, nil
}

// mergeDotenv applies dotenv files below the process environment: a key is
// taken from a dotenv file only when the environment does not define it.
func mergeDotenv(v *viper.Viper, dir string) error {
	seen := make(map[string]bool)

	for _, name := range dotenvFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		dv := viper.New()
		dv.SetConfigFile(path)
		dv.SetConfigType("env")
		if err := dv.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}

		for _, key := range dv.AllKeys() {
			if seen[key] {
				continue
			}
			seen[key] = true
			if _, ok := os.LookupEnv(strings.ToUpper(key)); ok {
				continue
			}
			v.Set(key, dv.GetString(key))
		}
	}
	return nil
}

func resolve(dir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~"+string(filepath.Separator)) || path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Join(dir, path)
}

// parsePollInterval accepts a number or numeric string. Anything else, or
// a value below the minimum, yields the default.
func parsePollInterval(raw any) int {
	var n int
	switch val := raw.(type) {
	case int:
		n = val
	case int64:
		n = int(val)
	case float64:
		n = int(val)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return DefaultPollIntervalMS
		}
		n = parsed
	default:
		return DefaultPollIntervalMS
	}

	if n < MinPollIntervalMS {
		return DefaultPollIntervalMS
	}
	return n
}

// parseKeywords accepts a comma separated string or a list.
func parseKeywords(raw any) []string {
	var parts []string
	switch val := raw.(type) {
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []any:
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
	}

	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PollInterval returns the poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Mode returns the parsed processor mode.
func (c *Config) Mode() (describe.Mode, error) {
	return describe.ParseMode(c.ProcessorMode)
}

// Validate checks the settings the watcher cannot run without.
func (c *Config) Validate() error {
	if c.WatchRoot == "" {
		return fmt.Errorf("watch_root is not set (WATCH_ROOT)")
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	for key, name := range map[string]string{"log_filename": c.LogFilename, "export_ledger_filename": c.ExportLedgerFilename} {
		if name == "" || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("%s must be a plain file name, got %q", key, name)
		}
	}
	if c.ExportRoot != "" {
		if within(c.ExportRoot, c.WatchRoot) || within(c.WatchRoot, c.ExportRoot) {
			return fmt.Errorf("export_root %s and watch_root %s must not contain each other", c.ExportRoot, c.WatchRoot)
		}
	}
	if c.OptimizedMaxDimension <= 0 {
		return fmt.Errorf("optimized_max_dimension must be positive, got %d", c.OptimizedMaxDimension)
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Redacted returns a copy with the API key masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.ProjectKeywords = append([]string(nil), c.ProjectKeywords...)
	if out.AnthropicAPIKey != "" {
		out.AnthropicAPIKey = "********"
	}
	return &out
}

// Encode writes c in the given format: "toml" or "yaml".
func (c *Config) Encode(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "toml", "":
		if err := toml.NewEncoder(w).Encode(c); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
	default:
		return fmt.Errorf("unknown config format %q (want toml or yaml)", format)
	}
	return nil
}

// WriteFile writes c to path, choosing the format from the extension.
// An existing file is not overwritten unless force is set.
func (c *Config) WriteFile(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}

	format := strings.TrimPrefix(filepath.Ext(path), ".")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := c.Encode(f, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
