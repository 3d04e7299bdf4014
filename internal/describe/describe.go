// Package describe produces alt text for an image payload, either by asking
// the Anthropic Messages API or by handing a prompt off for manual use.
package describe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
)

var (
	// ErrMissingAPIKey is returned when api mode is requested without a key.
	ErrMissingAPIKey = errors.New("processor mode is api but ANTHROPIC_API_KEY is missing")

	// ErrInvalidMode is returned for an unrecognised processor mode.
	ErrInvalidMode = errors.New("invalid processor mode")

	// ErrEmptyResponse is returned when the service replies without text.
	ErrEmptyResponse = errors.New("alt text service returned an empty response")
)

// Describer turns a payload into alt text.
type Describer interface {
	Describe(ctx context.Context, p *Payload) (*Result, error)
}

// Result is the structured reply for one image.
type Result struct {
	Image   string `json:"image,omitempty"`
	DocPath string `json:"doc_path,omitempty"`
	AltText string `json:"alt_text"`
	Summary string `json:"summary,omitempty"`
	Notes   string `json:"notes,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Mode selects how images are described.
type Mode string

const (
	// ModeAuto uses the API when a key is configured, manual otherwise.
	ModeAuto Mode = "auto"
	// ModeAPI always calls the API.
	ModeAPI Mode = "api"
	// ModeManual always writes prompt files.
	ModeManual Mode = "manual"
)

// ParseMode parses a processor mode name. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeAPI, ModeManual:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q (want auto, api or manual)", ErrInvalidMode, s)
	}
}

// Options configures the describer built by New.
type Options struct {
	Mode      Mode
	APIKey    string
	Model     string
	WatchRoot string
	PromptDir string
	Logger    *log.Logger
}

// New resolves the processor mode and builds the matching Describer.
func New(opts Options) (Describer, Mode, error) {
	mode := opts.Mode
	if mode == "" || mode == ModeAuto {
		mode = ModeManual
		if opts.APIKey != "" {
			mode = ModeAPI
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	switch mode {
	case ModeAPI:
		if opts.APIKey == "" {
			return nil, "", ErrMissingAPIKey
		}
		d := NewAPIDescriber(opts.APIKey, opts.Model)
		logger.Printf("Using API describer with model %s", d.model)
		return d, mode, nil
	case ModeManual:
		logger.Printf("Using manual describer, prompts go to %s", opts.PromptDir)
		return NewManualDescriber(opts.PromptDir, opts.WatchRoot), mode, nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidMode, opts.Mode)
	}
}

// ParseResult decodes a JSON reply. Markdown code fences and prose around
// the JSON object are tolerated.
func ParseResult(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	if start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}'); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var r Result
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil, fmt.Errorf("failed to parse alt text response as JSON: %w", err)
	}
	return &r, nil
}
