package describe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ManualDescriber writes a prompt and a payload file for each image so that
// the request can be completed by hand or replayed later by `altwatch pending`.
type ManualDescriber struct {
	dir  string
	root string
}

// NewManualDescriber creates a describer writing hand-off files into dir.
// File names are derived from the image path relative to root.
func NewManualDescriber(dir, root string) *ManualDescriber {
	return &ManualDescriber{dir: dir, root: root}
}

// Dir returns the hand-off directory.
func (d *ManualDescriber) Dir() string {
	return d.dir
}

// Describe writes the hand-off files and returns a manual result.
func (d *ManualDescriber) Describe(ctx context.Context, p *Payload) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create prompt directory: %w", err)
	}

	name := HandoffName(d.root, p.ImagePath)
	promptPath := filepath.Join(d.dir, name+PromptSuffix)
	payloadPath := filepath.Join(d.dir, name+PayloadSuffix)

	prompt, err := ManualPrompt(p)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(promptPath, []byte(prompt), 0644); err != nil {
		return nil, fmt.Errorf("failed to write prompt file: %w", err)
	}
	if err := WritePayloadFile(payloadPath, p); err != nil {
		return nil, err
	}

	return &Result{
		Image:   filepath.Base(p.ImagePath),
		DocPath: p.DocPath,
		Notes:   fmt.Sprintf("Manual prompt created at %s", promptPath),
		Status:  string(ModeManual),
	}, nil
}

// ManualPrompt renders the Markdown prompt document for p.
func ManualPrompt(p *Payload) (string, error) {
	user, err := UserMessage(p)
	if err != nil {
		return "", err
	}

	return strings.Join([]string{
		fmt.Sprintf("# Alt Text Prompt • %s", filepath.Base(p.ImagePath)),
		"",
		fmt.Sprintf("Attach the image located at: `%s` when you send this prompt.", p.ImagePath),
		"",
		"Paste the full code block into your assistant of choice. The system instructions keep the bias and accessibility rules enforced.",
		"",
		"```text",
		"System prompt:",
		SystemPrompt,
		"",
		"User message:",
		user,
		"```",
		"",
		fmt.Sprintf("Copy the `alt_text` (and optional summary) from the response into `%s`.", p.DocPath),
	}, "\n"), nil
}
