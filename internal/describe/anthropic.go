package describe

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-5"

	defaultMaxTokens = 1024

	// maxImageBytes is the largest image attached to a request.
	maxImageBytes = 5 << 20
)

// imageMediaTypes are the formats the Messages API accepts as image blocks.
var imageMediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// APIDescriber asks the Anthropic Messages API for alt text.
type APIDescriber struct {
	client anthropic.Client
	model  string
}

// NewAPIDescriber creates a describer using apiKey. Extra request options
// (base URL, retries) are passed through to the client.
func NewAPIDescriber(apiKey, model string, opts ...option.RequestOption) *APIDescriber {
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &APIDescriber{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Describe sends the payload, with the image attached when its format is
// supported, and parses the JSON reply.
func (d *APIDescriber) Describe(ctx context.Context, p *Payload) (*Result, error) {
	text, err := UserMessage(p)
	if err != nil {
		return nil, err
	}

	var blocks []anthropic.ContentBlockParamUnion
	if img, ok := imageBlock(p.ImagePath); ok {
		blocks = append(blocks, img)
	}
	blocks = append(blocks, anthropic.NewTextBlock(text))

	msg, err := d.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(d.model),
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: SystemPrompt}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	})
	if err != nil {
		return nil, fmt.Errorf("alt text request failed for %s: %w", filepath.Base(p.ImagePath), err)
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}

	return ParseResult(reply.String())
}

// imageBlock reads the image as a base64 block. Unsupported formats,
// oversized files and read failures are sent as text only.
func imageBlock(path string) (anthropic.ContentBlockParamUnion, bool) {
	mediaType, ok := imageMediaTypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return anthropic.ContentBlockParamUnion{}, false
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 || info.Size() > maxImageBytes {
		return anthropic.ContentBlockParamUnion{}, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return anthropic.ContentBlockParamUnion{}, false
	}

	return anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(data)), true
}
