package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/wpm/altwatch/internal/describe"
	"github.com/wpm/altwatch/internal/pathkey"
)

// DefaultLedgerFilename is the per-directory ledger name.
const DefaultLedgerFilename = "alt-text-log.md"

// DefaultExportLedgerFilename is the ledger name inside an export job.
const DefaultExportLedgerFilename = "alt-text.md"

// Config holds configuration for the processor.
type Config struct {
	// WatchRoot is the root the export set names are derived from.
	WatchRoot string

	// LedgerFilename is the ledger written next to each image.
	LedgerFilename string

	// ExportRoot enables export mode when set.
	ExportRoot string

	// ExportLedgerFilename is the ledger written at each export job root.
	ExportLedgerFilename string

	// OptimizedMaxDimension bounds the optimized preview.
	OptimizedMaxDimension int

	ProjectKeywords []string
	HumanNotes      string

	// Logger for processor activity
	Logger *log.Logger
}

// Processor builds the payload for an image and asks a Describer for it.
type Processor struct {
	config    Config
	describer describe.Describer
}

// NewProcessor creates a Processor.
func NewProcessor(config Config, d describe.Describer) (*Processor, error) {
	if d == nil {
		return nil, fmt.Errorf("describer cannot be nil")
	}
	if config.LedgerFilename == "" {
		config.LedgerFilename = DefaultLedgerFilename
	}
	if config.ExportLedgerFilename == "" {
		config.ExportLedgerFilename = DefaultExportLedgerFilename
	}
	if config.OptimizedMaxDimension <= 0 {
		config.OptimizedMaxDimension = DefaultOptimizedMaxDimension
	}
	if config.Logger == nil {
		config.Logger = log.New(io.Discard, "", 0)
	}
	return &Processor{config: config, describer: d}, nil
}

// Process describes the image at path.
func (p *Processor) Process(ctx context.Context, path string) (*Outcome, error) {
	payload, err := p.BuildPayload(path)
	if err != nil {
		return nil, err
	}

	result, err := p.describer.Describe(ctx, payload)
	if err != nil {
		return nil, err
	}

	return OutcomeFromResult(payload, result), nil
}

// BuildPayload assembles the describe payload for path. In export mode the
// original is copied into the export job and a preview is written first.
func (p *Processor) BuildPayload(path string) (*describe.Payload, error) {
	payload := &describe.Payload{
		ImagePath:  path,
		DocPath:    filepath.Join(filepath.Dir(path), p.config.LedgerFilename),
		HumanNotes: strings.TrimSpace(p.config.HumanNotes),
	}
	if len(p.config.ProjectKeywords) > 0 {
		payload.ProjectKeywords = p.config.ProjectKeywords
	}

	if p.config.ExportRoot != "" {
		ec := buildExportContext(p.config.WatchRoot, p.config.ExportRoot, p.config.ExportLedgerFilename, path)
		if err := ec.prepare(path, p.config.OptimizedMaxDimension); err != nil {
			return nil, err
		}
		payload.DocPath = ec.MarkdownPath
		payload.ExportMetadata = ec.Metadata()
		p.config.Logger.Printf("Exported %s to %s", filepath.Base(path), ec.JobRoot)
	}

	payload.OCRText = companionText(path)
	payload.ImageInfo = readImageInfo(path)

	return payload, nil
}

// OutcomeFromResult folds a describer reply into an Outcome. A missing
// status means ok; a missing doc path falls back to the payload's.
func OutcomeFromResult(payload *describe.Payload, r *describe.Result) *Outcome {
	o := &Outcome{
		Status:    ParseStatus(r.Status),
		AltText:   r.AltText,
		Summary:   r.Summary,
		Notes:     r.Notes,
		DocPath:   r.DocPath,
		ImagePath: payload.ImagePath,
	}
	if o.DocPath == "" {
		o.DocPath = payload.DocPath
	}

	if meta := payload.ExportMetadata; meta != nil {
		o.PreviewRef = meta.PreviewRel
		o.Title = meta.Title
		if meta.PreviewRel == "" {
			o.IdentityKey = meta.ImageKey
		}
	} else {
		o.PreviewRef = filepath.Base(payload.ImagePath)
	}
	if o.Title == "" {
		o.Title = pathkey.SuggestTitle(pathkey.Stem(payload.ImagePath))
	}

	return o
}

// companionText returns the first non-empty companion text file for path:
// <stem>.txt, then <stem>.ocr.txt.
func companionText(path string) string {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, candidate := range []string{base + ".txt", base + ".ocr.txt"} {
		data, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			return text
		}
	}
	return ""
}
