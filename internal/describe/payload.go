package describe

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PayloadSuffix names the machine-readable half of a manual hand-off.
const PayloadSuffix = ".payload.json"

// PromptSuffix names the human-readable half of a manual hand-off.
const PromptSuffix = ".prompt.md"

// Payload is everything the describer is told about one image.
type Payload struct {
	ImagePath       string          `json:"image_path"`
	DocPath         string          `json:"doc_path"`
	ProjectKeywords []string        `json:"project_keywords,omitempty"`
	HumanNotes      string          `json:"human_notes,omitempty"`
	OCRText         string          `json:"ocr_text,omitempty"`
	ImageInfo       *ImageInfo      `json:"image_info,omitempty"`
	ExportMetadata  *ExportMetadata `json:"export_metadata,omitempty"`
}

// ImageInfo carries what could be read from the image file itself.
type ImageInfo struct {
	Format     string `json:"format,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	CapturedAt string `json:"captured_at,omitempty"`
	Camera     string `json:"camera,omitempty"`
}

// ExportMetadata describes where an exported copy of the image lives.
// Relative paths are relative to JobRoot and use forward slashes.
type ExportMetadata struct {
	JobRoot      string `json:"job_root"`
	MarkdownPath string `json:"markdown_path"`
	PreviewRel   string `json:"preview_rel"`
	OriginalRel  string `json:"original_rel"`
	ImageKey     string `json:"image_key"`
	Title        string `json:"title"`
}

// Validate checks the fields every payload needs.
func (p *Payload) Validate() error {
	if p.ImagePath == "" {
		return fmt.Errorf("payload has no image_path")
	}
	return nil
}

// ReadPayloadFile reads a payload from a JSON file.
func ReadPayloadFile(path string) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload file: %w", err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse payload JSON: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid payload in %s: %w", path, err)
	}

	return &p, nil
}

// WritePayloadFile writes p as indented JSON to path, creating parent
// directories as needed.
func WritePayloadFile(path string, p *Payload) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create payload directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write payload file: %w", err)
	}

	return nil
}

// ListPayloadFiles returns the payload files in dir, sorted by name.
// A missing directory yields no files.
func ListPayloadFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read pending directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(entry.Name()), PayloadSuffix) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// PromptPathFor returns the prompt file that accompanies a payload file.
func PromptPathFor(payloadPath string) string {
	if len(payloadPath) >= len(PayloadSuffix) &&
		strings.EqualFold(payloadPath[len(payloadPath)-len(PayloadSuffix):], PayloadSuffix) {
		return payloadPath[:len(payloadPath)-len(PayloadSuffix)] + PromptSuffix
	}
	return payloadPath + PromptSuffix
}

// HandoffName turns an image path into the file name stem used for its
// manual hand-off files: the path relative to root (the base name when the
// image lies outside root) with separators replaced by "__".
func HandoffName(root, imagePath string) string {
	name := filepath.Base(imagePath)
	if root != "" {
		if rel, err := filepath.Rel(root, imagePath); err == nil && !strings.HasPrefix(rel, "..") {
			name = rel
		}
	}
	name = strings.ReplaceAll(name, string(filepath.Separator), "__")
	name = strings.ReplaceAll(name, "/", "__")
	return strings.ReplaceAll(name, `\`, "__")
}
