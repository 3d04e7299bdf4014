// Package pipeline turns one image path into a described Outcome.
//
// The Processor assembles the describe payload (companion OCR text, image
// metadata, export layout), hands it to a Describer and folds the reply into
// an Outcome that the daemon records in the ledger.
package pipeline

import "strings"

// Status tags the result of processing one image.
type Status string

const (
	// StatusOK means alt text was produced.
	StatusOK Status = "ok"
	// StatusManual means a prompt was handed off for manual processing.
	StatusManual Status = "manual"
	// StatusError means the image could not be processed.
	StatusError Status = "error"
)

// ParseStatus maps a raw status string onto a Status. Empty means ok.
// Unknown values are kept (lowercased) so they can still be reported.
func ParseStatus(s string) Status {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StatusOK
	}
	return Status(s)
}

// Outcome is the structured result of processing one image.
type Outcome struct {
	Status  Status `json:"status"`
	AltText string `json:"alt_text,omitempty"`
	Summary string `json:"summary,omitempty"`
	Notes   string `json:"notes,omitempty"`

	// DocPath is the ledger document the result belongs to.
	DocPath string `json:"doc_path,omitempty"`

	// ImagePath is the source image that was processed.
	ImagePath string `json:"image_path,omitempty"`

	// Title is the human title shown in the ledger.
	Title string `json:"title,omitempty"`

	// PreviewRef is the image reference relative to DocPath's directory.
	PreviewRef string `json:"preview_ref,omitempty"`

	// IdentityKey overrides the ledger identity derived from PreviewRef.
	IdentityKey string `json:"identity_key,omitempty"`
}

// Failed builds an error outcome for path carrying err as its notes.
func Failed(path string, err error) *Outcome {
	notes := ""
	if err != nil {
		notes = err.Error()
	}
	return &Outcome{
		Status:    StatusError,
		Notes:     notes,
		ImagePath: path,
	}
}
