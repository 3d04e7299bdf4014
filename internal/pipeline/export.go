package pipeline

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"github.com/wpm/altwatch/internal/describe"
	"github.com/wpm/altwatch/internal/pathkey"
)

const (
	originalsDir = "ORIGINALS"
	optimizedDir = "OPTIMIZED"

	// DefaultOptimizedMaxDimension bounds the longest side of a preview.
	DefaultOptimizedMaxDimension = 1600

	previewQuality = 82
)

// ExportContext is where one image lands inside an export job.
type ExportContext struct {
	SetName       string
	JobRoot       string
	MarkdownPath  string
	OriginalPath  string
	OptimizedPath string
	Title         string

	// PreviewPath is the file the ledger embeds: the optimized JPEG when
	// one could be produced, the copied original otherwise.
	PreviewPath string
}

// buildExportContext lays out the export of imagePath. The first path
// segment below watchRoot names the set; a file directly in the root forms
// a set of its own named after its stem.
func buildExportContext(watchRoot, exportRoot, ledgerName, imagePath string) ExportContext {
	rel := filepath.Base(imagePath)
	if watchRoot != "" {
		if r, err := filepath.Rel(watchRoot, imagePath); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}

	var segments []string
	for _, s := range strings.Split(filepath.ToSlash(rel), "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}

	setName := "image-set"
	withinSet := filepath.Base(imagePath)
	switch {
	case len(segments) > 1:
		setName = segments[0]
		withinSet = filepath.Join(segments[1:]...)
	case len(segments) == 1:
		setName = pathkey.Stem(segments[0])
	}
	setName = pathkey.SanitizeSegment(setName)

	relDir := filepath.Dir(withinSet)
	if relDir == "." {
		relDir = ""
	}
	stem := pathkey.Stem(withinSet)

	jobRoot := filepath.Join(exportRoot, setName)
	original := filepath.Join(jobRoot, originalsDir, withinSet)
	return ExportContext{
		SetName:       setName,
		JobRoot:       jobRoot,
		MarkdownPath:  filepath.Join(jobRoot, ledgerName),
		OriginalPath:  original,
		OptimizedPath: filepath.Join(jobRoot, optimizedDir, relDir, stem+".jpg"),
		Title:         pathkey.SuggestTitle(stem),
		PreviewPath:   original,
	}
}

// Metadata returns the export section of the describe payload.
func (c ExportContext) Metadata() *describe.ExportMetadata {
	preview := c.rel(c.PreviewPath)
	return &describe.ExportMetadata{
		JobRoot:      c.JobRoot,
		MarkdownPath: c.MarkdownPath,
		PreviewRel:   preview,
		OriginalRel:  c.rel(c.OriginalPath),
		ImageKey:     pathkey.NormalizeKey(preview),
		Title:        c.Title,
	}
}

func (c ExportContext) rel(path string) string {
	r, err := filepath.Rel(c.JobRoot, path)
	if err != nil {
		r = filepath.Base(path)
	}
	return pathkey.NormalizePath(r)
}

// prepare copies the original into the job and writes the optimized
// preview. Images that cannot be decoded (SVG) keep the original as preview.
func (c *ExportContext) prepare(src string, maxDim int) error {
	if err := copyFile(src, c.OriginalPath); err != nil {
		return fmt.Errorf("failed to copy original: %w", err)
	}

	if err := writePreview(c.OriginalPath, c.OptimizedPath, maxDim); err == nil {
		c.PreviewPath = c.OptimizedPath
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// writePreview decodes src, scales it to fit within maxDim on both sides
// (never enlarging) and writes it as JPEG to dst.
func writePreview(src, dst string, maxDim int) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	img, _, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(src), err)
	}

	if maxDim <= 0 {
		maxDim = DefaultOptimizedMaxDimension
	}
	if w, h := fitInside(img.Bounds().Dx(), img.Bounds().Dy(), maxDim); w != img.Bounds().Dx() || h != img.Bounds().Dy() {
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Over, nil)
		img = scaled
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: previewQuality}); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// fitInside returns w×h scaled down to fit a maxDim square, keeping the
// aspect ratio. Dimensions already inside are returned unchanged.
func fitInside(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}
