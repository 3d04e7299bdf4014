package pipeline

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/wpm/altwatch/internal/describe"
)

// exifExtensions are the formats that may carry EXIF data.
var exifExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// readImageInfo gathers dimensions and capture metadata for path.
// It returns nil when nothing could be read.
func readImageInfo(path string) *describe.ImageInfo {
	info := &describe.ImageInfo{}

	if f, err := os.Open(path); err == nil {
		if cfg, format, err := image.DecodeConfig(f); err == nil {
			info.Format = format
			info.Width = cfg.Width
			info.Height = cfg.Height
		}
		f.Close()
	}

	if info.Format == "" && strings.EqualFold(filepath.Ext(path), ".svg") {
		info.Format = "svg"
	}

	if exifExtensions[strings.ToLower(filepath.Ext(path))] {
		readExif(path, info)
	}

	if *info == (describe.ImageInfo{}) {
		return nil
	}
	return info
}

// readExif fills the capture time and camera model from EXIF data.
func readExif(path string, info *describe.ImageInfo) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return
	}

	if t, err := x.DateTime(); err == nil {
		info.CapturedAt = t.Format(time.RFC3339)
	}

	if tag, err := x.Get(exif.Model); err == nil {
		if model, err := tag.StringVal(); err == nil {
			info.Camera = strings.TrimSpace(model)
		}
	}
}
