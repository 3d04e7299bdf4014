// Package pathkey turns filesystem paths into comparable identity keys.
//
// Keys are separator-agnostic and case-insensitive so that the same logical
// image resolves to one key regardless of the platform that produced the path.
package pathkey

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// imageExtensions is the fixed allow-list of image file extensions.
var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
	".svg":  {},
	".tif":  {},
	".tiff": {},
	".bmp":  {},
}

var (
	unsafeSegmentChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	titleSeparators    = regexp.MustCompile(`[_-]+`)
	whitespaceRuns     = regexp.MustCompile(`\s+`)
)

// NormalizePath replaces every path separator with a forward slash.
// Both '/' and '\' are treated as separators on every platform.
func NormalizePath(path string) string {
	if path == "" {
		return ""
	}
	path = strings.ReplaceAll(path, string(filepath.Separator), "/")
	return strings.ReplaceAll(path, `\`, "/")
}

// NormalizeKey returns the identity key for path: separators unified to '/'
// and the result lowercased. The empty path maps to the empty key.
func NormalizeKey(path string) string {
	return strings.ToLower(NormalizePath(path))
}

// IsImage reports whether path carries an allow-listed image extension.
func IsImage(path string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// SanitizeSegment makes s safe to use as a single directory name.
func SanitizeSegment(s string) string {
	return unsafeSegmentChars.ReplaceAllString(s, "-")
}

// SuggestTitle derives a human title from a file stem:
// "golden_gate-bridge" becomes "Golden Gate Bridge".
func SuggestTitle(baseName string) string {
	cleaned := titleSeparators.ReplaceAllString(baseName, " ")
	cleaned = strings.TrimSpace(whitespaceRuns.ReplaceAllString(cleaned, " "))
	if cleaned == "" {
		return "Untitled Image"
	}

	words := strings.Split(cleaned, " ")
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
