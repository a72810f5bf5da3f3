// Package classify decides how a moved file set should be partitioned into
// logical items and detects archive container formats.
package classify

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Format is the detected container format of a managed file.
type Format string

const (
	FormatRAR  Format = "rar"
	FormatZIP  Format = "zip"
	Format7Z   Format = "7z"
	FormatNone Format = "none"
)

var multipartRE = regexp.MustCompile(`(?i)^(.*)\.part\d+\.rar$`)

// DetectFormat classifies a path by its extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rar":
		return FormatRAR
	case ".zip":
		return FormatZIP
	case ".7z":
		return Format7Z
	}
	return FormatNone
}

// IsArchive reports whether the path looks like an archive container.
func IsArchive(path string) bool {
	return DetectFormat(path) != FormatNone
}

// MultipartBase returns the volume base name for file names shaped like
// <base>.partN.rar (case-insensitive).
func MultipartBase(path string) (string, bool) {
	m := multipartRE.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// SingleItem reports whether the moved set represents one logical item:
// either a lone file, or a multi-volume RAR whose parts all share one base
// name. Any other shape (mixed formats, several distinct bases, non-part
// RARs) is treated as multiple distinct items.
func SingleItem(paths []string) bool {
	if len(paths) == 1 {
		return true
	}

	bases := make(map[string]struct{})
	parts := 0
	for _, p := range paths {
		if strings.ToLower(filepath.Ext(p)) != ".rar" {
			return false
		}
		base, ok := MultipartBase(p)
		if !ok {
			return false
		}
		bases[strings.ToLower(base)] = struct{}{}
		parts++
	}
	return parts == len(paths) && len(bases) == 1
}
