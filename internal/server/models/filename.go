package models

import (
	"path"
	"strings"
	"unicode"
)

const (
	maxDisplayName = 255
	maxExtLen      = 16
	fallbackName   = "download"
)

// SanitizeFileName reduces a client-supplied name to something safe for a
// Content-Disposition header: base name only, no control characters, no
// quotes or path separators.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r), r == '"', r == '/', r == unicode.ReplacementChar:
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return fallbackName
	}
	if r := []rune(name); len(r) > maxDisplayName {
		name = string(r[:maxDisplayName])
	}
	return name
}

// ArtifactExt returns the lower-cased extension of name including the dot,
// or "" when it is missing or not plain alphanumerics.
func ArtifactExt(name string) string {
	ext := path.Ext(SanitizeFileName(name))
	if len(ext) < 2 || len(ext) > maxExtLen+1 {
		return ""
	}
	for _, r := range ext[1:] {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return ""
		}
	}
	return strings.ToLower(ext)
}

// ArtifactKey is the blob key of a session's final artifact.
func ArtifactKey(sessionID, originalName string) string {
	return "final/" + sessionID + ArtifactExt(originalName)
}
