package sync

import (
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// nfcNormalize returns the NFC form of s. Manifest keys and failure records
// use it so that composed and decomposed spellings of a name coincide.
func nfcNormalize(s string) string {
	return norm.NFC.String(s)
}

// relativeTo converts an absolute event path into a slash-separated path
// relative to root. It returns false for the root itself and for anything
// outside it.
func relativeTo(root, abs string) (string, bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", false
	}

	rel = path.Clean(filepath.ToSlash(rel))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}

	return rel, true
}
