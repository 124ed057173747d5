package jobs

import (
	"path/filepath"

	"golang.org/x/text/unicode/norm"
)

// Key returns the correlation key for path: the cleaned path in Unicode NFC,
// so that decomposed names reported by some network shares match.
func Key(path string) string {
	return norm.NFC.String(filepath.Clean(path))
}
