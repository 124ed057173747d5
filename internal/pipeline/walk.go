package pipeline

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// IsImageFile reports whether path has an extension the resizer can decode.
func IsImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".tif", ".tiff":
		return true
	default:
		return false
	}
}

// Walk sends the absolute path of every regular image file under root to
// out. Unreadable directories are logged and skipped. Walk does not close out.
func Walk(ctx context.Context, root string, out chan<- string, log logrus.FieldLogger) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == abs {
				return err
			}
			log.WithError(err).WithField("path", path).Warn("skipping unreadable entry")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || !IsImageFile(path) {
			return nil
		}
		select {
		case out <- path:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
