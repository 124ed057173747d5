// Package sigcache remembers the size and modification time of files whose
// hash is already stored, so unchanged files can be skipped without reading
// them. Entries are advisory: losing one only causes a recomputation.
package sigcache

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Signature identifies a file version by size and modification time.
type Signature struct {
	Size    int64
	ModTime int64 // Unix nanoseconds
}

// FromFileInfo builds the signature of a stat result.
func FromFileInfo(fi fs.FileInfo) Signature {
	return Signature{Size: fi.Size(), ModTime: fi.ModTime().UnixNano()}
}

// String renders the signature as "size:mtime".
func (s Signature) String() string {
	return strconv.FormatInt(s.Size, 10) + ":" + strconv.FormatInt(s.ModTime, 10)
}

// IsZero reports whether s is the zero signature.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// ParseSignature parses the String form.
func ParseSignature(s string) (Signature, error) {
	size, mtime, ok := strings.Cut(s, ":")
	if !ok {
		return Signature{}, fmt.Errorf("invalid signature %q", s)
	}
	sz, err := strconv.ParseInt(size, 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("invalid signature size %q: %w", s, err)
	}
	mt, err := strconv.ParseInt(mtime, 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("invalid signature mtime %q: %w", s, err)
	}
	return Signature{Size: sz, ModTime: mt}, nil
}

// Store persists signatures per path.
type Store interface {
	// GetSignature returns the stored signature and whether one exists.
	GetSignature(ctx context.Context, path string) (Signature, bool, error)
	SetSignature(ctx context.Context, path string, sig Signature) error
	DeleteSignature(ctx context.Context, path string) error
}

// Cache answers whether a file must be processed.
type Cache struct {
	store Store
	log   logrus.FieldLogger
	stat  func(string) (fs.FileInfo, error)
}

// New creates a cache over store. A nil store makes every file "process".
func New(store Store, log logrus.FieldLogger) *Cache {
	return &Cache{store: store, log: log, stat: os.Stat}
}

// Current stats path and returns its signature.
func (c *Cache) Current(path string) (Signature, error) {
	fi, err := c.stat(path)
	if err != nil {
		return Signature{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return FromFileInfo(fi), nil
}

// Check returns whether path must be processed together with its current
// signature. Store and stat failures are logged and answer true.
func (c *Cache) Check(ctx context.Context, path string) (bool, Signature) {
	current, err := c.Current(path)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Debug("signature unavailable")
		return true, Signature{}
	}
	if c.store == nil {
		return true, current
	}

	stored, ok, err := c.store.GetSignature(ctx, path)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Warn("signature cache lookup failed")
		return true, current
	}
	if !ok {
		return true, current
	}
	return stored != current, current
}

// ShouldProcess is false only when the stored signature equals the file's
// current one.
func (c *Cache) ShouldProcess(ctx context.Context, path string) bool {
	process, _ := c.Check(ctx, path)
	return process
}

// Update records sig for path after its hash has been persisted.
func (c *Cache) Update(ctx context.Context, path string, sig Signature) error {
	if c.store == nil || sig.IsZero() {
		return nil
	}
	if err := c.store.SetSignature(ctx, path, sig); err != nil {
		return fmt.Errorf("update signature for %s: %w", path, err)
	}
	return nil
}

// Forget drops the entry for path.
func (c *Cache) Forget(ctx context.Context, path string) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.DeleteSignature(ctx, path); err != nil {
		return fmt.Errorf("delete signature for %s: %w", path, err)
	}
	return nil
}
