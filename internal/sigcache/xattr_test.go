//go:build linux

package sigcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestXattrStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	if err := unix.Setxattr(path, "user.photodedup.check", []byte("1"), 0); err != nil {
		if unsupported(err) || errors.Is(err, unix.EPERM) {
			t.Skipf("filesystem does not support user xattrs: %v", err)
		}
	}

	store := NewXattrStore()
	sig := Signature{Size: 4, ModTime: 99}
	require.NoError(t, store.SetSignature(ctx, path, sig))

	got, ok, err := store.GetSignature(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sig, got)

	require.NoError(t, store.DeleteSignature(ctx, path))
	_, ok, err = store.GetSignature(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.DeleteSignature(ctx, path), "deleting a missing attribute is not an error")
}

func TestXattrStoreMissingFile(t *testing.T) {
	_, ok, err := NewXattrStore().GetSignature(context.Background(), filepath.Join(t.TempDir(), "none"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestUnsupportedErrors(t *testing.T) {
	assert.True(t, unsupported(unix.ENOTSUP))
	assert.True(t, unsupported(fmt.Errorf("setxattr /a: %w", unix.EOPNOTSUPP)))
	assert.False(t, unsupported(unix.EACCES))
	assert.True(t, missing(unix.ENOTSUP), "unsupported reads are misses")
}

func TestXattrStoreUnsupportedSetIsSilent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	if err := unix.Setxattr(path, "user.photodedup.check", []byte("1"), 0); err == nil {
		t.Skip("filesystem supports user xattrs")
	} else if !unsupported(err) {
		t.Skipf("unexpected setxattr error: %v", err)
	}

	log, hook := test.NewNullLogger()
	cache := New(NewXattrStore(), log)
	sig, err := cache.Current(path)
	require.NoError(t, err)
	assert.NoError(t, cache.Update(context.Background(), path, sig))
	assert.Empty(t, hook.AllEntries())
}
