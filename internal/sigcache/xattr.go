//go:build linux

package sigcache

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/kozaktomas/photo-dedup/internal/constants"
)

// XattrStore keeps the signature in an extended attribute on the file itself,
// so it travels with the file on shares that support xattrs.
type XattrStore struct {
	name string
}

var _ Store = (*XattrStore)(nil)

// NewXattrStore creates a store using the default attribute name.
func NewXattrStore() *XattrStore {
	return &XattrStore{name: constants.XattrName}
}

// missing reports errors meaning "no usable attribute".
func missing(err error) bool {
	return errors.Is(err, unix.ENODATA) || unsupported(err) || errors.Is(err, unix.ENOENT)
}

// unsupported reports filesystems without user xattrs. Writes there are
// dropped; the file is simply rehashed on the next scan.
func unsupported(err error) bool {
	return errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP)
}

func (s *XattrStore) GetSignature(ctx context.Context, path string) (Signature, bool, error) {
	buf := make([]byte, 64)
	n, err := unix.Getxattr(path, s.name, buf)
	if errors.Is(err, unix.ERANGE) {
		size, serr := unix.Getxattr(path, s.name, nil)
		if serr != nil {
			err = serr
		} else {
			buf = make([]byte, size)
			n, err = unix.Getxattr(path, s.name, buf)
		}
	}
	if err != nil {
		if missing(err) {
			return Signature{}, false, nil
		}
		return Signature{}, false, fmt.Errorf("getxattr %s: %w", path, err)
	}

	sig, err := ParseSignature(string(buf[:n]))
	if err != nil {
		return Signature{}, false, err
	}
	return sig, true, nil
}

func (s *XattrStore) SetSignature(ctx context.Context, path string, sig Signature) error {
	if err := unix.Setxattr(path, s.name, []byte(sig.String()), 0); err != nil {
		if unsupported(err) {
			return nil
		}
		return fmt.Errorf("setxattr %s: %w", path, err)
	}
	return nil
}

func (s *XattrStore) DeleteSignature(ctx context.Context, path string) error {
	err := unix.Removexattr(path, s.name)
	if err != nil && !missing(err) {
		return fmt.Errorf("removexattr %s: %w", path, err)
	}
	return nil
}
