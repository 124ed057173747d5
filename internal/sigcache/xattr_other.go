//go:build !linux

package sigcache

import (
	"context"
)

// XattrStore is unavailable on this platform; lookups miss and writes are dropped.
type XattrStore struct{}

var _ Store = (*XattrStore)(nil)

func NewXattrStore() *XattrStore {
	return &XattrStore{}
}

func (s *XattrStore) GetSignature(ctx context.Context, path string) (Signature, bool, error) {
	return Signature{}, false, nil
}

func (s *XattrStore) SetSignature(ctx context.Context, path string, sig Signature) error {
	return nil
}

func (s *XattrStore) DeleteSignature(ctx context.Context, path string) error {
	return nil
}
