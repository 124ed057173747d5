// Package fingerprint computes 64-bit DCT perceptual hashes of images.
package fingerprint

import (
	"fmt"
	"math/bits"
	"strconv"
)

// Hasher combines a Resizer and a Kernel of matching size.
type Hasher struct {
	resizer *Resizer
	kernel  *Kernel
}

// NewHasher creates a hasher for size×size matrices.
func NewHasher(size int, opts ...KernelOption) *Hasher {
	kernel := NewKernel(size, opts...)
	return &Hasher{
		resizer: NewResizer(size),
		kernel:  kernel,
	}
}

// Resizer returns the hasher's resizer.
func (h *Hasher) Resizer() *Resizer {
	return h.resizer
}

// Kernel returns the hasher's kernel.
func (h *Hasher) Kernel() *Kernel {
	return h.kernel
}

// ComputeHash decodes imageData and returns its perceptual hash.
func (h *Hasher) ComputeHash(imageData []byte) (uint64, error) {
	m, err := h.resizer.Matrix(imageData)
	if err != nil {
		return 0, err
	}
	return h.kernel.Hash(m), nil
}

// HammingDistance computes the Hamming distance between two 64-bit hashes.
func HammingDistance(hash1, hash2 uint64) int {
	return bits.OnesCount64(hash1 ^ hash2)
}

// Similar returns true if two hashes are within the given threshold.
// Distances up to constants.DefaultDuplicateThreshold are treated as duplicates by default.
func Similar(hash1, hash2 uint64, threshold int) bool {
	return HammingDistance(hash1, hash2) <= threshold
}

// FormatHash renders a hash as 16 lowercase hex digits.
func FormatHash(hash uint64) string {
	return fmt.Sprintf("%016x", hash)
}

// ParseHash parses the FormatHash representation.
func ParseHash(s string) (uint64, error) {
	if len(s) == 0 || len(s) > 16 {
		return 0, fmt.Errorf("invalid hash %q: want 1-16 hex digits", s)
	}
	h, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return h, nil
}
