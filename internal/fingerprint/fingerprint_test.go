package fingerprint

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"
)

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		name     string
		hash1    uint64
		hash2    uint64
		expected int
	}{
		{"identical", 0x0, 0x0, 0},
		{"completely different", 0xFFFFFFFFFFFFFFFF, 0x0, 64},
		{"one bit different", 0x1, 0x0, 1},
		{"four bits different", 0xF, 0x0, 4},
		{"half different", 0xFFFFFFFF00000000, 0x0, 32},
		{"alternating", 0xAAAAAAAAAAAAAAAA, 0x5555555555555555, 64},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := HammingDistance(tc.hash1, tc.hash2)
			if result != tc.expected {
				t.Errorf("HammingDistance(%x, %x) = %d; want %d",
					tc.hash1, tc.hash2, result, tc.expected)
			}
			if back := HammingDistance(tc.hash2, tc.hash1); back != result {
				t.Errorf("HammingDistance is not symmetric: %d vs %d", result, back)
			}
			if self := HammingDistance(tc.hash1, tc.hash1); self != 0 {
				t.Errorf("HammingDistance(h, h) = %d; want 0", self)
			}
		})
	}
}

func TestSimilar(t *testing.T) {
	tests := []struct {
		name      string
		hash1     uint64
		hash2     uint64
		threshold int
		expected  bool
	}{
		{"identical with threshold 0", 0x0, 0x0, 0, true},
		{"identical with threshold 10", 0x0, 0x0, 10, true},
		{"9 bits different, threshold 10", 0x0, 0x1FF, 10, true},
		{"10 bits different, threshold 10", 0x0, 0x3FF, 10, true},
		{"11 bits different, threshold 10", 0x0, 0x7FF, 10, false},
		{"completely different, threshold 10", 0xFFFFFFFFFFFFFFFF, 0x0, 10, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := Similar(tc.hash1, tc.hash2, tc.threshold)
			if result != tc.expected {
				t.Errorf("Similar(%x, %x, %d) = %v; want %v",
					tc.hash1, tc.hash2, tc.threshold, result, tc.expected)
			}
		})
	}
}

func TestFormatParseHash(t *testing.T) {
	tests := []struct {
		hash uint64
		want string
	}{
		{0, "0000000000000000"},
		{1, "0000000000000001"},
		{0xFFFFFFFFFFFFFFFF, "ffffffffffffffff"},
		{0x8000000000000000, "8000000000000000"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			got := FormatHash(tc.hash)
			if got != tc.want {
				t.Fatalf("FormatHash(%d) = %s; want %s", tc.hash, got, tc.want)
			}
			parsed, err := ParseHash(got)
			if err != nil {
				t.Fatalf("ParseHash(%s) failed: %v", got, err)
			}
			if parsed != tc.hash {
				t.Errorf("ParseHash(%s) = %x; want %x", got, parsed, tc.hash)
			}
		})
	}
}

func TestParseHashInvalid(t *testing.T) {
	for _, s := range []string{"", "xyz", "00000000000000000", "12 34"} {
		if _, err := ParseHash(s); err == nil {
			t.Errorf("ParseHash(%q) should fail", s)
		}
	}
}

func TestComputeHashConsistency(t *testing.T) {
	h := NewHasher(DefaultMatrixSize)
	imgData := encodeJPEG(createPatternImage(100, 100))

	first, err := h.ComputeHash(imgData)
	if err != nil {
		t.Fatalf("first ComputeHash failed: %v", err)
	}
	second, err := h.ComputeHash(imgData)
	if err != nil {
		t.Fatalf("second ComputeHash failed: %v", err)
	}

	if first != second {
		t.Errorf("hash should be consistent: %016x vs %016x", first, second)
	}
	if first == 0 {
		t.Error("pattern image should produce a non-zero hash")
	}
}

func TestComputeHashScaledCopy(t *testing.T) {
	h := NewHasher(DefaultMatrixSize)

	small, err := h.ComputeHash(encodePNG(createPatternImage(64, 64)))
	if err != nil {
		t.Fatalf("ComputeHash small failed: %v", err)
	}
	large, err := h.ComputeHash(encodePNG(createPatternImage(256, 256)))
	if err != nil {
		t.Fatalf("ComputeHash large failed: %v", err)
	}

	if d := HammingDistance(small, large); d > 10 {
		t.Errorf("scaled copies should be near duplicates, distance %d", d)
	}
}

func TestComputeHashInvalidImage(t *testing.T) {
	h := NewHasher(DefaultMatrixSize)

	_, err := h.ComputeHash([]byte("not an image"))
	if err == nil {
		t.Fatal("ComputeHash should fail for invalid image data")
	}

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("expected *DecodeError, got %T", err)
	}
}

// Helper functions

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func createGradientImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			gray := uint8((x + y) * 255 / (width + height))
			img.Set(x, y, color.RGBA{gray, gray, gray, 255})
		}
	}
	return img
}

// createPatternImage draws a smooth non-separable pattern whose low-frequency
// coefficients are all clearly non-zero.
func createPatternImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			fx := float64(x) / float64(width)
			fy := float64(y) / float64(height)
			v := 128 + 60*math.Sin(2*math.Pi*fx*1.3)*math.Cos(2*math.Pi*fy*0.7) + 50*fx*fy - 40*fy*fy
			img.Set(x, y, color.RGBA{uint8(v), uint8(v), uint8(v), 255})
		}
	}
	return img
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}
