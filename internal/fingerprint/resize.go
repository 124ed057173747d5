package fingerprint

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var errEmptyImage = errors.New("image has no pixels")

// DecodeError reports image data that could not be decoded.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("decode image %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Resizer turns encoded image bytes into an S×S luminance matrix.
type Resizer struct {
	size   int
	filter imaging.ResampleFilter
}

// NewResizer creates a resizer producing size×size matrices.
func NewResizer(size int) *Resizer {
	if size < 1 {
		size = DefaultMatrixSize
	}
	return &Resizer{size: size, filter: imaging.Linear}
}

// Size returns S.
func (r *Resizer) Size() int {
	return r.size
}

// Matrix decodes data, stretches it to S×S ignoring aspect ratio and
// converts it to BT.601 luma.
func (r *Resizer) Matrix(data []byte) (Matrix, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &DecodeError{Err: errEmptyImage}
	}
	return r.FromImage(img), nil
}

// FromImage converts an already decoded image.
func (r *Resizer) FromImage(img image.Image) Matrix {
	resized := imaging.Resize(img, r.size, r.size, r.filter)
	return toGrayscale(resized)
}

// toGrayscale converts an image to a matrix of grayscale values (0-255).
func toGrayscale(img *image.NRGBA) Matrix {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make(Matrix, width)
	for x := range width {
		gray[x] = make([]float64, height)
		for y := range height {
			off := img.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			r, g, b := img.Pix[off], img.Pix[off+1], img.Pix[off+2]
			// ITU-R BT.601 luma formula.
			gray[x][y] = 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
		}
	}

	return gray
}
