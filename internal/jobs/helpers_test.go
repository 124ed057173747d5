package jobs

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func patternPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			fx := float64(x) / float64(width)
			fy := float64(y) / float64(height)
			v := 128 + 60*math.Sin(2*math.Pi*fx*1.3)*math.Cos(2*math.Pi*fy*0.7) + 50*fx*fy - 40*fy*fy
			img.Set(x, y, color.RGBA{uint8(v), uint8(v), uint8(v), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
