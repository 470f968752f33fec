package cache

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/bitmap"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testPNG(t *testing.T, w, h int) (*bitmap.Image, []byte) {
	t.Helper()
	src := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.Set(x, y, color.NRGBA{G: 180, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	img, err := bitmap.Decode(buf.Bytes(), bitmap.DecodeOptions{})
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	return img, buf.Bytes()
}
