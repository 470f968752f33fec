package bitmap

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(w, h, color.NRGBA{R: 200, A: 255})); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func gifBytes(t *testing.T, frames int) []byte {
	t.Helper()
	anim := &gif.GIF{LoopCount: 0}
	for i := 0; i < frames; i++ {
		p := image.NewPaletted(image.Rect(0, 0, 4, 4), palette.Plan9)
		p.SetColorIndex(0, 0, uint8(i))
		anim.Image = append(anim.Image, p)
		anim.Delay = append(anim.Delay, 10)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, solid(2, 2, color.White), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	cases := []struct {
		name string
		data []byte
		want Format
	}{
		{"png", pngBytes(t, 1, 1), FormatPNG},
		{"jpeg", jpg.Bytes(), FormatJPEG},
		{"gif", gifBytes(t, 1), FormatGIF},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), FormatWebP},
		{"text", []byte("hello"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, tc := range cases {
		if got := DetectFormat(tc.data); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(nil, DecodeOptions{}); !errors.Is(err, ErrEmptyData) {
		t.Fatalf("expected ErrEmptyData, got %v", err)
	}
	if _, err := Decode([]byte("<html>not found</html>"), DecodeOptions{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDecodeCostAndScale(t *testing.T) {
	img, err := Decode(pngBytes(t, 20, 10), DecodeOptions{Scale: 2})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Format != FormatPNG {
		t.Fatalf("format mismatch: %s", img.Format)
	}
	w, h := img.Size()
	if w != 10 || h != 5 {
		t.Fatalf("logical size should be halved, got %vx%v", w, h)
	}
	if img.Cost() != 200 {
		t.Fatalf("cost should equal pixel count, got %d", img.Cost())
	}
}

func TestDecodeAnimatedGIF(t *testing.T) {
	data := gifBytes(t, 3)
	img, err := Decode(data, DecodeOptions{})
	if err != nil {
		t.Fatalf("decode gif: %v", err)
	}
	if !img.IsAnimated() || len(img.Frames) != 3 || len(img.Delays) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(img.Frames))
	}
	if !bytes.Equal(img.AnimatedData, data) {
		t.Fatalf("animated data should keep the original bytes")
	}
	if img.Cost() != 16*3 {
		t.Fatalf("cost should multiply by frame count, got %d", img.Cost())
	}

	first, err := Decode(data, DecodeOptions{OnlyFirstFrame: true})
	if err != nil {
		t.Fatalf("decode first frame: %v", err)
	}
	if first.IsAnimated() || first.AnimatedData != nil {
		t.Fatalf("OnlyFirstFrame should yield a still image")
	}
}

func TestDecodedForcesNRGBA(t *testing.T) {
	img, err := Decode(gifBytes(t, 2), DecodeOptions{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	decoded := img.Decoded()
	if !decoded.IsDecoded() || img.IsDecoded() {
		t.Fatalf("Decoded should return a new decoded copy")
	}
	for i, frame := range decoded.Frames {
		if _, ok := frame.(*image.NRGBA); !ok {
			t.Fatalf("frame %d not NRGBA: %T", i, frame)
		}
	}
	if decoded.Decoded() != decoded {
		t.Fatalf("decoding twice should be a no-op")
	}
}

func TestProcessorIdentifiers(t *testing.T) {
	if Default.Identifier() != "" {
		t.Fatalf("default processor must have empty identifier")
	}
	chain := Append(ResizingProcessor{Width: 10, Height: 5}, BlurProcessor{Radius: 1.5})
	want := "imagehub.resize(10x5)|>imagehub.blur(1.5)"
	if chain.Identifier() != want {
		t.Fatalf("expected %q, got %q", want, chain.Identifier())
	}
	if Append(Default, BlurProcessor{Radius: 2}).Identifier() != "imagehub.blur(2)" {
		t.Fatalf("appending to default should drop the empty identifier")
	}

	parsed, err := ParseProcessor("resize:10x5, blur:1.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Identifier() != want {
		t.Fatalf("parsed identifier mismatch: %q", parsed.Identifier())
	}
	for _, bad := range []string{"resize", "resize:0x0", "blur:-1", "sharpen:3"} {
		if _, err := ParseProcessor(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestResizingProcessor(t *testing.T) {
	img, err := ResizingProcessor{Width: 8, Height: 0}.Process(DataItem(pngBytes(t, 16, 4)), DecodeOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	w, h := img.PixelSize()
	if w != 8 || h != 2 {
		t.Fatalf("expected 8x2, got %dx%d", w, h)
	}
	if _, err := (ResizingProcessor{Width: 8}).Process(DataItem([]byte("nope")), DecodeOptions{}); err == nil {
		t.Fatalf("garbage input should fail")
	}
}

func TestDefaultSerializerKeepsFormat(t *testing.T) {
	var s DefaultSerializer
	original := pngBytes(t, 3, 3)
	img, err := s.Image(original, DecodeOptions{})
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	data, err := s.Data(img, original)
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	if DetectFormat(data) != FormatPNG {
		t.Fatalf("png should stay png")
	}

	webp := &Image{Frames: []image.Image{solid(2, 2, color.Black)}, Format: FormatWebP}
	data, err = s.Data(webp, nil)
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	if DetectFormat(data) != FormatPNG {
		t.Fatalf("webp should fall back to png")
	}

	anim := gifBytes(t, 2)
	gifImg, err := s.Image(anim, DecodeOptions{})
	if err != nil {
		t.Fatalf("gif: %v", err)
	}
	data, err = s.Data(gifImg, anim)
	if err != nil || !bytes.Equal(data, anim) {
		t.Fatalf("animated gif should round-trip its original bytes")
	}
}
