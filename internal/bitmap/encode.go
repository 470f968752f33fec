package bitmap

import (
	"bytes"
	"errors"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
)

const jpegQuality = 100

// Encode 以指定格式编码 Image。WebP 与未知格式退回 PNG。
func Encode(img *Image, format Format) ([]byte, error) {
	if img == nil || len(img.Frames) == 0 {
		return nil, errors.New("bitmap: nothing to encode")
	}
	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img.First(), &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, err
		}
	case FormatGIF:
		if len(img.AnimatedData) > 0 {
			return append([]byte(nil), img.AnimatedData...), nil
		}
		if err := gif.EncodeAll(&buf, toGIF(img)); err != nil {
			return nil, err
		}
	default:
		if err := png.Encode(&buf, img.First()); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func toGIF(img *Image) *gif.GIF {
	out := &gif.GIF{LoopCount: img.LoopCount}
	for idx, frame := range img.Frames {
		paletted, ok := frame.(*image.Paletted)
		if !ok {
			b := frame.Bounds()
			paletted = image.NewPaletted(b, palette.Plan9)
			draw.FloydSteinberg.Draw(paletted, b, frame, b.Min)
		}
		out.Image = append(out.Image, paletted)
		delay := 0
		if idx < len(img.Delays) {
			delay = img.Delays[idx]
		}
		out.Delay = append(out.Delay, delay)
	}
	return out
}
