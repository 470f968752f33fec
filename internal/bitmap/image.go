package bitmap

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"
)

var (
	ErrEmptyData         = errors.New("bitmap: empty image data")
	ErrUnsupportedFormat = errors.New("bitmap: unsupported image format")
)

// Image 是解码后的位图。动图保留所有帧、帧间隔（单位 1/100 秒）与原始字节。
type Image struct {
	Frames       []image.Image
	Delays       []int
	LoopCount    int
	Scale        float64
	Format       Format
	AnimatedData []byte

	decoded bool
}

// DecodeOptions 控制字节到位图的转换。
type DecodeOptions struct {
	Scale          float64
	OnlyFirstFrame bool
}

func (o DecodeOptions) scale() float64 {
	if o.Scale <= 0 {
		return 1
	}
	return o.Scale
}

// New 用单帧位图构造 Image。
func New(img image.Image, scale float64) *Image {
	if scale <= 0 {
		scale = 1
	}
	return &Image{Frames: []image.Image{img}, Scale: scale}
}

// Decode 把原始字节解码为 Image，格式由魔数决定。
func Decode(data []byte, opts DecodeOptions) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	format := DetectFormat(data)
	switch format {
	case FormatGIF:
		return decodeGIF(data, opts)
	case FormatWebP:
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode webp: %w", err)
		}
		return &Image{Frames: []image.Image{img}, Scale: opts.scale(), Format: FormatWebP}, nil
	case FormatPNG, FormatJPEG:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", format, err)
		}
		return &Image{Frames: []image.Image{img}, Scale: opts.scale(), Format: format}, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

func decodeGIF(data []byte, opts DecodeOptions) (*Image, error) {
	if opts.OnlyFirstFrame {
		img, err := gif.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode gif: %w", err)
		}
		return &Image{Frames: []image.Image{img}, Scale: opts.scale(), Format: FormatGIF}, nil
	}
	all, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode gif: %w", err)
	}
	if len(all.Image) == 0 {
		return nil, ErrUnsupportedFormat
	}
	frames := make([]image.Image, len(all.Image))
	for i, frame := range all.Image {
		frames[i] = frame
	}
	out := &Image{
		Frames:    frames,
		Delays:    append([]int(nil), all.Delay...),
		LoopCount: all.LoopCount,
		Scale:     opts.scale(),
		Format:    FormatGIF,
	}
	if len(frames) > 1 {
		out.AnimatedData = data
	}
	return out, nil
}

// First 返回首帧，空 Image 返回 nil。
func (i *Image) First() image.Image {
	if i == nil || len(i.Frames) == 0 {
		return nil
	}
	return i.Frames[0]
}

// PixelSize 返回首帧的像素尺寸。
func (i *Image) PixelSize() (int, int) {
	first := i.First()
	if first == nil {
		return 0, 0
	}
	b := first.Bounds()
	return b.Dx(), b.Dy()
}

// Size 返回逻辑尺寸（像素尺寸除以 Scale）。
func (i *Image) Size() (float64, float64) {
	w, h := i.PixelSize()
	scale := i.scale()
	return float64(w) / scale, float64(h) / scale
}

func (i *Image) IsAnimated() bool {
	return i != nil && len(i.Frames) > 1
}

// Cost 是内存缓存计费用的近似像素数：宽 × 高 × scale² × 帧数。
func (i *Image) Cost() int64 {
	if i == nil || len(i.Frames) == 0 {
		return 0
	}
	w, h := i.Size()
	scale := i.scale()
	pixel := w * h * scale * scale
	return int64(pixel) * int64(len(i.Frames))
}

// IsDecoded 表示帧已经被强制展开为 NRGBA。
func (i *Image) IsDecoded() bool {
	return i != nil && i.decoded
}

// Decoded 返回所有帧都已渲染为 NRGBA 的副本，避免首次绘制时再解码。
func (i *Image) Decoded() *Image {
	if i == nil || i.decoded {
		return i
	}
	frames := make([]image.Image, len(i.Frames))
	for idx, frame := range i.Frames {
		frames[idx] = imaging.Clone(frame)
	}
	return &Image{
		Frames:       frames,
		Delays:       append([]int(nil), i.Delays...),
		LoopCount:    i.LoopCount,
		Scale:        i.Scale,
		Format:       i.Format,
		AnimatedData: i.AnimatedData,
		decoded:      true,
	}
}

func (i *Image) withFrames(frames []image.Image) *Image {
	return &Image{
		Frames:    frames,
		Delays:    append([]int(nil), i.Delays...),
		LoopCount: i.LoopCount,
		Scale:     i.Scale,
		Format:    i.Format,
	}
}

func (i *Image) scale() float64 {
	if i == nil || i.Scale <= 0 {
		return 1
	}
	return i.Scale
}
