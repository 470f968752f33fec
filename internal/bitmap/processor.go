package bitmap

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// Item 是处理器的输入：原始字节或已解码位图，二者取其一。
type Item struct {
	Data  []byte
	Image *Image
}

func DataItem(data []byte) Item { return Item{Data: data} }

func ImageItem(img *Image) Item { return Item{Image: img} }

// Processor 把输入转换为位图。Identifier 参与缓存键计算，
// 相同标识必须产出相同结果；默认处理器的标识为空串。
type Processor interface {
	Identifier() string
	Process(item Item, opts DecodeOptions) (*Image, error)
}

// DefaultProcessor 只做解码。
type DefaultProcessor struct{}

func (DefaultProcessor) Identifier() string { return "" }

func (DefaultProcessor) Process(item Item, opts DecodeOptions) (*Image, error) {
	if item.Image != nil {
		return item.Image, nil
	}
	return Decode(item.Data, opts)
}

// Default is the processor used when a request names none.
var Default Processor = DefaultProcessor{}

// ResizingProcessor 把每一帧缩放到固定像素尺寸，某一边为 0 时按比例计算。
type ResizingProcessor struct {
	Width  int
	Height int
}

func (p ResizingProcessor) Identifier() string {
	return fmt.Sprintf("imagehub.resize(%dx%d)", p.Width, p.Height)
}

func (p ResizingProcessor) Process(item Item, opts DecodeOptions) (*Image, error) {
	base, err := Default.Process(item, opts)
	if err != nil {
		return nil, err
	}
	return mapFrames(base, func(frame image.Image) image.Image {
		return imaging.Resize(frame, p.Width, p.Height, imaging.Lanczos)
	}), nil
}

// BlurProcessor 对每一帧做高斯模糊。
type BlurProcessor struct {
	Radius float64
}

func (p BlurProcessor) Identifier() string {
	return "imagehub.blur(" + strconv.FormatFloat(p.Radius, 'f', -1, 64) + ")"
}

func (p BlurProcessor) Process(item Item, opts DecodeOptions) (*Image, error) {
	base, err := Default.Process(item, opts)
	if err != nil {
		return nil, err
	}
	return mapFrames(base, func(frame image.Image) image.Image {
		return imaging.Blur(frame, p.Radius)
	}), nil
}

type chainProcessor struct {
	first  Processor
	second Processor
}

// Append 串联两个处理器，标识为二者以 "|>" 连接。
func Append(first, second Processor) Processor {
	switch {
	case first == nil || first.Identifier() == "":
		return second
	case second == nil || second.Identifier() == "":
		return first
	}
	return chainProcessor{first: first, second: second}
}

func (c chainProcessor) Identifier() string {
	return c.first.Identifier() + "|>" + c.second.Identifier()
}

func (c chainProcessor) Process(item Item, opts DecodeOptions) (*Image, error) {
	img, err := c.first.Process(item, opts)
	if err != nil {
		return nil, err
	}
	return c.second.Process(ImageItem(img), opts)
}

// ParseProcessor 解析 "resize:100x80,blur:2" 形式的描述，空串返回默认处理器。
func ParseProcessor(chain string) (Processor, error) {
	chain = strings.TrimSpace(chain)
	if chain == "" {
		return Default, nil
	}
	var out Processor = Default
	for _, part := range strings.Split(chain, ",") {
		name, arg, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("processor %q: missing argument", part)
		}
		var next Processor
		switch strings.ToLower(name) {
		case "resize":
			ws, hs, found := strings.Cut(arg, "x")
			if !found {
				return nil, fmt.Errorf("processor %q: expected WIDTHxHEIGHT", part)
			}
			w, errW := strconv.Atoi(ws)
			h, errH := strconv.Atoi(hs)
			if errW != nil || errH != nil || w < 0 || h < 0 || (w == 0 && h == 0) {
				return nil, fmt.Errorf("processor %q: invalid size", part)
			}
			next = ResizingProcessor{Width: w, Height: h}
		case "blur":
			r, err := strconv.ParseFloat(arg, 64)
			if err != nil || r <= 0 {
				return nil, fmt.Errorf("processor %q: invalid radius", part)
			}
			next = BlurProcessor{Radius: r}
		default:
			return nil, errors.New("unknown processor " + strconv.Quote(name))
		}
		out = Append(out, next)
	}
	return out, nil
}

func mapFrames(img *Image, fn func(image.Image) image.Image) *Image {
	frames := make([]image.Image, len(img.Frames))
	for i, frame := range img.Frames {
		frames[i] = fn(frame)
	}
	return img.withFrames(frames)
}
