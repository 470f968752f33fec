package bitmap

// Serializer 负责位图与磁盘字节之间的转换。
type Serializer interface {
	// Data 编码位图；original 为下载得到的原始字节，可能为空。
	Data(img *Image, original []byte) ([]byte, error)
	// Image 从磁盘字节还原位图。
	Image(data []byte, opts DecodeOptions) (*Image, error)
}

// DefaultSerializer 按原始字节的格式重新编码：PNG、JPEG、GIF 保持原格式，
// 其余一律写成 PNG。原始字节缺失时参考位图自身记录的格式。
type DefaultSerializer struct{}

func (DefaultSerializer) Data(img *Image, original []byte) ([]byte, error) {
	format := DetectFormat(original)
	if format == FormatUnknown && img != nil {
		format = img.Format
	}
	if format == FormatWebP {
		format = FormatPNG
	}
	return Encode(img, format)
}

func (DefaultSerializer) Image(data []byte, opts DecodeOptions) (*Image, error) {
	return Decode(data, opts)
}
