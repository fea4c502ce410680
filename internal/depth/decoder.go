package depth

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
)

// DefaultByteOrder is the documented byte order of 16-bit samples on
// RealSense devices. It is a device constant, never inferred from data.
var DefaultByteOrder binary.ByteOrder = binary.LittleEndian

type decodeFunc func(d Decoder, raw []byte, m FrameMetadata) (image.Image, error)

// formatCodec is the one place a pixel format is described. Decode and
// ToDisplayImage both dispatch through formatTable.
type formatCodec struct {
	bitsPerPixel int
	decode       decodeFunc
	// display converts the decoded plane to a display image; nil means no
	// conversion is defined for the format.
	display func(image.Image) image.Image
}

var formatTable = map[PixelFormat]formatCodec{
	FormatRGB8:  {bitsPerPixel: 24, decode: decodeInterleaved(0, 1, 2, 3), display: identity},
	FormatBGR8:  {bitsPerPixel: 24, decode: decodeInterleaved(2, 1, 0, 3), display: identity},
	FormatRGBA8: {bitsPerPixel: 32, decode: decodeInterleaved(0, 1, 2, 4), display: identity},
	FormatBGRA8: {bitsPerPixel: 32, decode: decodeInterleaved(2, 1, 0, 4), display: identity},
	FormatZ16:   {bitsPerPixel: 16, decode: decodeGray16, display: identity},
	FormatY16:   {bitsPerPixel: 16, decode: decodeGray16, display: lumaFromGray16},
	FormatY8:    {bitsPerPixel: 8, decode: decodeGray8, display: identity},
}

// Decoder turns raw frame bytes into typed planes. The zero value decodes
// 16-bit samples in DefaultByteOrder.
type Decoder struct {
	ByteOrder binary.ByteOrder
}

// NewDecoder returns a decoder for 16-bit samples in the given byte order.
func NewDecoder(order binary.ByteOrder) Decoder {
	return Decoder{ByteOrder: order}
}

func (d Decoder) order() binary.ByteOrder {
	if d.ByteOrder == nil {
		return DefaultByteOrder
	}
	return d.ByteOrder
}

// Decode decodes raw with the default decoder.
func Decode(raw []byte, m FrameMetadata) (image.Image, error) {
	return Decoder{}.Decode(raw, m)
}

// Decode produces a typed plane for m.Format:
//
//	RGB8, BGR8, RGBA8, BGRA8 -> *RGB
//	Z16, Y16                 -> *image.Gray16 (full 16-bit samples)
//	Y8                       -> *image.Gray
//
// Byte offsets are always row*Stride + col*bytesPerPixel. Any other format
// fails with ErrUnsupportedFormat.
func (d Decoder) Decode(raw []byte, m FrameMetadata) (image.Image, error) {
	codec, ok := formatTable[m.Format]
	if !ok {
		return nil, &UnsupportedFormatError{Format: m.Format}
	}
	if err := codec.check(m); err != nil {
		return nil, err
	}
	return codec.decode(d, raw, m)
}

// check validates m and its bit depth against the codec.
func (c formatCodec) check(m FrameMetadata) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.BitsPerPixel != c.bitsPerPixel {
		return &InconsistentError{
			Reason:       fmt.Sprintf("%s expects %d bits per pixel", m.Format, c.bitsPerPixel),
			Width:        m.Width,
			Height:       m.Height,
			Stride:       m.Stride,
			BitsPerPixel: m.BitsPerPixel,
			DataSize:     m.DataSize,
		}
	}
	return nil
}

// rowSpan returns the pixel bytes of one row, bounds-checked against the
// stride and the buffer length.
func rowSpan(raw []byte, m FrameMetadata, row int) ([]byte, error) {
	start := row * m.Stride
	end := start + m.RowBytes()
	if row < 0 || row >= m.Height || m.RowBytes() > m.Stride || start < 0 || end > len(raw) {
		return nil, &OutOfBoundsError{Row: row, Offset: start, End: end, Len: len(raw)}
	}
	return raw[start:end], nil
}

// decodeInterleaved builds a decoder for 8-bit interleaved color with the
// given channel offsets and channel count.
func decodeInterleaved(r, g, b, channels int) decodeFunc {
	direct := channels == 3 && r == 0 && g == 1 && b == 2
	return func(_ Decoder, raw []byte, m FrameMetadata) (image.Image, error) {
		img := NewRGB(image.Rect(0, 0, m.Width, m.Height))
		for y := 0; y < m.Height; y++ {
			row, err := rowSpan(raw, m, y)
			if err != nil {
				return nil, err
			}
			dst := img.Pix[y*img.Stride : (y+1)*img.Stride]
			if direct {
				copy(dst, row)
				continue
			}
			for x := 0; x < m.Width; x++ {
				px := row[x*channels : (x+1)*channels]
				dst[3*x], dst[3*x+1], dst[3*x+2] = px[r], px[g], px[b]
			}
		}
		return img, nil
	}
}

func decodeGray16(d Decoder, raw []byte, m FrameMetadata) (image.Image, error) {
	order := d.order()
	img := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		row, err := rowSpan(raw, m, y)
		if err != nil {
			return nil, err
		}
		for x := 0; x < m.Width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: order.Uint16(row[2*x : 2*x+2])})
		}
	}
	return img, nil
}

func decodeGray8(_ Decoder, raw []byte, m FrameMetadata) (image.Image, error) {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		row, err := rowSpan(raw, m, y)
		if err != nil {
			return nil, err
		}
		copy(img.Pix[y*img.Stride:(y+1)*img.Stride], row)
	}
	return img, nil
}

func identity(img image.Image) image.Image { return img }

// lumaFromGray16 keeps the high byte of each sample. It is a lossy
// visualisation step, never the canonical decode.
func lumaFromGray16(img image.Image) image.Image {
	src, ok := img.(*image.Gray16)
	if !ok {
		return nil
	}
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.SetGray(x, y, color.Gray{Y: uint8(src.Gray16At(x, y).Y >> 8)})
		}
	}
	return dst
}
