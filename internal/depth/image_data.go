package depth

import (
	"encoding/binary"
	"fmt"
	"image"
)

// RawPlane is a copied frame buffer indexed [row][byte-within-row]. Cols is
// the stride, not the width, so row padding survives for offset arithmetic.
type RawPlane struct {
	Rows int
	Cols int
	Pix  []byte
}

// NewRawPlane allocates a zeroed rows x cols plane.
func NewRawPlane(rows, cols int) RawPlane {
	return RawPlane{Rows: rows, Cols: cols, Pix: make([]byte, rows*cols)}
}

// Row returns the bytes of row r including padding.
func (p RawPlane) Row(r int) []byte {
	return p.Pix[r*p.Cols : (r+1)*p.Cols]
}

// At returns the byte at [row][col].
func (p RawPlane) At(row, col int) byte {
	return p.Pix[row*p.Cols+col]
}

// ImageData pairs frame metadata with a copy of its raw plane. It does not
// reference device memory and outlives the frame it was copied from.
// ByteOrder is the order of 16-bit samples; nil means DefaultByteOrder.
type ImageData struct {
	Meta      FrameMetadata
	Raw       RawPlane
	ByteOrder binary.ByteOrder
}

// NewImageData copies raw into a Meta.Height x Meta.Stride plane. The last
// row may be unpadded in the source buffer; any missing padding bytes are
// left zero. A buffer too short to hold every pixel is ErrInconsistent.
func NewImageData(meta FrameMetadata, raw []byte) (ImageData, error) {
	if err := meta.Validate(); err != nil {
		return ImageData{}, err
	}
	need := (meta.Height-1)*meta.Stride + meta.RowBytes()
	if len(raw) < need {
		return ImageData{}, &InconsistentError{
			Reason:       fmt.Sprintf("frame buffer holds %d bytes, pixels need %d", len(raw), need),
			Width:        meta.Width,
			Height:       meta.Height,
			Stride:       meta.Stride,
			BitsPerPixel: meta.BitsPerPixel,
			DataSize:     meta.DataSize,
		}
	}
	plane := NewRawPlane(meta.Height, meta.Stride)
	copy(plane.Pix, raw)
	return ImageData{Meta: meta, Raw: plane}, nil
}

// CopyImageData extracts metadata and copies the pixel bytes of a live
// handle. The handle stays owned by the caller.
func CopyImageData(h *FrameHandle) (ImageData, error) {
	meta, err := ExtractMetadata(h)
	if err != nil {
		return ImageData{}, err
	}
	var data ImageData
	err = h.with(func(dev Device, ref NativeFrame) error {
		raw, err := dev.FrameData(ref)
		if err != nil {
			return queryError("data", err)
		}
		data, err = NewImageData(meta, raw)
		return err
	})
	if err != nil {
		return ImageData{}, err
	}
	return data, nil
}

// Decoder returns the decoder matching the frame's byte order.
func (d ImageData) Decoder() Decoder {
	return NewDecoder(d.ByteOrder)
}

// Decode decodes the raw plane in the frame's byte order.
func (d ImageData) Decode() (image.Image, error) {
	return d.Decoder().Decode(d.Raw.Pix, d.Meta)
}

// DecodeWith decodes the raw plane with dec.
func (d ImageData) DecodeWith(dec Decoder) (image.Image, error) {
	return dec.Decode(d.Raw.Pix, d.Meta)
}

// ToDisplayImage converts the frame to a display image: color formats to
// *RGB, Z16 to *image.Gray16, Y16 and Y8 to *image.Gray. It returns false
// when the format has no conversion or the frame fails to decode.
func (d ImageData) ToDisplayImage() (image.Image, bool) {
	codec, ok := formatTable[d.Meta.Format]
	if !ok || codec.display == nil {
		return nil, false
	}
	img, err := d.Decode()
	if err != nil {
		Opsf("display conversion of frame %d (%s) failed: %v", d.Meta.FrameNumber, d.Meta.Format, err)
		return nil, false
	}
	out := codec.display(img)
	return out, out != nil
}

// Pixel is one sample in a format-neutral form. K is an 8-bit intensity,
// V keeps the full 16-bit sample for 16-bit formats.
type Pixel struct {
	K, R, G, B, A uint8
	V             uint16
}

// PixelAt reads the pixel at (row, col) straight from the raw plane.
func (d ImageData) PixelAt(row, col int) (Pixel, error) {
	m := d.Meta
	codec, ok := formatTable[m.Format]
	if !ok {
		return Pixel{}, &UnsupportedFormatError{Format: m.Format}
	}
	if err := codec.check(m); err != nil {
		return Pixel{}, err
	}
	if col < 0 || col >= m.Width {
		return Pixel{}, &OutOfBoundsError{Row: row, Offset: col, End: col + 1, Len: m.Width}
	}
	line, err := rowSpan(d.Raw.Pix, m, row)
	if err != nil {
		return Pixel{}, err
	}
	switch m.Format {
	case FormatRGB8, FormatRGBA8:
		n := m.BytesPerPixel()
		return pixelFromRGB(line[col*n], line[col*n+1], line[col*n+2]), nil
	case FormatBGR8, FormatBGRA8:
		n := m.BytesPerPixel()
		return pixelFromRGB(line[col*n+2], line[col*n+1], line[col*n]), nil
	case FormatZ16, FormatY16:
		v := d.Decoder().order().Uint16(line[2*col : 2*col+2])
		return Pixel{K: uint8(v >> 8), V: v, A: 0xff}, nil
	default:
		v := line[col]
		return Pixel{K: v, V: uint16(v), A: 0xff}, nil
	}
}

func pixelFromRGB(r, g, b uint8) Pixel {
	return Pixel{
		K: uint8((uint16(r) + uint16(g) + uint16(b)) / 3),
		R: r,
		G: g,
		B: b,
		A: 0xff,
	}
}
