package depth

import (
	"errors"
	"fmt"
	"time"
)

// BitsPerByte converts bits-per-pixel into byte sizes.
const BitsPerByte = 8

// FrameMetadata is an immutable snapshot of one frame's scalar properties.
// It stays valid after the source handle is released.
type FrameMetadata struct {
	Width        int
	Height       int
	Stride       int // bytes per row, may include padding
	BitsPerPixel int
	DataSize     int
	Format       PixelFormat

	Stream      StreamKind
	StreamIndex int
	UniqueID    int
	FrameRate   int

	FrameNumber     uint64
	Timestamp       float64 // device milliseconds in TimestampDomain
	TimestampDomain TimestampDomain
	TimeOfArrival   int64     // device metadata, milliseconds; 0 when unsupported
	ArrivedAt       time.Time // session wall clock at custody
}

// NewFrameMetadata validates m and returns it. It is the only way to build
// metadata outside of ExtractMetadata, e.g. for synthetic frames.
func NewFrameMetadata(m FrameMetadata) (FrameMetadata, error) {
	if err := m.Validate(); err != nil {
		return FrameMetadata{}, err
	}
	return m, nil
}

// Validate checks the size and stride invariants:
//
//	DataSize == Width*Height*BitsPerPixel/8
//	Stride   >= Width*BitsPerPixel/8
func (m FrameMetadata) Validate() error {
	inconsistent := func(reason string) error {
		return &InconsistentError{
			Reason:       reason,
			Width:        m.Width,
			Height:       m.Height,
			Stride:       m.Stride,
			BitsPerPixel: m.BitsPerPixel,
			DataSize:     m.DataSize,
		}
	}
	if m.Width <= 0 || m.Height <= 0 {
		return inconsistent("non-positive dimensions")
	}
	if m.BitsPerPixel <= 0 {
		return inconsistent("non-positive bits per pixel")
	}
	if want := m.Width * m.Height * m.BitsPerPixel / BitsPerByte; m.DataSize != want {
		return inconsistent(fmt.Sprintf("data size %d != width*height*bpp/8 = %d", m.DataSize, want))
	}
	if m.Stride < m.RowBytes() {
		return inconsistent(fmt.Sprintf("stride %d shorter than row of %d bytes", m.Stride, m.RowBytes()))
	}
	return nil
}

// RowBytes is the number of pixel bytes in one row, excluding padding.
func (m FrameMetadata) RowBytes() int {
	return (m.Width*m.BitsPerPixel + BitsPerByte - 1) / BitsPerByte
}

// BytesPerPixel returns the whole-byte pixel size, 0 for packed sub-byte formats.
func (m FrameMetadata) BytesPerPixel() int {
	if m.BitsPerPixel%BitsPerByte != 0 {
		return 0
	}
	return m.BitsPerPixel / BitsPerByte
}

// PlaneSize is the byte size of a Height x Stride raw plane.
func (m FrameMetadata) PlaneSize() int {
	return m.Height * m.Stride
}

// ExtractMetadata queries every scalar property of a live frame. The first
// failing query aborts the extraction; callers never see a partially filled
// struct. The result is validated before it is returned.
func ExtractMetadata(h *FrameHandle) (FrameMetadata, error) {
	var m FrameMetadata
	err := h.with(func(dev Device, ref NativeFrame) error {
		var err error
		if m.FrameNumber, err = dev.FrameNumber(ref); err != nil {
			return queryError("frame_number", err)
		}
		if m.Timestamp, err = dev.FrameTimestamp(ref); err != nil {
			return queryError("timestamp", err)
		}
		if m.TimestampDomain, err = dev.FrameTimestampDomain(ref); err != nil {
			return queryError("timestamp_domain", err)
		}
		if m.TimeOfArrival, err = dev.FrameMetadataValue(ref, MetadataTimeOfArrival); err != nil {
			return queryError("time_of_arrival", err)
		}
		profile, err := dev.FrameProfile(ref)
		if err != nil {
			return queryError("stream_profile", err)
		}
		m.Format = profile.Format
		m.Stream = profile.Kind
		m.StreamIndex = profile.Index
		m.UniqueID = profile.UniqueID
		m.FrameRate = profile.FrameRate
		if m.Width, err = dev.FrameWidth(ref); err != nil {
			return queryError("width", err)
		}
		if m.Height, err = dev.FrameHeight(ref); err != nil {
			return queryError("height", err)
		}
		if m.BitsPerPixel, err = dev.FrameBitsPerPixel(ref); err != nil {
			return queryError("bits_per_pixel", err)
		}
		if m.Stride, err = dev.FrameStride(ref); err != nil {
			return queryError("stride", err)
		}
		if m.DataSize, err = dev.FrameDataSize(ref); err != nil {
			return queryError("data_size", err)
		}
		return nil
	})
	if err != nil {
		return FrameMetadata{}, err
	}
	m.ArrivedAt = h.ArrivedAt()
	if err := m.Validate(); err != nil {
		return FrameMetadata{}, err
	}
	return m, nil
}

// queryError names the failing query on native errors and wraps the rest.
func queryError(op string, err error) error {
	var nerr *NativeError
	if errors.As(err, &nerr) && nerr.Op == "" {
		named := *nerr
		named.Op = op
		return &named
	}
	return fmt.Errorf("query %s: %w", op, err)
}
