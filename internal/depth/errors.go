package depth

import (
	"errors"
	"fmt"
)

var (
	// ErrInconsistent marks frame metadata whose size, stride and bit depth
	// do not agree. Such frames are discarded rather than decoded.
	ErrInconsistent = errors.New("frame metadata inconsistent")

	// ErrUnsupportedFormat is returned when no codec exists for a pixel format.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")

	// ErrOutOfBounds reports a pixel read outside the row pitch or buffer.
	// Metadata validation should make this unreachable, so it is never
	// treated as frame-level: a session that sees it stops.
	ErrOutOfBounds = errors.New("pixel access out of bounds")

	// ErrWaitFailed marks a failed bundle wait other than a timeout, such
	// as a disconnected device. It ends the session.
	ErrWaitFailed = errors.New("wait for frames failed")

	// ErrTimeout is returned when no frame bundle arrives within the wait timeout.
	ErrTimeout = errors.New("timed out waiting for frames")

	// ErrReleased is returned by any operation on a handle after release.
	ErrReleased = errors.New("frame handle already released")

	// ErrBufferClosed is returned by Push after the buffer was torn down.
	ErrBufferClosed = errors.New("frame buffer closed")

	// ErrNoFrame is returned when the buffer holds no usable frame.
	ErrNoFrame = errors.New("no frame available")
)

// NativeError is a failure reported by the streaming subsystem through its
// error slot. Type carries the subsystem's exception-type code.
type NativeError struct {
	Op      string
	Type    uint32
	Message string
}

func (e *NativeError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("native error (type %d): %s", e.Type, e.Message)
	}
	return fmt.Sprintf("native error in %s (type %d): %s", e.Op, e.Type, e.Message)
}

// InconsistentError carries the values that broke a metadata invariant.
type InconsistentError struct {
	Reason       string
	Width        int
	Height       int
	Stride       int
	BitsPerPixel int
	DataSize     int
}

func (e *InconsistentError) Error() string {
	return fmt.Sprintf("%v: %s (width=%d height=%d stride=%d bpp=%d data_size=%d)",
		ErrInconsistent, e.Reason, e.Width, e.Height, e.Stride, e.BitsPerPixel, e.DataSize)
}

func (e *InconsistentError) Is(target error) bool { return target == ErrInconsistent }

// UnsupportedFormatError names the format that has no codec.
type UnsupportedFormatError struct {
	Format PixelFormat
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnsupportedFormat, e.Format)
}

func (e *UnsupportedFormatError) Is(target error) bool { return target == ErrUnsupportedFormat }

// OutOfBoundsError describes the offending row access.
type OutOfBoundsError struct {
	Row    int
	Offset int
	End    int
	Len    int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("%v: row %d spans [%d,%d) of %d bytes", ErrOutOfBounds, e.Row, e.Offset, e.End, e.Len)
}

func (e *OutOfBoundsError) Is(target error) bool { return target == ErrOutOfBounds }

// IsFrameLevel reports whether err only invalidates one frame, leaving the
// stream session usable. Failed waits and out-of-bounds reads never are.
func IsFrameLevel(err error) bool {
	if errors.Is(err, ErrWaitFailed) || errors.Is(err, ErrOutOfBounds) {
		return false
	}
	var nerr *NativeError
	return errors.Is(err, ErrInconsistent) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrReleased) ||
		errors.As(err, &nerr)
}
