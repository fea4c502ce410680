package depth

import (
	"context"
	"time"
)

// Bundle is an opaque reference to a composite frame set produced by one
// wait call. It must be returned to the device with ReleaseBundle.
type Bundle any

// NativeFrame is an opaque reference to one device frame. Only FrameHandle
// holds these outside of Device implementations.
type NativeFrame any

// MetadataKey selects a per-frame metadata attribute (rs2_frame_metadata_value).
type MetadataKey int32

const (
	MetadataFrameCounter    MetadataKey = 0
	MetadataFrameTimestamp  MetadataKey = 1
	MetadataSensorTimestamp MetadataKey = 2
	MetadataActualExposure  MetadataKey = 3
	MetadataTimeOfArrival   MetadataKey = 10
)

// Device is the upstream streaming subsystem. Every call reports failure as
// an error; implementations translate any out-of-band error slot into a
// *NativeError before returning. WaitForFrames returns an error matching
// ErrTimeout when the timeout elapses without a bundle.
type Device interface {
	WaitForFrames(ctx context.Context, timeout time.Duration) (Bundle, error)
	FrameCount(b Bundle) (int, error)
	ExtractFrame(b Bundle, index int) (NativeFrame, error)
	ReleaseBundle(b Bundle) error
	ReleaseFrame(f NativeFrame) error

	FrameWidth(f NativeFrame) (int, error)
	FrameHeight(f NativeFrame) (int, error)
	FrameStride(f NativeFrame) (int, error)
	FrameBitsPerPixel(f NativeFrame) (int, error)
	FrameDataSize(f NativeFrame) (int, error)
	FrameNumber(f NativeFrame) (uint64, error)
	FrameTimestamp(f NativeFrame) (float64, error)
	FrameTimestampDomain(f NativeFrame) (TimestampDomain, error)
	FrameMetadataValue(f NativeFrame, key MetadataKey) (int64, error)
	FrameProfile(f NativeFrame) (StreamProfile, error)

	// FrameData returns the frame's pixel bytes. The slice may alias device
	// memory and is only valid until the frame is released.
	FrameData(f NativeFrame) ([]byte, error)
}
