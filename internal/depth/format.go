package depth

import "fmt"

// PixelFormat identifies how a frame's raw bytes encode pixels. Values match
// the librealsense rs2_format enumeration so adapters can convert with a cast.
type PixelFormat int32

const (
	FormatAny PixelFormat = iota
	FormatZ16
	FormatDisparity16
	FormatXYZ32F
	FormatYUYV
	FormatRGB8
	FormatBGR8
	FormatRGBA8
	FormatBGRA8
	FormatY8
	FormatY16
	FormatRAW10
	FormatRAW16
	FormatRAW8
	FormatUYVY
	FormatMotionRaw
	FormatMotionXYZ32F
	FormatGPIORaw
	Format6DOF
	FormatDisparity32
	FormatY10BPack
	FormatDistance
	FormatMJPEG
	FormatY8I
	FormatY12I
	FormatINZI
	FormatINVI
	FormatW10
	FormatZ16H
	FormatFG
	FormatY411
	FormatY16I
	formatCount
)

var formatNames = [...]string{
	FormatAny:          "ANY",
	FormatZ16:          "Z16",
	FormatDisparity16:  "DISPARITY16",
	FormatXYZ32F:       "XYZ32F",
	FormatYUYV:         "YUYV",
	FormatRGB8:         "RGB8",
	FormatBGR8:         "BGR8",
	FormatRGBA8:        "RGBA8",
	FormatBGRA8:        "BGRA8",
	FormatY8:           "Y8",
	FormatY16:          "Y16",
	FormatRAW10:        "RAW10",
	FormatRAW16:        "RAW16",
	FormatRAW8:         "RAW8",
	FormatUYVY:         "UYVY",
	FormatMotionRaw:    "MOTION_RAW",
	FormatMotionXYZ32F: "MOTION_XYZ32F",
	FormatGPIORaw:      "GPIO_RAW",
	Format6DOF:         "6DOF",
	FormatDisparity32:  "DISPARITY32",
	FormatY10BPack:     "Y10BPACK",
	FormatDistance:     "DISTANCE",
	FormatMJPEG:        "MJPEG",
	FormatY8I:          "Y8I",
	FormatY12I:         "Y12I",
	FormatINZI:         "INZI",
	FormatINVI:         "INVI",
	FormatW10:          "W10",
	FormatZ16H:         "Z16H",
	FormatFG:           "FG",
	FormatY411:         "Y411",
	FormatY16I:         "Y16I",
}

func (f PixelFormat) String() string {
	if f >= 0 && f < formatCount {
		return formatNames[f]
	}
	return fmt.Sprintf("FORMAT(%d)", int32(f))
}

// ParsePixelFormat maps a format name such as "Z16" back to its tag.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for i, name := range formatNames {
		if name == s {
			return PixelFormat(i), nil
		}
	}
	return FormatAny, fmt.Errorf("unknown pixel format %q", s)
}

// Decodable reports whether Decode has a codec for the format.
func (f PixelFormat) Decodable() bool {
	_, ok := formatTable[f]
	return ok
}

// StreamKind identifies the sensor stream a frame belongs to (rs2_stream).
type StreamKind int32

const (
	StreamAny StreamKind = iota
	StreamDepth
	StreamColor
	StreamInfrared
	StreamFisheye
	StreamGyro
	StreamAccel
	StreamGPIO
	StreamPose
	StreamConfidence
	streamCount
)

var streamNames = [...]string{
	StreamAny:        "any",
	StreamDepth:      "depth",
	StreamColor:      "color",
	StreamInfrared:   "infrared",
	StreamFisheye:    "fisheye",
	StreamGyro:       "gyro",
	StreamAccel:      "accel",
	StreamGPIO:       "gpio",
	StreamPose:       "pose",
	StreamConfidence: "confidence",
}

func (k StreamKind) String() string {
	if k >= 0 && k < streamCount {
		return streamNames[k]
	}
	return fmt.Sprintf("stream(%d)", int32(k))
}

// ParseStreamKind maps a stream name such as "depth" back to its tag.
func ParseStreamKind(s string) (StreamKind, error) {
	for i, name := range streamNames {
		if name == s {
			return StreamKind(i), nil
		}
	}
	return StreamAny, fmt.Errorf("unknown stream kind %q", s)
}

// TimestampDomain says which clock produced a frame timestamp.
type TimestampDomain int32

const (
	DomainHardwareClock TimestampDomain = iota
	DomainSystemTime
	DomainGlobalTime
)

func (d TimestampDomain) String() string {
	switch d {
	case DomainHardwareClock:
		return "Hardware Clock"
	case DomainSystemTime:
		return "System Time"
	case DomainGlobalTime:
		return "Global Time"
	default:
		return fmt.Sprintf("domain(%d)", int32(d))
	}
}

// StreamProfile is the per-frame stream description reported by the device.
type StreamProfile struct {
	Kind      StreamKind
	Format    PixelFormat
	Index     int
	UniqueID  int
	FrameRate int
}
