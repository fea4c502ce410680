// Package testutil provides shared test helpers and depth frame fixtures.
package testutil

import (
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banshee-data/depthcam/internal/depth"
)

// FixtureArrival is the arrival time stamped on fixture frames.
var FixtureArrival = time.Unix(1700000000, 0).UTC()

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// DepthFrame builds a little-endian Z16 depth frame of w x h samples.
// sample is called for every pixel; padding bytes are appended to each row.
func DepthFrame(t *testing.T, number uint64, w, h, padding int, sample func(x, y int) uint16) depth.ImageData {
	t.Helper()
	stride := w*2 + padding
	raw := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			binary.LittleEndian.PutUint16(raw[y*stride+x*2:], sample(x, y))
		}
	}
	meta, err := depth.NewFrameMetadata(depth.FrameMetadata{
		Width:         w,
		Height:        h,
		Stride:        stride,
		BitsPerPixel:  16,
		DataSize:      w * h * 2,
		Format:        depth.FormatZ16,
		Stream:        depth.StreamDepth,
		FrameRate:     30,
		FrameNumber:   number,
		Timestamp:     float64(number) * 33.3,
		ArrivedAt:     FixtureArrival,
		TimeOfArrival: FixtureArrival.UnixMilli(),
	})
	AssertNoError(t, err)
	data, err := depth.NewImageData(meta, raw)
	AssertNoError(t, err)
	return data
}

// FlatDepthFrame is a DepthFrame with every sample set to d.
func FlatDepthFrame(t *testing.T, number uint64, w, h int, d uint16) depth.ImageData {
	t.Helper()
	return DepthFrame(t, number, w, h, 0, func(int, int) uint16 { return d })
}

// ColorFrame builds an RGB8 color frame whose pixels come from pixel.
func ColorFrame(t *testing.T, number uint64, w, h int, pixel func(x, y int) (r, g, b uint8)) depth.ImageData {
	t.Helper()
	stride := w * 3
	raw := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := pixel(x, y)
			copy(raw[y*stride+x*3:], []byte{r, g, b})
		}
	}
	meta, err := depth.NewFrameMetadata(depth.FrameMetadata{
		Width:        w,
		Height:       h,
		Stride:       stride,
		BitsPerPixel: 24,
		DataSize:     w * h * 3,
		Format:       depth.FormatRGB8,
		Stream:       depth.StreamColor,
		FrameRate:    30,
		FrameNumber:  number,
		Timestamp:    float64(number) * 33.3,
		ArrivedAt:    FixtureArrival,
	})
	AssertNoError(t, err)
	data, err := depth.NewImageData(meta, raw)
	AssertNoError(t, err)
	return data
}

// Intrinsics returns a centred pinhole calibration for a w x h sensor.
func Intrinsics(w, h int) depth.Intrinsics {
	return depth.Intrinsics{
		Width:  w,
		Height: h,
		Ppx:    float64(w) / 2,
		Ppy:    float64(h) / 2,
		Fx:     float64(w),
		Fy:     float64(w),
	}
}
