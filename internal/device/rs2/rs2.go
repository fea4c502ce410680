//go:build realsense

// Package rs2 adapts librealsense2 to depth.Device. Every C call passes an
// error slot; a non-nil slot is converted to *depth.NativeError and freed
// before the call returns.
package rs2

/*
#cgo LDFLAGS: -lrealsense2
#include <stdlib.h>
#include <librealsense2/rs.h>
#include <librealsense2/h/rs_pipeline.h>
#include <librealsense2/h/rs_config.h>
#include <librealsense2/h/rs_frame.h>
#include <librealsense2/h/rs_sensor.h>

static int depthcam_api_version(void) { return RS2_API_VERSION; }
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/banshee-data/depthcam/internal/depth"
)

// Config selects the stream enabled on the pipeline.
type Config struct {
	Stream      depth.StreamKind
	Format      depth.PixelFormat
	StreamIndex int
	Width       int
	Height      int
	FrameRate   int
}

// Device owns a librealsense context, pipeline and running profile.
type Device struct {
	mu       sync.Mutex
	ctx      *C.rs2_context
	pipe     *C.rs2_pipeline
	cfg      *C.rs2_config
	profile  *C.rs2_pipeline_profile
	settings Config
	closed   bool
}

type frameRef struct{ f *C.rs2_frame }

// check converts an error slot into a NativeError and frees it.
func check(op string, e *C.rs2_error) error {
	if e == nil {
		return nil
	}
	defer C.rs2_free_error(e)
	fn := C.GoString(C.rs2_get_failed_function(e))
	if fn != "" {
		op = op + " (" + fn + ")"
	}
	return &depth.NativeError{
		Op:      op,
		Type:    uint32(C.rs2_get_librealsense_exception_type(e)),
		Message: C.GoString(C.rs2_get_error_message(e)),
	}
}

// Open creates a context, enables the configured stream and starts the
// pipeline.
func Open(cfg Config) (*Device, error) {
	d := &Device{settings: cfg}
	var e *C.rs2_error

	d.ctx = C.rs2_create_context(C.depthcam_api_version(), &e)
	if err := check("create_context", e); err != nil {
		return nil, err
	}
	d.pipe = C.rs2_create_pipeline(d.ctx, &e)
	if err := check("create_pipeline", e); err != nil {
		d.Close()
		return nil, err
	}
	d.cfg = C.rs2_create_config(&e)
	if err := check("create_config", e); err != nil {
		d.Close()
		return nil, err
	}
	C.rs2_config_enable_stream(d.cfg,
		C.rs2_stream(cfg.Stream), C.int(cfg.StreamIndex),
		C.int(cfg.Width), C.int(cfg.Height),
		C.rs2_format(cfg.Format), C.int(cfg.FrameRate), &e)
	if err := check("config_enable_stream", e); err != nil {
		d.Close()
		return nil, err
	}
	d.profile = C.rs2_pipeline_start_with_config(d.pipe, d.cfg, &e)
	if err := check("pipeline_start", e); err != nil {
		d.Close()
		return nil, err
	}
	depth.Opsf("rs2: streaming %s %s %dx%d@%d", cfg.Stream, cfg.Format, cfg.Width, cfg.Height, cfg.FrameRate)
	return d, nil
}

// Close stops the pipeline and frees every native object. It is safe to
// call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var err error
	if d.profile != nil {
		var e *C.rs2_error
		C.rs2_pipeline_stop(d.pipe, &e)
		err = check("pipeline_stop", e)
		C.rs2_delete_pipeline_profile(d.profile)
	}
	if d.cfg != nil {
		C.rs2_delete_config(d.cfg)
	}
	if d.pipe != nil {
		C.rs2_delete_pipeline(d.pipe)
	}
	if d.ctx != nil {
		C.rs2_delete_context(d.ctx)
	}
	return err
}

// Intrinsics reads the calibration of the enabled video stream.
func (d *Device) Intrinsics() (depth.Intrinsics, error) {
	var e *C.rs2_error
	list := C.rs2_pipeline_profile_get_streams(d.profile, &e)
	if err := check("profile_get_streams", e); err != nil {
		return depth.Intrinsics{}, err
	}
	defer C.rs2_delete_stream_profiles_list(list)

	n := C.rs2_get_stream_profiles_count(list, &e)
	if err := check("get_stream_profiles_count", e); err != nil {
		return depth.Intrinsics{}, err
	}
	for i := C.int(0); i < n; i++ {
		sp := C.rs2_get_stream_profile(list, i, &e)
		if err := check("get_stream_profile", e); err != nil {
			return depth.Intrinsics{}, err
		}
		p, err := profileData(sp)
		if err != nil {
			return depth.Intrinsics{}, err
		}
		if p.Kind != d.settings.Stream || p.Index != d.settings.StreamIndex {
			continue
		}
		var ci C.rs2_intrinsics
		C.rs2_get_video_stream_intrinsics(sp, &ci, &e)
		if err := check("get_video_stream_intrinsics", e); err != nil {
			return depth.Intrinsics{}, err
		}
		in := depth.Intrinsics{
			Width:  int(ci.width),
			Height: int(ci.height),
			Ppx:    float64(ci.ppx),
			Ppy:    float64(ci.ppy),
			Fx:     float64(ci.fx),
			Fy:     float64(ci.fy),
			Model:  depth.DistortionModel(ci.model),
		}
		for k := range in.Coeffs {
			in.Coeffs[k] = float64(ci.coeffs[k])
		}
		return in, nil
	}
	return depth.Intrinsics{}, fmt.Errorf("rs2: stream %s index %d not in active profile", d.settings.Stream, d.settings.StreamIndex)
}

// DepthScale reports the metres-per-unit of the device's depth sensor.
func (d *Device) DepthScale() (float64, error) {
	var e *C.rs2_error
	dev := C.rs2_pipeline_profile_get_device(d.profile, &e)
	if err := check("profile_get_device", e); err != nil {
		return 0, err
	}
	defer C.rs2_delete_device(dev)

	sensors := C.rs2_query_sensors(dev, &e)
	if err := check("query_sensors", e); err != nil {
		return 0, err
	}
	defer C.rs2_delete_sensor_list(sensors)

	n := C.rs2_get_sensors_count(sensors, &e)
	if err := check("get_sensors_count", e); err != nil {
		return 0, err
	}
	for i := C.int(0); i < n; i++ {
		s := C.rs2_create_sensor(sensors, i, &e)
		if err := check("create_sensor", e); err != nil {
			return 0, err
		}
		isDepth := C.rs2_is_sensor_extendable_to(s, C.RS2_EXTENSION_DEPTH_SENSOR, &e)
		if err := check("is_sensor_extendable_to", e); err != nil {
			C.rs2_delete_sensor(s)
			return 0, err
		}
		if isDepth != 0 {
			scale := C.rs2_get_depth_scale(s, &e)
			C.rs2_delete_sensor(s)
			if err := check("get_depth_scale", e); err != nil {
				return 0, err
			}
			return float64(scale), nil
		}
		C.rs2_delete_sensor(s)
	}
	return 0, errors.New("rs2: device has no depth sensor")
}

// WaitForFrames blocks in slices of at most one second so ctx cancellation
// is observed while the timeout runs.
func (d *Device) WaitForFrames(ctx context.Context, timeout time.Duration) (depth.Bundle, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("rs2: no frames after %s: %w", timeout, depth.ErrTimeout)
		}
		slice := min(remaining, time.Second)

		var out *C.rs2_frame
		var e *C.rs2_error
		ok := C.rs2_pipeline_try_wait_for_frames(d.pipe, &out, C.uint(slice.Milliseconds()), &e)
		if err := check("pipeline_try_wait_for_frames", e); err != nil {
			return nil, err
		}
		if ok != 0 && out != nil {
			return &frameRef{f: out}, nil
		}
	}
}

func asFrame(v any) (*C.rs2_frame, error) {
	r, ok := v.(*frameRef)
	if !ok || r == nil || r.f == nil {
		return nil, fmt.Errorf("rs2: not a librealsense frame: %T", v)
	}
	return r.f, nil
}

func (d *Device) FrameCount(b depth.Bundle) (int, error) {
	f, err := asFrame(b)
	if err != nil {
		return 0, err
	}
	var e *C.rs2_error
	n := C.rs2_embedded_frames_count(f, &e)
	return int(n), check("embedded_frames_count", e)
}

func (d *Device) ExtractFrame(b depth.Bundle, index int) (depth.NativeFrame, error) {
	f, err := asFrame(b)
	if err != nil {
		return nil, err
	}
	var e *C.rs2_error
	out := C.rs2_extract_frame(f, C.int(index), &e)
	if err := check("extract_frame", e); err != nil {
		return nil, err
	}
	return &frameRef{f: out}, nil
}

func (d *Device) ReleaseBundle(b depth.Bundle) error {
	return d.ReleaseFrame(b)
}

// ReleaseFrame returns the frame to librealsense. The reference is cleared
// so a second release is reported instead of freeing twice.
func (d *Device) ReleaseFrame(nf depth.NativeFrame) error {
	r, ok := nf.(*frameRef)
	if !ok || r == nil {
		return fmt.Errorf("rs2: not a librealsense frame: %T", nf)
	}
	if r.f == nil {
		return depth.ErrReleased
	}
	C.rs2_release_frame(r.f)
	r.f = nil
	return nil
}

func (d *Device) FrameWidth(nf depth.NativeFrame) (int, error) {
	f, err := asFrame(nf)
	if err != nil {
		return 0, err
	}
	var e *C.rs2_error
	v := C.rs2_get_frame_width(f, &e)
	return int(v), check("get_frame_width", e)
}

func (d *Device) FrameHeight(nf depth.NativeFrame) (int, error) {
	f, err := asFrame(nf)
	if err != nil {
		return 0, err
	}
	var e *C.rs2_error
	v := C.rs2_get_frame_height(f, &e)
	return int(v), check("get_frame_height", e)
}

func (d *Device) FrameStride(nf depth.NativeFrame) (int, error) {
	f, err := asFrame(nf)
	if err != nil {
		return 0, err
	}
	var e *C.rs2_error
	v := C.rs2_get_frame_stride_in_bytes(f, &e)
	return int(v), check("get_frame_stride_in_bytes", e)
}

func (d *Device) FrameBitsPerPixel(nf depth.NativeFrame) (int, error) {
	f, err := asFrame(nf)
	if err != nil {
		return 0, err
	}
	var e *C.rs2_error
	v := C.rs2_get_frame_bits_per_pixel(f, &e)
	return int(v), check("get_frame_bits_per_pixel", e)
}

func (d *Device) FrameDataSize(nf depth.NativeFrame) (int, error) {
	f, err := asFrame(nf)
	if err != nil {
		return 0, err
	}
	var e *C.rs2_error
	v := C.rs2_get_frame_data_size(f, &e)
	return int(v), check("get_frame_data_size", e)
}

func (d *Device) FrameNumber(nf depth.NativeFrame) (uint64, error) {
	f, err := asFrame(nf)
	if err != nil {
		return 0, err
	}
	var e *C.rs2_error
	v := C.rs2_get_frame_number(f, &e)
	return uint64(v), check("get_frame_number", e)
}

func (d *Device) FrameTimestamp(nf depth.NativeFrame) (float64, error) {
	f, err := asFrame(nf)
	if err != nil {
		return 0, err
	}
	var e *C.rs2_error
	v := C.rs2_get_frame_timestamp(f, &e)
	return float64(v), check("get_frame_timestamp", e)
}

func (d *Device) FrameTimestampDomain(nf depth.NativeFrame) (depth.TimestampDomain, error) {
	f, err := asFrame(nf)
	if err != nil {
		return 0, err
	}
	var e *C.rs2_error
	v := C.rs2_get_frame_timestamp_domain(f, &e)
	return depth.TimestampDomain(v), check("get_frame_timestamp_domain", e)
}

// FrameMetadataValue returns 0 for keys the frame does not carry.
func (d *Device) FrameMetadataValue(nf depth.NativeFrame, key depth.MetadataKey) (int64, error) {
	f, err := asFrame(nf)
	if err != nil {
		return 0, err
	}
	var e *C.rs2_error
	k := C.rs2_frame_metadata_value(key)
	ok := C.rs2_supports_frame_metadata(f, k, &e)
	if err := check("supports_frame_metadata", e); err != nil || ok == 0 {
		return 0, err
	}
	v := C.rs2_get_frame_metadata(f, k, &e)
	return int64(v), check("get_frame_metadata", e)
}

func (d *Device) FrameProfile(nf depth.NativeFrame) (depth.StreamProfile, error) {
	f, err := asFrame(nf)
	if err != nil {
		return depth.StreamProfile{}, err
	}
	var e *C.rs2_error
	sp := C.rs2_get_frame_stream_profile(f, &e)
	if err := check("get_frame_stream_profile", e); err != nil {
		return depth.StreamProfile{}, err
	}
	return profileData(sp)
}

func profileData(sp *C.rs2_stream_profile) (depth.StreamProfile, error) {
	var (
		stream            C.rs2_stream
		format            C.rs2_format
		index, uid, frate C.int
		e                 *C.rs2_error
	)
	C.rs2_get_stream_profile_data(sp, &stream, &format, &index, &uid, &frate, &e)
	if err := check("get_stream_profile_data", e); err != nil {
		return depth.StreamProfile{}, err
	}
	return depth.StreamProfile{
		Kind:      depth.StreamKind(stream),
		Format:    depth.PixelFormat(format),
		Index:     int(index),
		UniqueID:  int(uid),
		FrameRate: int(frate),
	}, nil
}

// FrameData aliases librealsense memory; it is valid until ReleaseFrame.
func (d *Device) FrameData(nf depth.NativeFrame) ([]byte, error) {
	f, err := asFrame(nf)
	if err != nil {
		return nil, err
	}
	var e *C.rs2_error
	size := C.rs2_get_frame_data_size(f, &e)
	if err := check("get_frame_data_size", e); err != nil {
		return nil, err
	}
	p := C.rs2_get_frame_data(f, &e)
	if err := check("get_frame_data", e); err != nil {
		return nil, err
	}
	if p == nil || size <= 0 {
		return nil, nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), int(size)), nil
}

var _ depth.Device = (*Device)(nil)
