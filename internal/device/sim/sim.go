// Package sim provides a synthetic depth camera implementing depth.Device.
//
// Each wait produces one bundle holding a frame per configured stream. Depth
// frames show a tilted plane with a bump and a grid of dropout holes; color
// frames a gradient that shifts with the frame number. The device counts
// every extraction and release so tests can assert that no frame leaks, and
// any query can be made to fail with FailOn.
package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/depthcam/internal/depth"
	"github.com/banshee-data/depthcam/internal/timeutil"
)

// Operation names accepted by FailOn.
const (
	OpWait          = "wait"
	OpCount         = "frame_count"
	OpExtract       = "extract"
	OpWidth         = "width"
	OpHeight        = "height"
	OpStride        = "stride"
	OpBitsPerPixel  = "bits_per_pixel"
	OpDataSize      = "data_size"
	OpFrameNumber   = "frame_number"
	OpTimestamp     = "timestamp"
	OpDomain        = "timestamp_domain"
	OpMetadata      = "metadata"
	OpProfile       = "stream_profile"
	OpData          = "data"
	OpReleaseFrame  = "release_frame"
	OpReleaseBundle = "release_bundle"
)

// defaultDepthUnit matches the 1 mm depth unit of D400 cameras.
const defaultDepthUnit = 0.001

// Stream describes one synthetic stream.
type Stream struct {
	Kind   depth.StreamKind
	Format depth.PixelFormat
	Index  int
}

// Config configures the synthetic camera.
type Config struct {
	Width      int
	Height     int
	FrameRate  int // 0 delivers bundles without pacing
	RowPadding int // extra bytes appended to every row
	DepthScale float64
	Streams    []Stream
	Clock      timeutil.Clock
}

// DefaultConfig is a 640x480 depth + color camera at 30 fps.
func DefaultConfig() Config {
	return Config{
		Width:      640,
		Height:     480,
		FrameRate:  30,
		DepthScale: defaultDepthUnit,
		Streams: []Stream{
			{Kind: depth.StreamDepth, Format: depth.FormatZ16},
			{Kind: depth.StreamColor, Format: depth.FormatRGB8},
		},
	}
}

type frame struct {
	id       uint64
	stream   Stream
	uniqueID int
	number   uint64
	stamp    float64
	arrival  int64
	width    int
	height   int
	stride   int
	bpp      int
	data     []byte
	released bool
}

type bundle struct {
	frames   []*frame
	released bool
}

// Device is a synthetic depth.Device. It is safe for concurrent use.
type Device struct {
	mu     sync.Mutex
	cfg    Config
	clock  timeutil.Clock
	epoch  time.Time
	number uint64
	nextID uint64

	stalled bool
	faults  map[string]error

	live           map[*frame]struct{}
	liveBundles    int
	releases       int
	doubleReleases int
	useAfterFree   int
}

// New validates cfg and returns a device ready to stream.
func New(cfg Config) (*Device, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("sim: invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.RowPadding < 0 {
		return nil, fmt.Errorf("sim: negative row padding %d", cfg.RowPadding)
	}
	if cfg.DepthScale <= 0 {
		cfg.DepthScale = defaultDepthUnit
	}
	if len(cfg.Streams) == 0 {
		cfg.Streams = DefaultConfig().Streams
	}
	for _, s := range cfg.Streams {
		if bitsPerPixel(s.Format) == 0 {
			return nil, fmt.Errorf("sim: cannot synthesise %s frames", s.Format)
		}
	}
	clock := timeutil.OrReal(cfg.Clock)
	return &Device{
		cfg:    cfg,
		clock:  clock,
		epoch:  clock.Now(),
		faults: map[string]error{},
		live:   map[*frame]struct{}{},
	}, nil
}

// DepthScale is the metres-per-unit factor of Z16 samples.
func (d *Device) DepthScale() float64 {
	return d.cfg.DepthScale
}

// Intrinsics returns a pinhole calibration with a ~70 degree horizontal
// field of view centred on the image.
func (d *Device) Intrinsics() depth.Intrinsics {
	w, h := float64(d.cfg.Width), float64(d.cfg.Height)
	f := w / (2 * math.Tan(35*math.Pi/180))
	return depth.Intrinsics{
		Width:  d.cfg.Width,
		Height: d.cfg.Height,
		Ppx:    w / 2,
		Ppy:    h / 2,
		Fx:     f,
		Fy:     f,
		Model:  depth.DistortionBrownConrady,
	}
}

// FailOn makes every subsequent call of op return err. A nil err clears it.
func (d *Device) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.faults, op)
		return
	}
	d.faults[op] = err
}

// Stall makes WaitForFrames block until its timeout or cancellation.
func (d *Device) Stall(stalled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stalled = stalled
}

// Outstanding returns the number of extracted frames and bundles not yet
// released.
func (d *Device) Outstanding() (frames, bundles int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live), d.liveBundles
}

// Releases returns the number of successful frame releases.
func (d *Device) Releases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases
}

// Violations returns the count of double releases and queries against
// released frames.
func (d *Device) Violations() (doubleReleases, useAfterFree int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doubleReleases, d.useAfterFree
}

func (d *Device) fault(op string) error {
	if err, ok := d.faults[op]; ok {
		return err
	}
	return nil
}

func (d *Device) WaitForFrames(ctx context.Context, timeout time.Duration) (depth.Bundle, error) {
	d.mu.Lock()
	stalled := d.stalled
	err := d.fault(OpWait)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	wait := time.Duration(0)
	if d.cfg.FrameRate > 0 {
		wait = time.Second / time.Duration(d.cfg.FrameRate)
	}
	if stalled || wait > timeout {
		wait = timeout
	}
	if wait > 0 {
		t := d.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C():
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}
	if stalled {
		return nil, fmt.Errorf("sim: no bundle within %v: %w", timeout, depth.ErrTimeout)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.number++
	stamp := float64(d.clock.Since(d.epoch)) / float64(time.Millisecond)
	arrival := d.clock.Now().UnixMilli()
	b := &bundle{}
	for i, s := range d.cfg.Streams {
		d.nextID++
		b.frames = append(b.frames, d.synthesise(d.nextID, i, s, stamp, arrival))
	}
	d.liveBundles++
	return b, nil
}

func (d *Device) FrameCount(b depth.Bundle) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCount); err != nil {
		return 0, err
	}
	bb, err := asBundle(b)
	if err != nil {
		return 0, err
	}
	return len(bb.frames), nil
}

func (d *Device) ExtractFrame(b depth.Bundle, index int) (depth.NativeFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpExtract); err != nil {
		return nil, err
	}
	bb, err := asBundle(b)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(bb.frames) {
		return nil, &depth.NativeError{Op: OpExtract, Type: 1, Message: fmt.Sprintf("index %d out of range [0,%d)", index, len(bb.frames))}
	}
	f := bb.frames[index]
	if _, ok := d.live[f]; ok {
		return nil, &depth.NativeError{Op: OpExtract, Type: 1, Message: fmt.Sprintf("frame %d already extracted", index)}
	}
	d.live[f] = struct{}{}
	return f, nil
}

func (d *Device) ReleaseBundle(b depth.Bundle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpReleaseBundle); err != nil {
		return err
	}
	bb, err := asBundle(b)
	if err != nil {
		return err
	}
	if bb.released {
		d.doubleReleases++
		return &depth.NativeError{Op: OpReleaseBundle, Type: 2, Message: "bundle already released"}
	}
	bb.released = true
	d.liveBundles--
	return nil
}

func (d *Device) ReleaseFrame(nf depth.NativeFrame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := nf.(*frame)
	if !ok {
		return &depth.NativeError{Op: OpReleaseFrame, Type: 1, Message: fmt.Sprintf("foreign frame %T", nf)}
	}
	if f.released {
		d.doubleReleases++
		return &depth.NativeError{Op: OpReleaseFrame, Type: 2, Message: "frame already released"}
	}
	f.released = true
	delete(d.live, f)
	d.releases++
	// The release itself succeeded; an injected fault only reports failure.
	return d.fault(OpReleaseFrame)
}

// query resolves nf under the lock, applying the fault for op.
func (d *Device) query(nf depth.NativeFrame, op string) (*frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := nf.(*frame)
	if !ok {
		return nil, &depth.NativeError{Op: op, Type: 1, Message: fmt.Sprintf("foreign frame %T", nf)}
	}
	if f.released {
		d.useAfterFree++
		return nil, &depth.NativeError{Op: op, Type: 2, Message: "frame used after release"}
	}
	if err := d.fault(op); err != nil {
		return nil, err
	}
	return f, nil
}

func (d *Device) FrameWidth(nf depth.NativeFrame) (int, error) {
	f, err := d.query(nf, OpWidth)
	if err != nil {
		return 0, err
	}
	return f.width, nil
}

func (d *Device) FrameHeight(nf depth.NativeFrame) (int, error) {
	f, err := d.query(nf, OpHeight)
	if err != nil {
		return 0, err
	}
	return f.height, nil
}

func (d *Device) FrameStride(nf depth.NativeFrame) (int, error) {
	f, err := d.query(nf, OpStride)
	if err != nil {
		return 0, err
	}
	return f.stride, nil
}

func (d *Device) FrameBitsPerPixel(nf depth.NativeFrame) (int, error) {
	f, err := d.query(nf, OpBitsPerPixel)
	if err != nil {
		return 0, err
	}
	return f.bpp, nil
}

func (d *Device) FrameDataSize(nf depth.NativeFrame) (int, error) {
	f, err := d.query(nf, OpDataSize)
	if err != nil {
		return 0, err
	}
	return f.width * f.height * f.bpp / depth.BitsPerByte, nil
}

func (d *Device) FrameNumber(nf depth.NativeFrame) (uint64, error) {
	f, err := d.query(nf, OpFrameNumber)
	if err != nil {
		return 0, err
	}
	return f.number, nil
}

func (d *Device) FrameTimestamp(nf depth.NativeFrame) (float64, error) {
	f, err := d.query(nf, OpTimestamp)
	if err != nil {
		return 0, err
	}
	return f.stamp, nil
}

func (d *Device) FrameTimestampDomain(nf depth.NativeFrame) (depth.TimestampDomain, error) {
	if _, err := d.query(nf, OpDomain); err != nil {
		return 0, err
	}
	return depth.DomainSystemTime, nil
}

// FrameMetadataValue supports the frame counter, frame timestamp and time
// of arrival; other keys report 0.
func (d *Device) FrameMetadataValue(nf depth.NativeFrame, key depth.MetadataKey) (int64, error) {
	f, err := d.query(nf, OpMetadata)
	if err != nil {
		return 0, err
	}
	switch key {
	case depth.MetadataFrameCounter:
		return int64(f.number), nil
	case depth.MetadataFrameTimestamp:
		return int64(f.stamp * 1000), nil
	case depth.MetadataTimeOfArrival:
		return f.arrival, nil
	default:
		return 0, nil
	}
}

func (d *Device) FrameProfile(nf depth.NativeFrame) (depth.StreamProfile, error) {
	f, err := d.query(nf, OpProfile)
	if err != nil {
		return depth.StreamProfile{}, err
	}
	return depth.StreamProfile{
		Kind:      f.stream.Kind,
		Format:    f.stream.Format,
		Index:     f.stream.Index,
		UniqueID:  f.uniqueID,
		FrameRate: d.cfg.FrameRate,
	}, nil
}

func (d *Device) FrameData(nf depth.NativeFrame) ([]byte, error) {
	f, err := d.query(nf, OpData)
	if err != nil {
		return nil, err
	}
	return f.data, nil
}

func asBundle(b depth.Bundle) (*bundle, error) {
	bb, ok := b.(*bundle)
	if !ok || bb == nil {
		return nil, &depth.NativeError{Type: 1, Message: fmt.Sprintf("foreign bundle %T", b)}
	}
	return bb, nil
}

func bitsPerPixel(f depth.PixelFormat) int {
	switch f {
	case depth.FormatZ16, depth.FormatY16:
		return 16
	case depth.FormatRGB8, depth.FormatBGR8:
		return 24
	case depth.FormatRGBA8, depth.FormatBGRA8:
		return 32
	case depth.FormatY8:
		return 8
	default:
		return 0
	}
}

// synthesise renders one frame; callers hold mu.
func (d *Device) synthesise(id uint64, streamIdx int, s Stream, stamp float64, arrival int64) *frame {
	w, h := d.cfg.Width, d.cfg.Height
	bpp := bitsPerPixel(s.Format)
	bytesPP := bpp / depth.BitsPerByte
	stride := w*bytesPP + d.cfg.RowPadding
	f := &frame{
		id:       id,
		stream:   s,
		uniqueID: streamIdx + 1,
		number:   d.number,
		stamp:    stamp,
		arrival:  arrival,
		width:    w,
		height:   h,
		stride:   stride,
		bpp:      bpp,
		data:     make([]byte, stride*h),
	}
	n := int(d.number)
	for y := 0; y < h; y++ {
		row := f.data[y*stride : y*stride+w*bytesPP]
		for x := 0; x < w; x++ {
			px := row[x*bytesPP : (x+1)*bytesPP]
			switch s.Format {
			case depth.FormatZ16, depth.FormatY16:
				binary.LittleEndian.PutUint16(px, d.depthSample(x, y, n))
			case depth.FormatY8:
				px[0] = uint8(d.depthSample(x, y, n) >> 4)
			default:
				r := uint8(x * 255 / max(w-1, 1))
				g := uint8(y * 255 / max(h-1, 1))
				b := uint8(n * 4)
				switch s.Format {
				case depth.FormatBGR8, depth.FormatBGRA8:
					px[0], px[1], px[2] = b, g, r
				default:
					px[0], px[1], px[2] = r, g, b
				}
				if bytesPP == 4 {
					px[3] = 0xff
				}
			}
		}
	}
	return f
}

// depthSample is a plane receding from 1 m to 3 m down the image with a
// bump that drifts across frames. Every 16th row and column is a dropout.
func (d *Device) depthSample(x, y, n int) uint16 {
	if x%16 == 0 || y%16 == 0 {
		return 0
	}
	w, h := float64(d.cfg.Width), float64(d.cfg.Height)
	metres := 1 + 2*float64(y)/h
	cx := math.Mod(float64(n)*4, w)
	dx, dy := float64(x)-cx, float64(y)-h/2
	metres -= 0.3 * math.Exp(-(dx*dx+dy*dy)/(2*(w/8)*(w/8)))
	return uint16(min(metres/d.cfg.DepthScale, math.MaxUint16))
}
