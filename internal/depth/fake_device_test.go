package depth

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// fakeFrame is a device frame with fixed properties. failOp names a query
// that reports failErr, or a native error when failErr is nil.
type fakeFrame struct {
	id      int
	width   int
	height  int
	stride  int
	bpp     int
	size    int
	profile StreamProfile
	number  uint64
	data    []byte
	failOp  string
	failErr error
}

type fakeBundle struct {
	frames []*fakeFrame
}

// fakeDevice is an in-memory Device that counts releases and flags any
// query made against a released frame.
type fakeDevice struct {
	mu             sync.Mutex
	queue          []*fakeBundle
	waitErr        error
	countErr       error
	extractErr     error
	releaseErr     error
	extracted      []int
	frameReleases  map[*fakeFrame]int
	bundleReleases int
	useAfterFree   int
}

func newFakeDevice(bundles ...*fakeBundle) *fakeDevice {
	return &fakeDevice{queue: bundles, frameReleases: map[*fakeFrame]int{}}
}

func (d *fakeDevice) enqueue(b *fakeBundle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, b)
}

func (d *fakeDevice) WaitForFrames(ctx context.Context, _ time.Duration) (Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waitErr != nil {
		return nil, d.waitErr
	}
	if len(d.queue) == 0 {
		return nil, ErrTimeout
	}
	b := d.queue[0]
	d.queue = d.queue[1:]
	return b, nil
}

func (d *fakeDevice) FrameCount(b Bundle) (int, error) {
	if d.countErr != nil {
		return 0, d.countErr
	}
	return len(b.(*fakeBundle).frames), nil
}

func (d *fakeDevice) ExtractFrame(b Bundle, index int) (NativeFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.extractErr != nil {
		return nil, d.extractErr
	}
	d.extracted = append(d.extracted, index)
	return b.(*fakeBundle).frames[index], nil
}

func (d *fakeDevice) ReleaseBundle(Bundle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bundleReleases++
	return nil
}

func (d *fakeDevice) ReleaseFrame(f NativeFrame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frameReleases[f.(*fakeFrame)]++
	return d.releaseErr
}

func (d *fakeDevice) live(f NativeFrame, op string) (*fakeFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ff := f.(*fakeFrame)
	if d.frameReleases[ff] > 0 {
		d.useAfterFree++
	}
	if ff.failOp == op {
		if ff.failErr != nil {
			return nil, ff.failErr
		}
		return nil, &NativeError{Type: 3, Message: "injected " + op + " failure"}
	}
	return ff, nil
}

func (d *fakeDevice) FrameWidth(f NativeFrame) (int, error) {
	ff, err := d.live(f, "width")
	if err != nil {
		return 0, err
	}
	return ff.width, nil
}

func (d *fakeDevice) FrameHeight(f NativeFrame) (int, error) {
	ff, err := d.live(f, "height")
	if err != nil {
		return 0, err
	}
	return ff.height, nil
}

func (d *fakeDevice) FrameStride(f NativeFrame) (int, error) {
	ff, err := d.live(f, "stride")
	if err != nil {
		return 0, err
	}
	return ff.stride, nil
}

func (d *fakeDevice) FrameBitsPerPixel(f NativeFrame) (int, error) {
	ff, err := d.live(f, "bits_per_pixel")
	if err != nil {
		return 0, err
	}
	return ff.bpp, nil
}

func (d *fakeDevice) FrameDataSize(f NativeFrame) (int, error) {
	ff, err := d.live(f, "data_size")
	if err != nil {
		return 0, err
	}
	return ff.size, nil
}

func (d *fakeDevice) FrameNumber(f NativeFrame) (uint64, error) {
	ff, err := d.live(f, "frame_number")
	if err != nil {
		return 0, err
	}
	return ff.number, nil
}

func (d *fakeDevice) FrameTimestamp(f NativeFrame) (float64, error) {
	ff, err := d.live(f, "timestamp")
	if err != nil {
		return 0, err
	}
	return float64(ff.number) * 33.3, nil
}

func (d *fakeDevice) FrameTimestampDomain(f NativeFrame) (TimestampDomain, error) {
	if _, err := d.live(f, "timestamp_domain"); err != nil {
		return 0, err
	}
	return DomainHardwareClock, nil
}

func (d *fakeDevice) FrameMetadataValue(f NativeFrame, key MetadataKey) (int64, error) {
	ff, err := d.live(f, "time_of_arrival")
	if err != nil {
		return 0, err
	}
	if key != MetadataTimeOfArrival {
		return 0, fmt.Errorf("metadata %d unsupported", key)
	}
	return int64(1000 + ff.number), nil
}

func (d *fakeDevice) FrameProfile(f NativeFrame) (StreamProfile, error) {
	ff, err := d.live(f, "stream_profile")
	if err != nil {
		return StreamProfile{}, err
	}
	return ff.profile, nil
}

func (d *fakeDevice) FrameData(f NativeFrame) ([]byte, error) {
	ff, err := d.live(f, "data")
	if err != nil {
		return nil, err
	}
	return ff.data, nil
}

func (d *fakeDevice) releasesOf(f *fakeFrame) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frameReleases[f]
}

// leaked returns the frames of bundles that were never released.
func (d *fakeDevice) leaked(frames ...*fakeFrame) []int {
	var ids []int
	for _, f := range frames {
		if d.releasesOf(f) != 1 {
			ids = append(ids, f.id)
		}
	}
	return ids
}

// z16Frame builds a depth frame; padding extra bytes are appended per row.
func z16Frame(id, width, height, padding int, samples []uint16) *fakeFrame {
	stride := width*2 + padding
	data := make([]byte, stride*height)
	for i, v := range samples {
		row, col := i/width, i%width
		binary.LittleEndian.PutUint16(data[row*stride+2*col:], v)
	}
	return &fakeFrame{
		id:      id,
		width:   width,
		height:  height,
		stride:  stride,
		bpp:     16,
		size:    width * height * 2,
		profile: StreamProfile{Kind: StreamDepth, Format: FormatZ16, FrameRate: 30},
		number:  uint64(id),
		data:    data,
	}
}

// colorFrame builds an interleaved color frame from per-pixel channel bytes.
func colorFrame(id, width, height int, format PixelFormat, channels int, pixels [][]byte) *fakeFrame {
	stride := width * channels
	data := make([]byte, 0, stride*height)
	for _, px := range pixels {
		data = append(data, px...)
	}
	return &fakeFrame{
		id:      id,
		width:   width,
		height:  height,
		stride:  stride,
		bpp:     channels * 8,
		size:    stride * height,
		profile: StreamProfile{Kind: StreamColor, Format: format, FrameRate: 30},
		number:  uint64(id),
		data:    data,
	}
}

// handleFor wraps f in a live handle owned by the test.
func handleFor(dev *fakeDevice, f *fakeFrame, seq uint64) *FrameHandle {
	return newFrameHandle(dev, f, time.Unix(1700000000, 0), seq)
}
