package depth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/depthcam/internal/timeutil"
)

// DefaultWaitTimeout matches the librealsense default wait of 15 seconds.
const DefaultWaitTimeout = 15 * time.Second

// ErrStop may be returned by a Run callback to end the loop cleanly.
var ErrStop = errors.New("stop capture")

// SessionConfig configures a capture session.
type SessionConfig struct {
	BufferCapacity int              // handles kept in custody (default 2)
	WaitTimeout    time.Duration    // bound on each wait for frames (default 15s)
	ByteOrder      binary.ByteOrder // 16-bit sample order of delivered frames (default DefaultByteOrder)
	Clock          timeutil.Clock
}

// SessionStats is a snapshot of session counters.
type SessionStats struct {
	Bundles     uint64 `json:"bundles"`
	Frames      uint64 `json:"frames"`
	Delivered   uint64 `json:"delivered"`
	Evicted     uint64 `json:"evicted"`
	Timeouts    uint64 `json:"timeouts"`
	FrameErrors uint64 `json:"frame_errors"`
}

// Session is one stream session: it pulls frame bundles from a Device on a
// single producer goroutine and keeps custody of the frames in a
// FrameBuffer until they are consumed or evicted.
type Session struct {
	dev     Device
	buf     *FrameBuffer
	timeout time.Duration
	order   binary.ByteOrder
	clock   timeutil.Clock

	seq         atomic.Uint64
	bundles     atomic.Uint64
	frames      atomic.Uint64
	delivered   atomic.Uint64
	timeouts    atomic.Uint64
	frameErrors atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// NewSession creates a session over dev. The caller must Close it.
func NewSession(dev Device, cfg SessionConfig) *Session {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	return &Session{
		dev:     dev,
		buf:     NewFrameBuffer(cfg.BufferCapacity),
		timeout: cfg.WaitTimeout,
		order:   cfg.ByteOrder,
		clock:   timeutil.OrReal(cfg.Clock),
	}
}

// Buffer exposes the session's frame buffer.
func (s *Session) Buffer() *FrameBuffer {
	return s.buf
}

// Pull blocks for the next frame bundle, moves every embedded frame into
// the buffer in bundle order and releases the bundle. It returns how many
// frames were pushed. A bundle with no frames pushes nothing and is not an
// error. Timeouts return an error matching ErrTimeout; any other wait
// failure matches ErrWaitFailed.
func (s *Session) Pull(ctx context.Context) (int, error) {
	return s.pull(ctx, nil)
}

// pull is Pull with an optional hook run after every push, while the
// bundle is still held. A hook error stops the bundle early.
func (s *Session) pull(ctx context.Context, afterPush func() error) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	bundle, err := s.dev.WaitForFrames(ctx, s.timeout)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			s.timeouts.Add(1)
			return 0, fmt.Errorf("wait for frames: %w", err)
		}
		return 0, fmt.Errorf("%w: %w", ErrWaitFailed, err)
	}
	s.bundles.Add(1)

	pushed, err := s.pushBundle(bundle, afterPush)
	if rerr := s.dev.ReleaseBundle(bundle); rerr != nil {
		err = errors.Join(err, fmt.Errorf("release bundle: %w", rerr))
	}
	return pushed, err
}

func (s *Session) pushBundle(b Bundle, afterPush func() error) (int, error) {
	n, err := s.dev.FrameCount(b)
	if err != nil {
		return 0, fmt.Errorf("frame count: %w", err)
	}
	pushed := 0
	for i := 0; i < n; i++ {
		ref, err := s.dev.ExtractFrame(b, i)
		if err != nil {
			return pushed, fmt.Errorf("extract frame %d of %d: %w", i, n, err)
		}
		h := newFrameHandle(s.dev, ref, s.clock.Now(), s.seq.Add(1))
		s.frames.Add(1)
		if err := s.buf.Push(h); err != nil {
			if errors.Is(err, ErrBufferClosed) {
				return pushed, err
			}
			Opsf("%v", err)
		}
		pushed++
		if afterPush != nil {
			if err := afterPush(); err != nil {
				return pushed, err
			}
		}
	}
	return pushed, nil
}

// Latest copies the current frame. When the current frame cannot be read
// (released by a concurrent push, or failing extraction) it falls back to
// the previous frame.
func (s *Session) Latest() (ImageData, error) {
	cur := s.buf.Current()
	if cur == nil {
		return ImageData{}, ErrNoFrame
	}
	data, err := CopyImageData(cur)
	if err == nil {
		data.ByteOrder = s.order
		return data, nil
	}
	if prev := s.buf.Previous(); prev != nil {
		if pdata, perr := CopyImageData(prev); perr == nil {
			Diagf("current frame seq=%d unusable (%v), using previous seq=%d", cur.Seq(), err, prev.Seq())
			pdata.ByteOrder = s.order
			return pdata, nil
		}
	}
	return ImageData{}, err
}

// Next returns the oldest buffered frame, pulling one bundle when the
// buffer is empty. The frame's handle is released before Next returns.
func (s *Session) Next(ctx context.Context) (ImageData, error) {
	h := s.buf.PopOldest()
	if h == nil {
		if _, err := s.Pull(ctx); err != nil {
			return ImageData{}, err
		}
		if h = s.buf.PopOldest(); h == nil {
			return ImageData{}, ErrNoFrame
		}
	}
	return s.consume(h)
}

// consume copies and releases a handle the caller owns.
func (s *Session) consume(h *FrameHandle) (ImageData, error) {
	data, err := CopyImageData(h)
	if rerr := h.Release(); rerr != nil {
		Opsf("release of consumed frame seq=%d failed: %v", h.Seq(), rerr)
	}
	if err != nil {
		s.frameErrors.Add(1)
		return ImageData{}, fmt.Errorf("frame seq=%d: %w", h.Seq(), err)
	}
	s.delivered.Add(1)
	data.ByteOrder = s.order
	return data, nil
}

// Run pulls frames until ctx is cancelled and hands each one to fn in
// arrival order. Frames are delivered as soon as they are pushed, so a
// bundle larger than the buffer loses nothing. Frame-level failures are
// logged and skipped; a failed wait or an out-of-bounds read ends the loop
// with that error. fn returning ErrStop ends the loop without error. Run
// does not Close the session.
func (s *Session) Run(ctx context.Context, fn func(ImageData) error) error {
	var stopErr error
	deliver := func() error {
		for h := s.buf.PopOldest(); h != nil; h = s.buf.PopOldest() {
			data, err := s.consume(h)
			if err != nil {
				if !IsFrameLevel(err) {
					stopErr = err
					return err
				}
				Opsf("skipping %v", err)
				continue
			}
			if err := fn(data); err != nil {
				stopErr = err
				return err
			}
		}
		return nil
	}

	for {
		_, err := s.pull(ctx, deliver)
		if stopErr != nil {
			if errors.Is(stopErr, ErrStop) {
				return nil
			}
			return stopErr
		}
		if err == nil {
			continue
		}
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrTimeout):
			Diagf("no frames within %v", s.timeout)
		case IsFrameLevel(err):
			s.frameErrors.Add(1)
			Opsf("skipping bundle: %v", err)
		default:
			return err
		}
	}
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Bundles:     s.bundles.Load(),
		Frames:      s.frames.Load(),
		Delivered:   s.delivered.Load(),
		Evicted:     s.buf.Evicted(),
		Timeouts:    s.timeouts.Load(),
		FrameErrors: s.frameErrors.Load(),
	}
}

// Close releases every frame still in custody and rejects further pushes.
// It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.buf.Close()
		st := s.Stats()
		Opsf("session closed: bundles=%d frames=%d delivered=%d evicted=%d timeouts=%d frame_errors=%d",
			st.Bundles, st.Frames, st.Delivered, st.Evicted, st.Timeouts, st.FrameErrors)
	})
	return s.closeErr
}
