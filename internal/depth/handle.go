package depth

import (
	"sync"
	"time"
)

// FrameHandle is the single owner of one device frame. It is produced only
// by Session.Pull and handed on through FrameBuffer; whoever holds it last
// calls Release. After release every query fails with ErrReleased and the
// device is never touched again for this frame.
//
// The zero value behaves as an already-released handle.
type FrameHandle struct {
	mu       sync.Mutex
	dev      Device
	ref      NativeFrame
	released bool
	arrived  time.Time
	seq      uint64
}

func newFrameHandle(dev Device, ref NativeFrame, arrived time.Time, seq uint64) *FrameHandle {
	return &FrameHandle{dev: dev, ref: ref, arrived: arrived, seq: seq}
}

// Release returns the frame to the device. A second call returns
// ErrReleased without calling the device.
func (h *FrameHandle) Release() error {
	if h == nil {
		return ErrReleased
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.dev == nil {
		return ErrReleased
	}
	h.released = true
	dev, ref := h.dev, h.ref
	h.dev, h.ref = nil, nil
	return dev.ReleaseFrame(ref)
}

// Released reports whether the handle no longer owns a frame.
func (h *FrameHandle) Released() bool {
	if h == nil {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released || h.dev == nil
}

// ArrivedAt is the wall-clock time the session took custody of the frame.
func (h *FrameHandle) ArrivedAt() time.Time {
	return h.arrived
}

// Seq is the session-local insertion sequence, starting at 1.
func (h *FrameHandle) Seq() uint64 {
	return h.seq
}

// with runs fn while holding the handle lock so no release can interleave
// with reads of the native frame.
func (h *FrameHandle) with(fn func(dev Device, ref NativeFrame) error) error {
	if h == nil {
		return ErrReleased
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.dev == nil {
		return ErrReleased
	}
	return fn(h.dev, h.ref)
}
