package depth

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultBufferCapacity keeps the current and the previous frame.
const DefaultBufferCapacity = 2

// FrameBuffer holds custody of the most recent frame handles in arrival
// order. Every handle pushed is released exactly once: on eviction, by
// Drain/Close, or by the caller after PopOldest hands it out.
//
// One producer may Push while one consumer reads; all methods lock.
type FrameBuffer struct {
	mu       sync.Mutex
	frames   []*FrameHandle
	capacity int
	head     int // next write position
	size     int
	closed   bool

	pushed  uint64
	evicted uint64
}

// NewFrameBuffer creates a FIFO buffer holding up to capacity handles.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity < 1 {
		capacity = DefaultBufferCapacity
	}
	return &FrameBuffer{
		frames:   make([]*FrameHandle, capacity),
		capacity: capacity,
	}
}

// NewDoubleBuffer creates a buffer for the current and previous frame.
func NewDoubleBuffer() *FrameBuffer {
	return NewFrameBuffer(DefaultBufferCapacity)
}

// Push takes custody of h. At capacity the oldest handle is released
// before it is dropped. A release failure of the evicted handle is
// returned, but h is still stored.
func (fb *FrameBuffer) Push(h *FrameHandle) error {
	if h == nil {
		return errors.New("push: nil frame handle")
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.closed {
		if err := h.Release(); err != nil {
			Opsf("release of frame pushed after close failed: %v", err)
		}
		return ErrBufferClosed
	}

	var evictErr error
	if fb.size == fb.capacity {
		oldest := fb.frames[fb.head]
		fb.frames[fb.head] = nil
		fb.size--
		fb.evicted++
		Tracef("evict frame seq=%d", oldest.Seq())
		if err := oldest.Release(); err != nil {
			evictErr = fmt.Errorf("release evicted frame seq=%d: %w", oldest.Seq(), err)
		}
	}

	fb.frames[fb.head] = h
	fb.head = (fb.head + 1) % fb.capacity
	fb.size++
	fb.pushed++
	Tracef("push frame seq=%d size=%d/%d", h.Seq(), fb.size, fb.capacity)
	return evictErr
}

// Current returns the most recently pushed handle, or nil. The buffer keeps
// ownership; the handle may be released by a later Push, after which reads
// fail with ErrReleased.
func (fb *FrameBuffer) Current() *FrameHandle {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.newest(1)
}

// Previous returns the handle pushed before Current, or nil.
func (fb *FrameBuffer) Previous() *FrameHandle {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.newest(2)
}

// newest returns the nth most recent handle; callers hold mu.
func (fb *FrameBuffer) newest(n int) *FrameHandle {
	if n < 1 || n > fb.size {
		return nil
	}
	return fb.frames[(fb.head-n+fb.capacity)%fb.capacity]
}

// PopOldest removes the oldest handle and transfers ownership to the
// caller, who must release it. Returns nil when empty.
func (fb *FrameBuffer) PopOldest() *FrameHandle {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.size == 0 {
		return nil
	}
	idx := (fb.head - fb.size + fb.capacity) % fb.capacity
	h := fb.frames[idx]
	fb.frames[idx] = nil
	fb.size--
	return h
}

// Drain releases every held handle, oldest first. Draining an empty buffer
// is a no-op. Release failures are joined; no handle is retried.
func (fb *FrameBuffer) Drain() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.drainLocked()
}

func (fb *FrameBuffer) drainLocked() error {
	var errs []error
	for fb.size > 0 {
		idx := (fb.head - fb.size + fb.capacity) % fb.capacity
		h := fb.frames[idx]
		fb.frames[idx] = nil
		fb.size--
		if err := h.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release frame seq=%d: %w", h.Seq(), err))
		}
	}
	fb.head = 0
	return errors.Join(errs...)
}

// Close drains the buffer and rejects further pushes.
func (fb *FrameBuffer) Close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.closed = true
	return fb.drainLocked()
}

// Len returns the number of handles held.
func (fb *FrameBuffer) Len() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.size
}

// Cap returns the buffer capacity.
func (fb *FrameBuffer) Cap() int {
	return fb.capacity
}

// Evicted returns how many handles were released by capacity eviction.
func (fb *FrameBuffer) Evicted() uint64 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.evicted
}

// Pushed returns the total number of handles accepted.
func (fb *FrameBuffer) Pushed() uint64 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.pushed
}
