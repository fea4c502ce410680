package monitor

import (
	"image"
	"sync"
	"time"

	"github.com/banshee-data/depthcam/internal/depth"
)

// FrameSnapshot is the most recent frame of one stream plus, for depth
// frames, its summary statistics.
type FrameSnapshot struct {
	Meta       depth.FrameMetadata
	Data       depth.ImageData
	Stats      *depth.DepthStats
	ReceivedAt time.Time
}

// FrameStore keeps the latest frame per stream for the HTTP handlers. The
// capture loop publishes; handlers read copies.
type FrameStore struct {
	mu         sync.RWMutex
	latest     map[depth.StreamKind]*FrameSnapshot
	intrinsics depth.Intrinsics
	depthScale float64
	published  uint64
	session    func() depth.SessionStats
}

// NewFrameStore creates a store that projects depth frames with in and
// depthScale.
func NewFrameStore(in depth.Intrinsics, depthScale float64) *FrameStore {
	return &FrameStore{
		latest:     make(map[depth.StreamKind]*FrameSnapshot),
		intrinsics: in,
		depthScale: depthScale,
	}
}

// SetSessionStats installs the provider used by the stats endpoints.
func (s *FrameStore) SetSessionStats(fn func() depth.SessionStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = fn
}

// Publish records data as the latest frame of its stream and returns the
// depth stats computed for it, or nil for non-depth frames.
func (s *FrameStore) Publish(data depth.ImageData) *depth.DepthStats {
	snap := &FrameSnapshot{Meta: data.Meta, Data: data, ReceivedAt: time.Now()}
	if data.Meta.Format == depth.FormatZ16 {
		if img, err := data.Decode(); err == nil {
			st := depth.ComputeDepthStats(img.(*image.Gray16), s.depthScale)
			snap.Stats = &st
		} else {
			depth.Diagf("monitor: decode of frame %d failed: %v", data.Meta.FrameNumber, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[data.Meta.Stream] = snap
	s.published++
	return snap.Stats
}

// Latest returns the newest snapshot of stream, or nil.
func (s *FrameStore) Latest(stream depth.StreamKind) *FrameSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest[stream]
}

// Published returns the number of frames published.
func (s *FrameStore) Published() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published
}

// SessionStats returns the provider's counters, or zeros when none is set.
func (s *FrameStore) SessionStats() depth.SessionStats {
	s.mu.RLock()
	fn := s.session
	s.mu.RUnlock()
	if fn == nil {
		return depth.SessionStats{}
	}
	return fn()
}

// LatestDepth decodes the newest depth frame.
func (s *FrameStore) LatestDepth() (*image.Gray16, *FrameSnapshot, bool) {
	snap := s.Latest(depth.StreamDepth)
	if snap == nil || snap.Meta.Format != depth.FormatZ16 {
		return nil, nil, false
	}
	img, err := snap.Data.Decode()
	if err != nil {
		return nil, nil, false
	}
	return img.(*image.Gray16), snap, true
}

// Projection returns the calibration used for point rendering.
func (s *FrameStore) Projection() (depth.Intrinsics, float64) {
	return s.intrinsics, s.depthScale
}
