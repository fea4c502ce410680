package depth

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameHandle_ReleaseOnce(t *testing.T) {
	dev := newFakeDevice()
	f := z16Frame(1, 2, 2, 0, nil)
	h := handleFor(dev, f, 1)

	require.NoError(t, h.Release())
	assert.True(t, h.Released())
	assert.ErrorIs(t, h.Release(), ErrReleased)
	assert.Equal(t, 1, dev.releasesOf(f), "device must see exactly one release")
}

func TestFrameHandle_QueriesAfterReleaseFail(t *testing.T) {
	dev := newFakeDevice()
	f := z16Frame(1, 2, 2, 0, nil)
	h := handleFor(dev, f, 1)
	require.NoError(t, h.Release())

	_, err := ExtractMetadata(h)
	assert.ErrorIs(t, err, ErrReleased)
	_, err = CopyImageData(h)
	assert.ErrorIs(t, err, ErrReleased)
	assert.Zero(t, dev.useAfterFree, "no query may reach the device after release")
}

func TestFrameHandle_ZeroValueIsReleased(t *testing.T) {
	var h FrameHandle
	assert.True(t, h.Released())
	assert.ErrorIs(t, h.Release(), ErrReleased)

	var nilHandle *FrameHandle
	assert.True(t, nilHandle.Released())
	assert.ErrorIs(t, nilHandle.Release(), ErrReleased)
}

func TestFrameHandle_ReleaseErrorStillTombstones(t *testing.T) {
	dev := newFakeDevice()
	dev.releaseErr = errors.New("device gone")
	f := z16Frame(1, 2, 2, 0, nil)
	h := handleFor(dev, f, 1)

	assert.EqualError(t, h.Release(), "device gone")
	assert.True(t, h.Released())
	assert.ErrorIs(t, h.Release(), ErrReleased)
	assert.Equal(t, 1, dev.releasesOf(f))
}

func TestFrameHandle_ConcurrentRelease(t *testing.T) {
	dev := newFakeDevice()
	f := z16Frame(1, 4, 4, 0, make([]uint16, 16))
	h := handleFor(dev, f, 1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if h.Release() == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			_, _ = CopyImageData(h)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, dev.releasesOf(f))
	assert.Zero(t, dev.useAfterFree)
}
