package monitor

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepthHistogramPlotter_Render(t *testing.T) {
	hp := NewDepthHistogramPlotter()
	values := make([]float64, 0, 500)
	for i := 0; i < 500; i++ {
		values = append(values, 1.0+float64(i%50)*0.04)
	}

	var buf bytes.Buffer
	require.NoError(t, hp.Render(&buf, values, "test"))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	// 8x4 inches at the default 96 dpi.
	assert.Equal(t, 768, img.Bounds().Dx())
	assert.Equal(t, 384, img.Bounds().Dy())
}

func TestDepthHistogramPlotter_NoValues(t *testing.T) {
	var buf bytes.Buffer
	err := NewDepthHistogramPlotter().Render(&buf, nil, "empty")
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
}
