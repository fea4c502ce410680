package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// DepthHistogramPlotter renders depth distributions as PNG histograms.
type DepthHistogramPlotter struct {
	Bins   int
	Width  vg.Length
	Height vg.Length
}

// NewDepthHistogramPlotter returns a plotter with 64 bins at 8x4 inches.
func NewDepthHistogramPlotter() *DepthHistogramPlotter {
	return &DepthHistogramPlotter{Bins: 64, Width: 8 * vg.Inch, Height: 4 * vg.Inch}
}

// Render writes a PNG histogram of values (metres) to w.
func (hp *DepthHistogramPlotter) Render(w io.Writer, values []float64, title string) error {
	if len(values) == 0 {
		return errors.New("no depth values to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Depth (m)"
	p.Y.Label.Text = "Pixels"

	h, err := plotter.NewHist(plotter.Values(values), hp.Bins)
	if err != nil {
		return fmt.Errorf("build histogram: %w", err)
	}
	h.FillColor = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	h.LineStyle.Width = vg.Points(0.5)
	p.Add(h)

	wt, err := p.WriterTo(hp.Width, hp.Height, "png")
	if err != nil {
		return fmt.Errorf("render histogram: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
