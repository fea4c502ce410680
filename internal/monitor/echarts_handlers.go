package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/depthcam/internal/depth"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleDepthPoints renders the latest depth frame as a top-down X/Z
// scatter coloured by height. Debugging only.
// Query params:
//   - max_points (optional; default 8000) to reduce payload size
func (ws *WebServer) handleDepthPoints(w http.ResponseWriter, r *http.Request) {
	img, snap, ok := ws.store.LatestDepth()
	if !ok {
		ws.writeJSONError(w, http.StatusNotFound, "no depth frame yet")
		return
	}

	maxPoints := 8000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	in, scale := ws.store.Projection()
	points, err := depth.Project(img, in, scale)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("projection failed: %v", err))
		return
	}
	points = depth.FilterValid(points)
	if len(points) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "depth frame has no valid pixels")
		return
	}

	// Downsample by stride to stay within maxPoints
	stride := 1
	if len(points) > maxPoints {
		stride = int(math.Ceil(float64(len(points)) / float64(maxPoints)))
	}

	data := make([]opts.ScatterData, 0, len(points)/stride+1)
	maxAbsX, maxZ := 0.0, 0.0
	minY, maxY := math.Inf(1), math.Inf(-1)
	for i := 0; i < len(points); i += stride {
		p := points[i].Pos
		maxAbsX = math.Max(maxAbsX, math.Abs(p.X))
		maxZ = math.Max(maxZ, p.Z)
		minY = math.Min(minY, -p.Y)
		maxY = math.Max(maxY, -p.Y)
		// Y points down in camera space; plot height upwards.
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Z, -p.Y}})
	}
	if maxY <= minY {
		maxY = minY + 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Depth Points (top view)", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Depth Point Cloud", Subtitle: fmt.Sprintf("frame=%d points=%d stride=%d", snap.Meta.FrameNumber, len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -maxAbsX * 1.05, Max: maxAbsX * 1.05, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: maxZ * 1.05, Name: "Z (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(minY),
			Max:        float32(maxY),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)
	scatter.AddSeries("depth", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleDepthStatsChart renders session counters and depth coverage as a
// bar chart page.
func (ws *WebServer) handleDepthStatsChart(w http.ResponseWriter, r *http.Request) {
	st := ws.store.SessionStats()

	counters := charts.NewBar()
	counters.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Capture Session", Subtitle: time.Now().Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	counters.SetXAxis([]string{"Bundles", "Frames", "Delivered", "Evicted", "Timeouts", "Frame errors"}).
		AddSeries("session", []opts.BarData{
			{Value: st.Bundles},
			{Value: st.Frames},
			{Value: st.Delivered},
			{Value: st.Evicted},
			{Value: st.Timeouts},
			{Value: st.FrameErrors},
		}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(counters)

	if snap := ws.store.Latest(depth.StreamDepth); snap != nil && snap.Stats != nil {
		s := snap.Stats
		coverage := charts.NewBar()
		coverage.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px", AssetsHost: echartsAssetsPrefix}),
			charts.WithTitleOpts(opts.Title{Title: "Depth Frame", Subtitle: fmt.Sprintf("frame=%d valid=%.1f%%", snap.Meta.FrameNumber, 100*s.ValidRatio())}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		coverage.SetXAxis([]string{"Min (m)", "Mean (m)", "Max (m)", "StdDev (m)"}).
			AddSeries("depth", []opts.BarData{
				{Value: s.Min},
				{Value: s.Mean},
				{Value: s.Max},
				{Value: s.StdDev},
			}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
		page.AddCharts(coverage)
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
