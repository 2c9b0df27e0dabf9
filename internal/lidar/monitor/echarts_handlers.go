package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/lidarfusion/internal/httputil"
	"github.com/banshee-data/lidarfusion/internal/lidar/visualiser"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleFrameChart renders the latest fused frame as a top-down scatter,
// one series per agent, with bounding box wireframes overlaid.
func (ws *WebServer) handleFrameChart(w http.ResponseWriter, r *http.Request) {
	snap := ws.frames.Latest()
	if snap == nil {
		httputil.NotFound(w, "no frame published yet")
		return
	}
	stride, ok := ws.strideParam(r)
	if !ok {
		httputil.BadRequest(w, "invalid stride")
		return
	}
	if stride == 0 {
		stride = 1
	}

	scatter := frameScatter(snap, stride)

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func frameScatter(snap *visualiser.Snapshot, stride int) *charts.Scatter {
	pad := 10.0
	frame := snap.Frame
	for i := 0; i < frame.Len(); i++ {
		pad = math.Max(pad, math.Abs(frame.Points.At(i, 0)))
		pad = math.Max(pad, math.Abs(frame.Points.At(i, 1)))
	}
	pad = math.Ceil(pad)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Fused Frame", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Tick %d", frame.TickID), Subtitle: fmt.Sprintf("points=%d missing=%d stride=%d", frame.Len(), snap.Missing, stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)

	emitted := 0
	for _, src := range frame.Sources {
		data := make([]opts.ScatterData, 0, src.Count/stride+1)
		for i := 0; i < src.Count && emitted < MaxPoints; i += stride {
			row := src.Offset + i
			data = append(data, opts.ScatterData{Value: []interface{}{
				frame.Points.At(row, 0), frame.Points.At(row, 1), frame.Points.At(row, 3),
			}})
			emitted++
		}
		scatter.AddSeries(fmt.Sprintf("agent %d", src.AgentID), data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}

	if len(snap.Wireframes) > 0 {
		ids := make([]int, 0, len(snap.Wireframes))
		for id := range snap.Wireframes {
			ids = append(ids, id)
		}
		sort.Ints(ids)

		boxes := charts.NewLine()
		for _, id := range ids {
			wf := snap.Wireframes[id]
			data := make([]opts.LineData, 0, len(wf))
			for _, v := range wf {
				data = append(data, opts.LineData{Value: []interface{}{v.X, v.Y}})
			}
			boxes.AddSeries(fmt.Sprintf("box %d", id), data)
		}
		scatter.Overlap(boxes)
	}
	return scatter
}

// handleTickChart renders per-tick fused points and missing measurements
// from the pipeline's stats history.
func (ws *WebServer) handleTickChart(w http.ResponseWriter, r *http.Request) {
	if ws.stats == nil {
		httputil.NotFound(w, "no pipeline stats available")
		return
	}
	history := ws.stats.History()

	ticks := make([]uint64, len(history))
	points := make([]opts.LineData, len(history))
	missing := make([]opts.LineData, len(history))
	for i, s := range history {
		ticks[i] = s.TickID
		points[i] = opts.LineData{Value: s.Points}
		missing[i] = opts.LineData{Value: s.Missing}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Pipeline Ticks", Width: "100%", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Pipeline Ticks", Subtitle: fmt.Sprintf("samples=%d", len(history))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Tick"}),
	)
	line.SetXAxis(ticks).
		AddSeries("points", points).
		AddSeries("missing", missing)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
