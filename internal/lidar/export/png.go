package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/lidarfusion/internal/lidar/fusion"
)

// PlotSize is the edge length of exported top-down renders.
const PlotSize = 8 * vg.Inch

// TopDownPlot renders the frame's points on the XY plane, one colour per
// agent, with each wireframe drawn as a polyline.
func TopDownPlot(frame fusion.FusedFrame, wireframes map[int][16]r3.Vector) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Tick %d (%d points)", frame.TickID, frame.Len())
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	for i, s := range frame.Sources {
		if s.Count == 0 {
			continue
		}
		xys := make(plotter.XYs, s.Count)
		for j := range s.Count {
			xys[j].X = frame.Points.At(s.Offset+j, 0)
			xys[j].Y = frame.Points.At(s.Offset+j, 1)
		}
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, fmt.Errorf("agent %d scatter: %w", s.AgentID, err)
		}
		sc.GlyphStyle.Color = plotutil.Color(i)
		sc.GlyphStyle.Radius = vg.Points(0.8)
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("agent %d", s.AgentID), sc)
	}

	ids := make([]int, 0, len(wireframes))
	for id := range wireframes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		wf := wireframes[id]
		xys := make(plotter.XYs, len(wf))
		for j, v := range wf {
			xys[j].X, xys[j].Y = v.X, v.Y
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("wireframe %d: %w", id, err)
		}
		line.Width = vg.Points(1)
		p.Add(line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	return p, nil
}

// RenderPNG writes a top-down PNG of the frame to w.
func RenderPNG(w io.Writer, frame fusion.FusedFrame, wireframes map[int][16]r3.Vector) error {
	p, err := TopDownPlot(frame, wireframes)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(PlotSize, PlotSize, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// WritePNG saves a top-down PNG of the frame to path.
func WritePNG(path string, frame fusion.FusedFrame, wireframes map[int][16]r3.Vector) error {
	p, err := TopDownPlot(frame, wireframes)
	if err != nil {
		return err
	}
	if err := p.Save(PlotSize, PlotSize, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	logf("saved plot for tick %d to %s", frame.TickID, path)
	return nil
}
