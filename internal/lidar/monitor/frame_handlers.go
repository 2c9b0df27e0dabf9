package monitor

import (
	"net/http"
	"sort"
	"time"

	"github.com/banshee-data/lidarfusion/internal/httputil"
	"github.com/banshee-data/lidarfusion/internal/lidar/bbox"
	"github.com/banshee-data/lidarfusion/internal/lidar/visualiser"
)

// AgentSummary describes one agent's contribution to a frame.
type AgentSummary struct {
	AgentID int                      `json:"agent_id"`
	Points  int                      `json:"points"`
	Box     *bbox.VehicleBoundingBox `json:"box,omitempty"`
}

// FrameSummary is the JSON view of a published snapshot.
type FrameSummary struct {
	TickID      uint64         `json:"tick_id"`
	Version     uint64         `json:"version"`
	Points      int            `json:"points"`
	Missing     int            `json:"missing"`
	Persisted   bool           `json:"persisted"`
	PublishedAt time.Time      `json:"published_at"`
	Agents      []AgentSummary `json:"agents"`
	Stride      int            `json:"stride,omitempty"`
	Sample      [][4]float64   `json:"sample,omitempty"`
}

// summarise builds the JSON view of s. With stride > 0 every stride-th
// point is included, capped at MaxPoints.
func summarise(s *visualiser.Snapshot, stride int) FrameSummary {
	out := FrameSummary{
		TickID:      s.TickID(),
		Version:     s.Version,
		Points:      s.Frame.Len(),
		Missing:     s.Missing,
		Persisted:   s.Persisted,
		PublishedAt: s.PublishedAt,
		Agents:      make([]AgentSummary, 0, len(s.Frame.Sources)),
	}

	seen := make(map[int]bool, len(s.Frame.Sources))
	for _, src := range s.Frame.Sources {
		a := AgentSummary{AgentID: src.AgentID, Points: src.Count}
		if b, ok := s.Boxes[src.AgentID]; ok {
			a.Box = &b
		}
		out.Agents = append(out.Agents, a)
		seen[src.AgentID] = true
	}
	// Boxes without points still show up.
	for id, b := range s.Boxes {
		if !seen[id] {
			out.Agents = append(out.Agents, AgentSummary{AgentID: id, Box: &b})
		}
	}
	sort.Slice(out.Agents, func(i, j int) bool { return out.Agents[i].AgentID < out.Agents[j].AgentID })

	if stride > 0 {
		out.Stride = stride
		out.Sample = samplePoints(s, stride)
	}
	return out
}

func samplePoints(s *visualiser.Snapshot, stride int) [][4]float64 {
	n := s.Frame.Len()
	if n == 0 || stride <= 0 {
		return nil
	}
	pts := make([][4]float64, 0, min(n/stride+1, MaxPoints))
	for i := 0; i < n && len(pts) < MaxPoints; i += stride {
		var p [4]float64
		for j := range 4 {
			p[j] = s.Frame.Points.At(i, j)
		}
		pts = append(pts, p)
	}
	return pts
}

// handleLatestFrame returns a summary of the latest published frame.
// Query params:
//
//	points (optional, include a decimated point sample)
//	stride (optional, decimation for the sample, default from config)
func (ws *WebServer) handleLatestFrame(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	snap := ws.frames.Latest()
	if snap == nil {
		httputil.NotFound(w, "no frame published yet")
		return
	}

	stride := 0
	if r.URL.Query().Get("points") == "true" {
		var ok bool
		if stride, ok = ws.strideParam(r); !ok {
			httputil.BadRequest(w, "invalid stride")
			return
		}
		if stride == 0 {
			stride = 1
		}
	}
	httputil.WriteJSONOK(w, summarise(snap, stride))
}
