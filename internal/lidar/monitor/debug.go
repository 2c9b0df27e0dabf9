package monitor

import (
	"bytes"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/lidarfusion/internal/httputil"
	"github.com/banshee-data/lidarfusion/internal/lidar/export"
)

// attachDebugRoutes mounts the chart, plot and SQL debug pages under /debug/.
func (ws *WebServer) attachDebugRoutes(mux *http.ServeMux, enableSQL bool) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("charts/frame", "Latest fused frame (top-down scatter)", ws.handleFrameChart)
	debug.HandleFunc("charts/ticks", "Per-tick points and missing measurements", ws.handleTickChart)
	debug.HandleFunc("plot.png", "Latest fused frame rendered as PNG", ws.handlePlotPNG)

	if !enableSQL {
		return
	}
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		logf("failed to create tailsql server: %v", err)
		return
	}
	ws.tsql = tsql
	if ws.db != nil {
		ws.SetDB(ws.db)
	}
	debug.Handle("tailsql/", "SQL live debugging of the dataset", tsql.NewMux())
}

// SetDB points the tailsql page at db. It is a no-op when SQL debugging is
// not enabled.
func (ws *WebServer) SetDB(db *sql.DB) {
	if ws.tsql == nil || db == nil {
		return
	}
	ws.db = db
	ws.tsql.SetDB("sqlite://dataset.db", db, &tailsql.DBOptions{
		Label: ws.dbLabel,
	})
}

// handlePlotPNG renders the latest frame with gonum/plot.
func (ws *WebServer) handlePlotPNG(w http.ResponseWriter, r *http.Request) {
	snap := ws.frames.Latest()
	if snap == nil {
		httputil.NotFound(w, "no frame published yet")
		return
	}

	var buf bytes.Buffer
	if err := export.RenderPNG(&buf, snap.Frame, snap.Wireframes); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
