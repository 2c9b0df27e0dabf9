// Package monitor serves the HTTP view of a running fusion pipeline: health,
// the latest fused frame, pipeline counters and debug charts.
package monitor

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"

	"github.com/banshee-data/lidarfusion/internal/httputil"
	"github.com/banshee-data/lidarfusion/internal/lidar/pipeline"
	"github.com/banshee-data/lidarfusion/internal/lidar/visualiser"
	"github.com/banshee-data/lidarfusion/internal/monitoring"
)

var logf = monitoring.Tagged("Monitor")

// DefaultPointStride decimates points returned by the frame endpoints.
const DefaultPointStride = 10

// MaxPoints caps the number of points any endpoint returns.
const MaxPoints = 50000

// WebServer handles the HTTP interface for monitoring the pipeline.
type WebServer struct {
	address string
	frames  *visualiser.FrameStore
	stats   *pipeline.Stats
	db      *sql.DB
	dbLabel string
	tsql    *tailsql.Server
	stride  int
	server  *http.Server
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Frames  *visualiser.FrameStore
	Stats   *pipeline.Stats
	// DB is the sqlite dataset, exposed through tailsql when set.
	DB      *sql.DB
	DBLabel string
	// EnableSQL mounts tailsql even without a DB, for one attached later
	// with SetDB.
	EnableSQL bool
	// PointStride is the default decimation for frame endpoints.
	PointStride int
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		frames:  config.Frames,
		stats:   config.Stats,
		db:      config.DB,
		dbLabel: config.DBLabel,
		stride:  config.PointStride,
	}
	enableSQL := config.EnableSQL || config.DB != nil
	if ws.frames == nil {
		ws.frames = visualiser.NewFrameStore()
	}
	if ws.stride <= 0 {
		ws.stride = DefaultPointStride
	}
	if ws.dbLabel == "" {
		ws.dbLabel = "Dataset"
	}

	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.setupRoutes(enableSQL),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Handler returns the server's route handler.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down.
// It returns early if the listener cannot be started.
func (ws *WebServer) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		logf("starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			logf("HTTP server force close error: %v", err)
		}
	}

	logf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes(enableSQL bool) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/frame/latest", ws.handleLatestFrame)
	mux.HandleFunc("/api/stats", ws.handleStats)

	ws.attachDebugRoutes(mux, enableSQL)
	return mux
}

// strideParam reads ?stride=, falling back to the server default.
func (ws *WebServer) strideParam(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("stride")
	if v == "" {
		return ws.stride, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": ws.frames.Version(),
	}
	httputil.WriteJSONOK(w, status)
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	if ws.stats == nil {
		httputil.NotFound(w, "no pipeline stats available")
		return
	}
	withHistory, _ := strconv.ParseBool(r.URL.Query().Get("history"))
	httputil.WriteJSONOK(w, ws.stats.Snapshot(withHistory))
}
