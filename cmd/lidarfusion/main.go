// Command lidarfusion runs a simulated multi-vehicle LiDAR session: it spawns
// a fleet, fuses every tick's scans into one global cloud, streams frames to
// viewers and writes the persisted ticks to a dataset.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/lidarfusion/internal/config"
	"github.com/banshee-data/lidarfusion/internal/fsutil"
	"github.com/banshee-data/lidarfusion/internal/lidar/collector"
	"github.com/banshee-data/lidarfusion/internal/lidar/dataset"
	"github.com/banshee-data/lidarfusion/internal/lidar/dataset/sqlstore"
	"github.com/banshee-data/lidarfusion/internal/lidar/monitor"
	"github.com/banshee-data/lidarfusion/internal/lidar/pipeline"
	"github.com/banshee-data/lidarfusion/internal/lidar/visualiser"
	"github.com/banshee-data/lidarfusion/internal/sim"
	"github.com/banshee-data/lidarfusion/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a JSON run configuration (defaults apply when empty)")
	datasetPath = flag.String("dataset", "", "Override dataset.path")
	format      = flag.String("format", "", "Override dataset.format (binary or sqlite)")
	frames      = flag.Int("frames", -1, "Override dataset.frames (0 runs until interrupted)")
	vehicles    = flag.Int("vehicles", 0, "Override simulation.vehicles")
	overwrite   = flag.Bool("overwrite", false, "Replace an existing dataset at the output path")
	realtime    = flag.Bool("realtime", false, "Pace ticks to 1/fps of wall-clock time")
	noMonitor   = flag.Bool("no-monitor", false, "Disable the HTTP monitor")
	noStream    = flag.Bool("no-stream", false, "Disable the gRPC frame stream")
	stride      = flag.Int("stride", 1, "Keep every Nth point in streamed frames")
	maxClients  = flag.Int("max-clients", 5, "Maximum concurrent frame stream clients")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("lidarfusion %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("run: %v", err)
	}
	log.Printf("done")
}

func loadConfig() (*config.RunConfig, error) {
	var cfg *config.RunConfig
	if *configFile != "" {
		c, err := config.LoadRunConfig(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = config.DefaultRunConfig()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
	}

	if *datasetPath != "" {
		cfg.Dataset.Path = *datasetPath
	}
	if *format != "" {
		cfg.Dataset.Format = *format
	}
	if *frames >= 0 {
		cfg.Dataset.Frames = *frames
	}
	if *vehicles > 0 {
		cfg.Simulation.Vehicles = *vehicles
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.RunConfig) error {
	synth := sim.NewSynthetic(sim.SyntheticConfig{
		Seed:        cfg.Simulation.Seed,
		FPS:         cfg.Simulation.FPS,
		SpawnRadius: cfg.Simulation.SpawnRadius,
		DropRate:    cfg.Simulation.DropRate,
	})
	defer synth.Close()

	col := collector.New(collector.Config{BacklogWarn: cfg.Collector.BacklogWarn})
	fleet := sim.NewFleet(sim.FleetConfig{
		Simulator: synth,
		Collector: col,
		Sensor:    cfg.Sensor,
		Autopilot: cfg.Simulation.Autopilot,
	})

	pub := visualiser.NewPublisher(visualiser.Config{
		ListenAddr: cfg.Visualiser.Listen,
		Stride:     *stride,
		MaxClients: *maxClients,
	})
	stats := pipeline.NewStats(pipeline.DefaultHistorySize)

	var ws *monitor.WebServer
	if !*noMonitor {
		ws = monitor.NewWebServer(monitor.WebServerConfig{
			Address:   cfg.Monitor.Listen,
			Frames:    pub.Store(),
			Stats:     stats,
			EnableSQL: cfg.Dataset.Format == config.FormatSQLite,
			DBLabel:   filepath.Base(cfg.Dataset.Path),
		})
	}

	header := dataset.NewHeader(nil, cfg.Dataset.PointCapacity)
	header.Map = cfg.Simulation.Map
	header.FPS = int(cfg.Simulation.FPS)
	sensor := cfg.Sensor
	header.Sensor = &sensor

	var tickInterval = cfg.GetTickInterval()
	if !*realtime {
		tickInterval = 0
	}

	runner := pipeline.NewRunner(pipeline.Config{
		Simulator:      synth,
		Fleet:          fleet,
		Collector:      col,
		OpenStore:      openStore(cfg.Dataset, ws),
		Header:         header,
		Publisher:      pub,
		Stats:          stats,
		Vehicles:       cfg.Simulation.Vehicles,
		SpawnAttempts:  cfg.Simulation.SpawnAttempts,
		CollectTimeout: cfg.GetCollectTimeout(),
		PartialPolicy:  cfg.Collector.PartialPolicy,
		BurnIn:         cfg.Dataset.BurnIn,
		Frames:         cfg.Dataset.Frames,
		TickInterval:   tickInterval,
	})

	if !*noStream {
		if err := pub.Start(); err != nil {
			return fmt.Errorf("start frame stream: %w", err)
		}
		defer pub.Stop()
	}

	// The monitor stops with the pipeline: runDone fires when Run returns,
	// and a monitor failure cancels the run through the group context.
	g, gctx := errgroup.WithContext(ctx)
	runCtx, runDone := context.WithCancel(gctx)
	defer runDone()

	if ws != nil {
		g.Go(func() error {
			return ws.Start(runCtx)
		})
	}
	g.Go(func() error {
		defer runDone()
		return runner.Run(runCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	s := stats.Snapshot(false)
	log.Printf("ticks=%d persisted=%d skipped=%d partial=%d missing=%d fuse_errors=%d spawn_rejected=%d",
		s.Ticks, s.Persisted, s.Skipped, s.Partial, s.MissingMeasurement, s.FuseErrors, s.SpawnRejected)
	return err
}

// openStore creates the dataset in the configured format once the fleet's
// agent ids are known.
func openStore(dc config.DatasetConfig, ws *monitor.WebServer) pipeline.OpenStoreFunc {
	return func(h dataset.Header) (dataset.Store, error) {
		switch dc.Format {
		case config.FormatSQLite:
			path := dc.Path
			if filepath.Ext(path) == "" {
				path += ".db"
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}
			if *overwrite {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return nil, err
				}
			}
			s, err := sqlstore.Create(path, h)
			if err != nil {
				return nil, err
			}
			if ws != nil {
				ws.SetDB(s.DB())
			}
			log.Printf("writing sqlite dataset %s (run %s)", path, h.RunID)
			return s, nil
		default:
			fs := fsutil.OSFileSystem{}
			if *overwrite {
				if err := fs.RemoveAll(dc.Path); err != nil {
					return nil, err
				}
			}
			s, err := dataset.CreateFileStore(fs, dc.Path, h)
			if err != nil {
				return nil, err
			}
			log.Printf("writing binary dataset %s (run %s)", dc.Path, h.RunID)
			return s, nil
		}
	}
}
