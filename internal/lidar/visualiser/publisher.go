package visualiser

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/banshee-data/lidarfusion/internal/monitoring"
)

var logf = monitoring.Tagged("Visualiser")

// Config holds configuration for the visualiser gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50051")
	ListenAddr string

	// Stride keeps every Stride-th point in streamed frames.
	Stride int

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50051",
		Stride:     1,
		MaxClients: 5,
	}
}

// Publisher owns the FrameStore and the gRPC server that streams it.
type Publisher struct {
	config Config
	store  *FrameStore
	frames *Server
	server *grpc.Server

	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewPublisher creates a Publisher with an empty FrameStore.
func NewPublisher(cfg Config) *Publisher {
	store := NewFrameStore()
	return &Publisher{
		config: cfg,
		store:  store,
		frames: NewServer(store, cfg.Stride, cfg.MaxClients),
	}
}

// Store returns the publisher's FrameStore.
func (p *Publisher) Store() *FrameStore { return p.store }

// Publish makes s the latest snapshot.
func (p *Publisher) Publish(s Snapshot) uint64 { return p.store.Publish(s) }

// Clients returns the number of connected streams.
func (p *Publisher) Clients() int { return p.frames.Clients() }

// Start binds the listen address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the frame stream on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis

	p.server = grpc.NewServer(grpc.MaxSendMsgSize(MaxMsgSize))
	RegisterService(p.server, p.frames)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logf("gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop stops the server, closing open streams.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	// Streams block until the next frame, so a graceful stop would hang.
	p.server.Stop()
	p.wg.Wait()
	logf("gRPC server stopped")
}
