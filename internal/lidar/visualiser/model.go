// Package visualiser hands fused frames to downstream viewers: an in-process
// versioned snapshot store, a compact frame codec and a gRPC frame stream.
package visualiser

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/lidarfusion/internal/lidar/bbox"
	"github.com/banshee-data/lidarfusion/internal/lidar/fusion"
)

// Snapshot is one published frame. A published snapshot is never modified;
// readers may hold it for as long as they like.
type Snapshot struct {
	Version     uint64
	Frame       fusion.FusedFrame
	Boxes       map[int]bbox.VehicleBoundingBox
	Wireframes  map[int][16]r3.Vector
	Missing     int
	Persisted   bool
	PublishedAt time.Time
}

// NewSnapshot builds an unpublished snapshot with a wireframe for each box.
func NewSnapshot(frame fusion.FusedFrame, boxes map[int]bbox.VehicleBoundingBox, missing int) Snapshot {
	s := Snapshot{
		Frame:      frame,
		Boxes:      make(map[int]bbox.VehicleBoundingBox, len(boxes)),
		Wireframes: make(map[int][16]r3.Vector, len(boxes)),
		Missing:    missing,
	}
	for id, b := range boxes {
		s.Boxes[id] = b
		s.Wireframes[id] = b.Wireframe()
	}
	return s
}

// TickID returns the tick of the snapshot's frame.
func (s *Snapshot) TickID() uint64 { return s.Frame.TickID }

// FrameStore holds the latest published snapshot. One writer publishes;
// any number of readers poll Latest or block in Wait.
type FrameStore struct {
	cur atomic.Pointer[Snapshot]

	mu      sync.Mutex
	changed chan struct{}
}

// NewFrameStore creates an empty FrameStore.
func NewFrameStore() *FrameStore {
	return &FrameStore{changed: make(chan struct{})}
}

// Publish stores s as the latest snapshot and wakes waiting readers. It
// assigns and returns the snapshot version.
func (fs *FrameStore) Publish(s Snapshot) uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var version uint64 = 1
	if prev := fs.cur.Load(); prev != nil {
		version = prev.Version + 1
	}
	s.Version = version
	if s.PublishedAt.IsZero() {
		s.PublishedAt = time.Now()
	}
	fs.cur.Store(&s)

	close(fs.changed)
	fs.changed = make(chan struct{})
	return version
}

// Latest returns the most recent snapshot, or nil before the first Publish.
func (fs *FrameStore) Latest() *Snapshot {
	return fs.cur.Load()
}

// Version returns the latest published version, zero before the first Publish.
func (fs *FrameStore) Version() uint64 {
	if s := fs.cur.Load(); s != nil {
		return s.Version
	}
	return 0
}

// Wait blocks until a snapshot newer than after is published or ctx is done.
// Intermediate versions may be skipped.
func (fs *FrameStore) Wait(ctx context.Context, after uint64) (*Snapshot, error) {
	for {
		fs.mu.Lock()
		s := fs.cur.Load()
		ch := fs.changed
		fs.mu.Unlock()

		if s != nil && s.Version > after {
			return s, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
