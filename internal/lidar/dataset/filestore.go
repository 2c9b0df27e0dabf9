package dataset

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/banshee-data/lidarfusion/internal/fsutil"
	"github.com/banshee-data/lidarfusion/internal/monitoring"
)

var logf = monitoring.Tagged("Dataset")

// File names inside a FileStore directory. Every .bin file is little-endian
// and tick-major; within a tick, slots follow Header.AgentIDs order.
const (
	HeaderFile      = "header.json"
	TickIDFile      = "tick_id.bin"             // u64 per tick
	PointCloudFile  = "point_cloud.bin"         // f32 [agent][capacity][4] per tick
	PointCountFile  = "point_count.bin"         // u32 [agent] per tick
	LidarPoseFile   = "lidar_pose.bin"          // f32 [agent][6] per tick
	BoundingBoxFile = "vehicle_boundingbox.bin" // f32 [agent][8] per tick
	PresentFile     = "agent_present.bin"       // u8 [agent] per tick
)

// dataFiles lists the per-tick files in write order. The tick id file is
// written last, so its length is the number of complete records.
var dataFiles = []string{PointCloudFile, PointCountFile, LidarPoseFile, BoundingBoxFile, PresentFile, TickIDFile}

// FileStore is a fixed-shape binary dataset in one directory.
type FileStore struct {
	fs     fsutil.FileSystem
	dir    string
	header Header

	ticks  []uint64
	index  map[uint64]int
	closed bool
}

// CreateFileStore creates a new dataset in dir. It fails with
// ErrDatasetExists if dir already holds a header.
func CreateFileStore(fs fsutil.FileSystem, dir string, h Header) (*FileStore, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if fs.Exists(filepath.Join(dir, HeaderFile)) {
		return nil, fmt.Errorf("%s: %w", dir, ErrDatasetExists)
	}
	if h.FormatVersion == 0 {
		h.FormatVersion = FormatVersion
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	if err := fs.WriteFile(filepath.Join(dir, HeaderFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, name := range dataFiles {
		if err := fs.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
	}

	logf("created dataset %s run=%s agents=%d capacity=%d", dir, h.RunID, h.Agents(), h.PointCapacity)
	return &FileStore{fs: fs, dir: dir, header: h, index: make(map[uint64]int)}, nil
}

// ReadHeader reads the header of the dataset in dir.
func ReadHeader(fs fsutil.FileSystem, dir string) (Header, error) {
	var h Header
	data, err := fs.ReadFile(filepath.Join(dir, HeaderFile))
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("parse header: %w", err)
	}
	if h.FormatVersion != FormatVersion {
		return h, fmt.Errorf("unsupported dataset format version %d", h.FormatVersion)
	}
	return h, h.Validate()
}

// OpenFileStore opens an existing dataset for reading and further appends.
// Bytes written past the last committed tick id are truncated away.
func OpenFileStore(fs fsutil.FileSystem, dir string) (*FileStore, error) {
	h, err := ReadHeader(fs, dir)
	if err != nil {
		return nil, err
	}

	ids, err := fs.ReadFile(filepath.Join(dir, TickIDFile))
	if err != nil {
		return nil, fmt.Errorf("read tick ids: %w", err)
	}
	n := len(ids) / 8
	s := &FileStore{
		fs:     fs,
		dir:    dir,
		header: h,
		ticks:  make([]uint64, n),
		index:  make(map[uint64]int, n),
	}
	for i := 0; i < n; i++ {
		t := binary.LittleEndian.Uint64(ids[i*8:])
		s.ticks[i] = t
		s.index[t] = i
	}
	if err := s.trimTornAppend(); err != nil {
		return nil, err
	}
	return s, nil
}

// trimTornAppend cuts every data file back to the committed tick count, so
// bytes left by an interrupted append are not read as part of later records.
func (s *FileStore) trimTornAppend() error {
	n := int64(len(s.ticks))
	for name, stride := range s.strides() {
		path := filepath.Join(s.dir, name)
		size, err := s.fs.Size(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", name, err)
		}
		want := n * stride
		switch {
		case size < want:
			return fmt.Errorf("%s: %d bytes for %d ticks: %w", name, size, n, ErrTruncatedDataset)
		case size > want:
			logf("%s: dropping %d bytes of an interrupted append", path, size-want)
			if err := s.fs.Truncate(path, want); err != nil {
				return fmt.Errorf("truncate %s: %w", name, err)
			}
		}
	}
	return nil
}

func (s *FileStore) strides() map[string]int64 {
	a := int64(s.header.Agents())
	return map[string]int64{
		PointCloudFile:  a * int64(s.header.PointCapacity) * pointBytes,
		PointCountFile:  a * 4,
		LidarPoseFile:   a * poseBytes,
		BoundingBoxFile: a * boxBytes,
		PresentFile:     a,
		TickIDFile:      8,
	}
}

// Header returns the dataset header.
func (s *FileStore) Header() Header { return s.header }

// Ticks returns the stored tick ids in append order.
func (s *FileStore) Ticks() []uint64 { return append([]uint64(nil), s.ticks...) }

// Len returns the number of stored records.
func (s *FileStore) Len() int { return len(s.ticks) }

// AppendRecord pads every cloud to the point capacity and appends r.
func (s *FileStore) AppendRecord(r Record) error {
	if s.closed {
		return ErrClosed
	}
	if err := r.checkShape(s.header.Agents()); err != nil {
		return err
	}
	if n := len(s.ticks); n > 0 && r.TickID <= s.ticks[n-1] {
		return fmt.Errorf("append tick %d after %d: %w", r.TickID, s.ticks[n-1], ErrNonMonotonicTick)
	}

	chunks := s.encode(r)
	for _, name := range dataFiles {
		if err := s.appendFile(name, chunks[name]); err != nil {
			return fmt.Errorf("append tick %d: %w", r.TickID, err)
		}
	}

	s.index[r.TickID] = len(s.ticks)
	s.ticks = append(s.ticks, r.TickID)
	return nil
}

func (s *FileStore) appendFile(name string, data []byte) (err error) {
	w, err := s.fs.Append(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, w.Close()) }()
	_, err = w.Write(data)
	return err
}

func (s *FileStore) encode(r Record) map[string][]byte {
	agents, capacity := s.header.Agents(), s.header.PointCapacity
	st := s.strides()

	cloud := make([]byte, st[PointCloudFile])
	counts := make([]byte, st[PointCountFile])
	poses := make([]byte, st[LidarPoseFile])
	boxes := make([]byte, st[BoundingBoxFile])
	present := make([]byte, st[PresentFile])
	tick := make([]byte, 8)

	slotBytes := capacity * pointBytes
	for a := 0; a < agents; a++ {
		padded, n := Pad(r.Clouds[a], capacity)
		if r.Counts[a] < n {
			n = r.Counts[a]
		}
		if len(r.Clouds[a]) > capacity {
			logf("tick %d slot %d: truncated %d points to capacity %d", r.TickID, a, len(r.Clouds[a]), capacity)
		}
		copy(cloud[a*slotBytes:], EncodeCloud(padded))
		binary.LittleEndian.PutUint32(counts[a*4:], uint32(n))
		putFloats(poses[a*poseBytes:], r.Poses[a][:])
		putFloats(boxes[a*boxBytes:], r.Boxes[a][:])
		if r.Present[a] {
			present[a] = 1
		}
	}
	binary.LittleEndian.PutUint64(tick, r.TickID)

	return map[string][]byte{
		PointCloudFile:  cloud,
		PointCountFile:  counts,
		LidarPoseFile:   poses,
		BoundingBoxFile: boxes,
		PresentFile:     present,
		TickIDFile:      tick,
	}
}

// ReadRecord returns the record for tickID with clouds trimmed to their counts.
func (s *FileStore) ReadRecord(tickID uint64) (Record, error) {
	r, err := s.ReadPadded(tickID)
	if err != nil {
		return r, err
	}
	for a := range r.Clouds {
		r.Clouds[a] = r.Clouds[a][:r.Counts[a]]
	}
	return r, nil
}

// ReadPadded returns the record for tickID with every cloud at full capacity.
func (s *FileStore) ReadPadded(tickID uint64) (Record, error) {
	if s.closed {
		return Record{}, ErrClosed
	}
	row, ok := s.index[tickID]
	if !ok {
		return Record{}, fmt.Errorf("tick %d: %w", tickID, ErrTickNotFound)
	}

	chunks := make(map[string][]byte, len(dataFiles))
	for name, stride := range s.strides() {
		buf, err := s.readAt(name, int64(row)*stride, stride)
		if err != nil {
			return Record{}, fmt.Errorf("read tick %d: %w", tickID, err)
		}
		chunks[name] = buf
	}

	agents, capacity := s.header.Agents(), s.header.PointCapacity
	r := NewRecord(tickID, agents)
	slotBytes := capacity * pointBytes
	for a := 0; a < agents; a++ {
		cloud, err := DecodeCloud(chunks[PointCloudFile][a*slotBytes : (a+1)*slotBytes])
		if err != nil {
			return Record{}, err
		}
		r.Clouds[a] = cloud
		r.Counts[a] = int(binary.LittleEndian.Uint32(chunks[PointCountFile][a*4:]))
		if r.Counts[a] > capacity {
			return Record{}, fmt.Errorf("tick %d slot %d: stored count %d exceeds capacity %d", tickID, a, r.Counts[a], capacity)
		}
		getFloats(chunks[LidarPoseFile][a*poseBytes:], r.Poses[a][:])
		getFloats(chunks[BoundingBoxFile][a*boxBytes:], r.Boxes[a][:])
		r.Present[a] = chunks[PresentFile][a] != 0
	}
	return r, nil
}

func (s *FileStore) readAt(name string, off, n int64) (buf []byte, err error) {
	f, err := s.fs.OpenReaderAt(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	buf = make([]byte, n)
	if _, err := f.ReadAt(buf, off); err != nil && !(errors.Is(err, io.EOF) && n == 0) {
		return nil, fmt.Errorf("%s at %d: %w", name, off, err)
	}
	return buf, nil
}

// Close marks the store closed. Appends are flushed as they are written.
func (s *FileStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	logf("closed dataset %s with %d records", s.dir, len(s.ticks))
	return nil
}
