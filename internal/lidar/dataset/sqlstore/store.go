// Package sqlstore is a dataset.Store backed by a sqlite database, for runs
// that want ad hoc SQL over the recorded ticks.
package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/multierr"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/lidarfusion/internal/lidar/dataset"
	"github.com/banshee-data/lidarfusion/internal/monitoring"
)

var logf = monitoring.Tagged("SQLStore")

// Store implements dataset.Store over sqlite.
type Store struct {
	db     *sql.DB
	path   string
	header dataset.Header
	ticks  []uint64
	closed bool
}

var _ dataset.Store = (*Store)(nil)

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		return nil, multierr.Append(fmt.Errorf("apply pragmas: %w", err), db.Close())
	}
	if err := MigrateUp(db); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return db, nil
}

// Create creates a dataset in the sqlite database at path.
func Create(path string, h dataset.Header) (*Store, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if h.FormatVersion == 0 {
		h.FormatVersion = dataset.FormatVersion
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM dataset_header`).Scan(&n); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	if n > 0 {
		return nil, multierr.Append(fmt.Errorf("%s: %w", path, dataset.ErrDatasetExists), db.Close())
	}

	hj, err := json.Marshal(h)
	if err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	if _, err := db.Exec(`INSERT INTO dataset_header (header_id, run_id, header_json, created_unix_nanos) VALUES (1, ?, ?, ?)`,
		h.RunID, string(hj), h.CreatedAt.UnixNano()); err != nil {
		return nil, multierr.Append(fmt.Errorf("insert header: %w", err), db.Close())
	}

	logf("created dataset %s run=%s agents=%d", path, h.RunID, h.Agents())
	return &Store{db: db, path: path, header: h}, nil
}

// Open opens an existing dataset in the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	var hj string
	if err := db.QueryRow(`SELECT header_json FROM dataset_header WHERE header_id = 1`).Scan(&hj); err != nil {
		return nil, multierr.Append(fmt.Errorf("read header: %w", err), db.Close())
	}
	var h dataset.Header
	if err := json.Unmarshal([]byte(hj), &h); err != nil {
		return nil, multierr.Append(fmt.Errorf("parse header: %w", err), db.Close())
	}

	s := &Store{db: db, path: path, header: h}
	rows, err := db.Query(`SELECT tick_id FROM dataset_ticks ORDER BY tick_id`)
	if err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	defer rows.Close()
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, multierr.Append(err, db.Close())
		}
		s.ticks = append(s.ticks, uint64(t))
	}
	if err := rows.Err(); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return s, nil
}

// DB exposes the underlying database for read-only debug tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Header returns the dataset header.
func (s *Store) Header() dataset.Header { return s.header }

// Ticks returns the stored tick ids in append order.
func (s *Store) Ticks() []uint64 { return append([]uint64(nil), s.ticks...) }

// AppendRecord writes r in one transaction.
func (s *Store) AppendRecord(r dataset.Record) (err error) {
	if s.closed {
		return dataset.ErrClosed
	}
	agents, capacity := s.header.Agents(), s.header.PointCapacity
	if len(r.Clouds) != agents || len(r.Poses) != agents || len(r.Boxes) != agents ||
		len(r.Counts) != agents || len(r.Present) != agents {
		return fmt.Errorf("tick %d: want %d slots: %w", r.TickID, agents, dataset.ErrRecordShape)
	}
	if n := len(s.ticks); n > 0 && r.TickID <= s.ticks[n-1] {
		return fmt.Errorf("append tick %d after %d: %w", r.TickID, s.ticks[n-1], dataset.ErrNonMonotonicTick)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	counts := make([]int, agents)
	total, present := 0, 0
	for a := 0; a < agents; a++ {
		n := r.Counts[a]
		if n > len(r.Clouds[a]) {
			n = len(r.Clouds[a])
		}
		if n > capacity {
			logf("tick %d slot %d: truncated %d points to capacity %d", r.TickID, a, n, capacity)
			n = capacity
		}
		counts[a] = n
		total += n
		if r.Present[a] {
			present++
		}
	}

	if _, err = tx.Exec(`INSERT INTO dataset_ticks (tick_id, present_count, total_points, written_unix_nanos) VALUES (?, ?, ?, ?)`,
		int64(r.TickID), present, total, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("insert tick %d: %w", r.TickID, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO dataset_slots (
		tick_id, agent_slot, agent_id, present, point_count, point_cloud,
		pose_x, pose_y, pose_z, pose_pitch, pose_yaw, pose_roll,
		bbox_x, bbox_y, bbox_z, bbox_yaw, bbox_pitch, bbox_width, bbox_length, bbox_height
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for a := 0; a < agents; a++ {
		args := []interface{}{
			int64(r.TickID), a, s.header.AgentIDs[a], r.Present[a], counts[a], dataset.EncodeCloud(r.Clouds[a][:counts[a]]),
		}
		for _, v := range r.Poses[a] {
			args = append(args, float64(v))
		}
		for _, v := range r.Boxes[a] {
			args = append(args, float64(v))
		}
		if _, err = stmt.Exec(args...); err != nil {
			return fmt.Errorf("insert tick %d slot %d: %w", r.TickID, a, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	s.ticks = append(s.ticks, r.TickID)
	return nil
}

// ReadRecord returns the record for tickID with clouds trimmed to their counts.
func (s *Store) ReadRecord(tickID uint64) (dataset.Record, error) {
	if s.closed {
		return dataset.Record{}, dataset.ErrClosed
	}

	rows, err := s.db.Query(`SELECT agent_slot, present, point_count, point_cloud,
		pose_x, pose_y, pose_z, pose_pitch, pose_yaw, pose_roll,
		bbox_x, bbox_y, bbox_z, bbox_yaw, bbox_pitch, bbox_width, bbox_length, bbox_height
		FROM dataset_slots WHERE tick_id = ? ORDER BY agent_slot`, int64(tickID))
	if err != nil {
		return dataset.Record{}, err
	}
	defer rows.Close()

	r := dataset.NewRecord(tickID, s.header.Agents())
	found := 0
	for rows.Next() {
		var (
			slot, count int
			present     bool
			blob        []byte
			p           [6]float64
			b           [8]float64
		)
		if err := rows.Scan(&slot, &present, &count, &blob,
			&p[0], &p[1], &p[2], &p[3], &p[4], &p[5],
			&b[0], &b[1], &b[2], &b[3], &b[4], &b[5], &b[6], &b[7]); err != nil {
			return dataset.Record{}, err
		}
		if slot < 0 || slot >= len(r.Clouds) {
			return dataset.Record{}, fmt.Errorf("tick %d: slot %d out of range: %w", tickID, slot, dataset.ErrRecordShape)
		}

		cloud, err := dataset.DecodeCloud(blob)
		if err != nil {
			return dataset.Record{}, fmt.Errorf("tick %d slot %d: %w", tickID, slot, err)
		}
		if len(cloud) != count {
			return dataset.Record{}, fmt.Errorf("tick %d slot %d: blob holds %d points, count says %d", tickID, slot, len(cloud), count)
		}
		r.Clouds[slot] = cloud
		r.Counts[slot] = count
		r.Present[slot] = present
		for i, v := range p {
			r.Poses[slot][i] = float32(v)
		}
		for i, v := range b {
			r.Boxes[slot][i] = float32(v)
		}
		found++
	}
	if err := rows.Err(); err != nil {
		return dataset.Record{}, err
	}
	if found == 0 {
		return dataset.Record{}, fmt.Errorf("tick %d: %w", tickID, dataset.ErrTickNotFound)
	}
	return r, nil
}

// ReadPadded returns the record for tickID with every cloud zero-filled to capacity.
func (s *Store) ReadPadded(tickID uint64) (dataset.Record, error) {
	r, err := s.ReadRecord(tickID)
	if err != nil {
		return r, err
	}
	for a := range r.Clouds {
		r.Clouds[a], _ = dataset.Pad(r.Clouds[a], s.header.PointCapacity)
	}
	return r, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	if err == nil {
		logf("closed dataset %s with %d records", s.path, len(s.ticks))
	}
	return err
}
