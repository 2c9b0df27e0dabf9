// Package datasettest holds the behaviour every dataset.Store backend must share.
package datasettest

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarfusion/internal/lidar/dataset"
)

// NewStoreFunc creates an empty store for h.
type NewStoreFunc func(t *testing.T, h dataset.Header) dataset.Store

// ThreeAgentRecord returns a record for three agent slots where the middle
// agent is absent and the last agent has no points.
func ThreeAgentRecord(tick uint64) dataset.Record {
	r := dataset.NewRecord(tick, 3)

	r.Clouds[0] = [][4]float32{{1, 2, 3, 0.5}, {-1.25, 0, 8, 1}}
	r.Counts[0] = 2
	r.Poses[0] = [6]float32{10, 20, 1.5, 0, 90, 0}
	r.Boxes[0] = [8]float32{10, 20, 0, 90, 0, 4.5, 1.8, 1.4}
	r.Present[0] = true

	r.Clouds[1] = [][4]float32{}

	r.Clouds[2] = [][4]float32{}
	r.Poses[2] = [6]float32{-5, 3, 2.25, 1, -45, 0.5}
	r.Boxes[2] = [8]float32{-5, 3, 0, -45, 1, 4, 2, 1.5}
	r.Present[2] = true

	return r
}

// RunStoreContract exercises newStore against the shared Store behaviour.
func RunStoreContract(t *testing.T, newStore NewStoreFunc) {
	t.Run("RoundTrip", func(t *testing.T) {
		s := newStore(t, dataset.NewHeader([]int{11, 12, 13}, 4))
		want := []dataset.Record{ThreeAgentRecord(1), ThreeAgentRecord(2), ThreeAgentRecord(5)}
		for _, r := range want {
			require.NoError(t, s.AppendRecord(r))
		}

		assert.Equal(t, []uint64{1, 2, 5}, s.Ticks())
		for _, w := range want {
			got, err := s.ReadRecord(w.TickID)
			require.NoError(t, err)
			if diff := cmp.Diff(w, got); diff != "" {
				t.Errorf("tick %d mismatch (-want +got):\n%s", w.TickID, diff)
			}
		}
	})

	t.Run("PaddedShape", func(t *testing.T) {
		s := newStore(t, dataset.NewHeader([]int{11, 12, 13}, 4))
		require.NoError(t, s.AppendRecord(ThreeAgentRecord(3)))

		got, err := s.ReadPadded(3)
		require.NoError(t, err)
		for slot, c := range got.Clouds {
			assert.Len(t, c, 4, "slot %d", slot)
		}
		assert.Equal(t, [4]float32{}, got.Clouds[0][2])
		assert.Equal(t, []int{2, 0, 0}, got.Counts)
	})

	t.Run("TruncatesToCapacity", func(t *testing.T) {
		s := newStore(t, dataset.NewHeader([]int{1}, 2))
		r := dataset.NewRecord(7, 1)
		r.Clouds[0] = [][4]float32{{1, 1, 1, 1}, {2, 2, 2, 2}, {3, 3, 3, 3}}
		r.Counts[0] = 3
		r.Present[0] = true
		require.NoError(t, s.AppendRecord(r))

		got, err := s.ReadRecord(7)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Counts[0])
		assert.Equal(t, [][4]float32{{1, 1, 1, 1}, {2, 2, 2, 2}}, got.Clouds[0])
	})

	t.Run("MonotonicTicks", func(t *testing.T) {
		s := newStore(t, dataset.NewHeader([]int{11, 12, 13}, 4))
		require.NoError(t, s.AppendRecord(ThreeAgentRecord(10)))

		err := s.AppendRecord(ThreeAgentRecord(10))
		assert.True(t, errors.Is(err, dataset.ErrNonMonotonicTick))
		err = s.AppendRecord(ThreeAgentRecord(9))
		assert.True(t, errors.Is(err, dataset.ErrNonMonotonicTick))
		assert.Equal(t, []uint64{10}, s.Ticks())
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		s := newStore(t, dataset.NewHeader([]int{11, 12, 13}, 4))
		err := s.AppendRecord(dataset.NewRecord(1, 2))
		assert.True(t, errors.Is(err, dataset.ErrRecordShape))
		assert.Empty(t, s.Ticks())
	})

	t.Run("MissingTick", func(t *testing.T) {
		s := newStore(t, dataset.NewHeader([]int{11, 12, 13}, 4))
		_, err := s.ReadRecord(42)
		assert.True(t, errors.Is(err, dataset.ErrTickNotFound))
	})

	t.Run("Header", func(t *testing.T) {
		h := dataset.NewHeader([]int{11, 12, 13}, 4)
		h.Map = "Town03"
		h.FPS = 10
		s := newStore(t, h)
		got := s.Header()
		assert.Equal(t, h.RunID, got.RunID)
		assert.Equal(t, h.AgentIDs, got.AgentIDs)
		assert.Equal(t, "Town03", got.Map)
		assert.Equal(t, 10, got.FPS)
	})
}
