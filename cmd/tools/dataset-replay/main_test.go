package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarfusion/internal/fsutil"
	"github.com/banshee-data/lidarfusion/internal/lidar/dataset"
	"github.com/banshee-data/lidarfusion/internal/lidar/dataset/datasettest"
	"github.com/banshee-data/lidarfusion/internal/lidar/dataset/sqlstore"
	"github.com/banshee-data/lidarfusion/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func writeBinary(t *testing.T, ticks ...uint64) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "run")
	s, err := dataset.CreateFileStore(fsutil.OSFileSystem{}, dir, dataset.NewHeader([]int{11, 12, 13}, 4))
	require.NoError(t, err)
	for _, tick := range ticks {
		require.NoError(t, s.AppendRecord(datasettest.ThreeAgentRecord(tick)))
	}
	require.NoError(t, s.Close())
	return dir
}

func TestOpenDataset_AutoDetect(t *testing.T) {
	dir := writeBinary(t, 1)
	s, err := openDataset(dir, "auto")
	require.NoError(t, err)
	assert.IsType(t, &dataset.FileStore{}, s)
	require.NoError(t, s.Close())

	dbPath := filepath.Join(t.TempDir(), "run.db")
	ss, err := sqlstore.Create(dbPath, dataset.NewHeader([]int{11}, 4))
	require.NoError(t, err)
	require.NoError(t, ss.Close())

	s, err = openDataset(dbPath, "")
	require.NoError(t, err)
	assert.IsType(t, &sqlstore.Store{}, s)
	require.NoError(t, s.Close())
}

func TestOpenDataset_Errors(t *testing.T) {
	_, err := openDataset(filepath.Join(t.TempDir(), "missing"), "auto")
	assert.Error(t, err)

	_, err = openDataset(t.TempDir(), "parquet")
	assert.ErrorContains(t, err, "unknown dataset format")
}

func TestReplay_SummariesAndExport(t *testing.T) {
	store, err := openDataset(writeBinary(t, 1, 2, 3), "binary")
	require.NoError(t, err)
	defer store.Close()

	out := t.TempDir()
	opts := options{
		from:   2,
		lasDir: filepath.Join(out, "las"),
		pngDir: filepath.Join(out, "png"),
	}
	var buf bytes.Buffer
	require.NoError(t, replay(store, opts, &buf))

	text := buf.String()
	assert.Contains(t, text, "agents=[11 12 13]")
	assert.NotContains(t, text, "tick 1:")
	assert.Contains(t, text, "tick 2: agents=2/3 points=2")
	assert.Contains(t, text, "tick 3: agents=2/3 points=2")

	for _, name := range []string{"las/tick_000002.las", "las/tick_000003.las", "png/tick_000002.png"} {
		_, err := os.Stat(filepath.Join(out, name))
		assert.NoError(t, err, name)
	}
}

func TestReplay_Limit(t *testing.T) {
	store, err := openDataset(writeBinary(t, 1, 2, 3), "binary")
	require.NoError(t, err)
	defer store.Close()

	var buf bytes.Buffer
	require.NoError(t, replay(store, options{limit: 1, to: 3}, &buf))
	assert.Contains(t, buf.String(), "tick 1:")
	assert.NotContains(t, buf.String(), "tick 2:")
}
