package fsutil

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseFileSystem(t *testing.T, fsys FileSystem, root string) {
	t.Helper()

	dir := filepath.Join(root, "dataset")
	require.NoError(t, fsys.MkdirAll(dir, 0755))
	assert.True(t, fsys.Exists(dir))

	name := filepath.Join(dir, "point_count.bin")
	w, err := fsys.Append(name)
	require.NoError(t, err)
	_, err = w.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	_, err = w.Write([]byte{4, 5})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = fsys.Append(name)
	require.NoError(t, err)
	_, err = w.Write([]byte{6})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	size, err := fsys.Size(name)
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)

	r, err := fsys.OpenReaderAt(name)
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = r.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 4, 5}, buf)
	_, err = r.ReadAt(buf, 5)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, r.Close())

	require.NoError(t, fsys.Truncate(name, 4))
	size, err = fsys.Size(name)
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
	data, err := fsys.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
	assert.Error(t, fsys.Truncate(filepath.Join(dir, "missing.bin"), 0))

	header := filepath.Join(dir, "header.json")
	require.NoError(t, fsys.WriteFile(header, []byte(`{"a":1}`), 0644))
	data, err = fsys.ReadFile(header)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	require.NoError(t, fsys.RemoveAll(dir))
	assert.False(t, fsys.Exists(name))
	_, err = fsys.ReadFile(header)
	assert.Error(t, err)
}

func TestOSFileSystem(t *testing.T) {
	exerciseFileSystem(t, OSFileSystem{}, t.TempDir())
}

func TestMemoryFileSystem(t *testing.T) {
	exerciseFileSystem(t, NewMemoryFileSystem(), "/mem")
}

func TestMemoryFileSystem_ReadFileReturnsCopy(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, m.WriteFile("/a", []byte("abc"), 0644))

	data, err := m.ReadFile("/a")
	require.NoError(t, err)
	data[0] = 'z'

	again, err := m.ReadFile("/a")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}
