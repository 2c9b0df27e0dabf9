// Package fsutil provides the filesystem abstraction used by the fixed-shape
// dataset store, so records can be written to disk or kept in memory in tests.
package fsutil

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ReaderAtCloser is a random-access reader over one file.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// FileSystem abstracts the filesystem operations the dataset store needs.
// Use OSFileSystem for production; MemoryFileSystem for testing.
type FileSystem interface {
	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to the named file, creating or truncating it.
	WriteFile(name string, data []byte, perm os.FileMode) error

	// Append opens the named file for appending, creating it if necessary.
	Append(name string) (io.WriteCloser, error)

	// OpenReaderAt opens the named file for random-access reads.
	OpenReaderAt(name string) (ReaderAtCloser, error)

	// Size returns the size of the named file in bytes.
	Size(name string) (int64, error)

	// Truncate shrinks the named file to size bytes.
	Truncate(name string, size int64) error

	// MkdirAll creates a directory and all necessary parents.
	MkdirAll(path string, perm os.FileMode) error

	// RemoveAll removes path and any children it contains.
	RemoveAll(path string) error

	// Exists checks if a file or directory exists.
	Exists(name string) bool
}

// OSFileSystem implements FileSystem using the os package.
type OSFileSystem struct{}

func (OSFileSystem) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (OSFileSystem) Append(name string) (io.WriteCloser, error) {
	return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func (OSFileSystem) OpenReaderAt(name string) (ReaderAtCloser, error) {
	return os.Open(name)
}

func (OSFileSystem) Size(name string) (int64, error) {
	info, err := os.Stat(name)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (OSFileSystem) Truncate(name string, size int64) error { return os.Truncate(name, size) }

func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (OSFileSystem) RemoveAll(path string) error { return os.RemoveAll(path) }

func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// MemoryFileSystem provides an in-memory filesystem for testing.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

// NewMemoryFileSystem creates a new in-memory filesystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}
}

// ReadFile returns a copy of the file's contents.
func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = filepath.Clean(name)
	data, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	return bytes.Clone(data), nil
}

// WriteFile replaces the file's contents.
func (m *MemoryFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[filepath.Clean(name)] = bytes.Clone(data)
	return nil
}

// Append returns a writer whose writes land in the file immediately.
func (m *MemoryFileSystem) Append(name string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = filepath.Clean(name)
	if _, ok := m.files[name]; !ok {
		m.files[name] = []byte{}
	}
	return &memAppender{fs: m, name: name}, nil
}

// OpenReaderAt returns a reader over a snapshot of the file's current contents.
func (m *MemoryFileSystem) OpenReaderAt(name string) (ReaderAtCloser, error) {
	data, err := m.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return nopCloserReaderAt{bytes.NewReader(data)}, nil
}

// Size returns the length of the file's contents.
func (m *MemoryFileSystem) Size(name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = filepath.Clean(name)
	data, ok := m.files[name]
	if !ok {
		return 0, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return int64(len(data)), nil
}

// Truncate shrinks the file to size bytes, zero-extending if it is shorter.
func (m *MemoryFileSystem) Truncate(name string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = filepath.Clean(name)
	data, ok := m.files[name]
	if !ok {
		return &fs.PathError{Op: "truncate", Path: name, Err: fs.ErrNotExist}
	}
	if size < 0 {
		return &fs.PathError{Op: "truncate", Path: name, Err: fs.ErrInvalid}
	}
	if int64(len(data)) >= size {
		m.files[name] = data[:size:size]
		return nil
	}
	m.files[name] = append(data, make([]byte, size-int64(len(data)))...)
	return nil
}

// MkdirAll records the directory and its parents.
func (m *MemoryFileSystem) MkdirAll(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	m.dirs[path] = true
	for p := filepath.Dir(path); p != "." && p != "/" && p != path; p = filepath.Dir(p) {
		m.dirs[p] = true
	}
	return nil
}

// RemoveAll removes a path and its children.
func (m *MemoryFileSystem) RemoveAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	for name := range m.files {
		if name == path || strings.HasPrefix(name, path+"/") {
			delete(m.files, name)
		}
	}
	for name := range m.dirs {
		if name == path || strings.HasPrefix(name, path+"/") {
			delete(m.dirs, name)
		}
	}
	return nil
}

// Exists checks if a file or directory exists.
func (m *MemoryFileSystem) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = filepath.Clean(name)
	if _, ok := m.files[name]; ok {
		return true
	}
	return m.dirs[name]
}

type memAppender struct {
	fs     *MemoryFileSystem
	name   string
	closed bool
}

func (a *memAppender) Write(p []byte) (int, error) {
	if a.closed {
		return 0, fs.ErrClosed
	}
	a.fs.mu.Lock()
	defer a.fs.mu.Unlock()
	a.fs.files[a.name] = append(a.fs.files[a.name], p...)
	return len(p), nil
}

func (a *memAppender) Close() error {
	a.closed = true
	return nil
}

type nopCloserReaderAt struct {
	*bytes.Reader
}

func (nopCloserReaderAt) Close() error { return nil }
