//go:build !unix

package mmfile

import (
	"fmt"
	"os"
)

// File is a heap-buffered stand-in for the mmap implementation on platforms
// without one. Changes reach the file only on Sync or Close.
type File struct {
	path string
	data []byte
	size int64
}

// OpenRW reads the whole file into memory, extending it to size bytes.
func OpenRW(path string, size int64) (*File, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmfile: invalid size %d", size)
	}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if int64(len(data)) < size {
		data = append(data, make([]byte, size-int64(len(data)))...)
	}
	data = data[:size]
	return &File{path: path, data: data, size: size}, nil
}

// Bytes returns the buffered contents.
func (m *File) Bytes() []byte { return m.data }

// Size returns the buffer length in bytes.
func (m *File) Size() int64 { return m.size }

// Sync writes the buffer back to the file.
func (m *File) Sync() error {
	if m.data == nil {
		return nil
	}
	return os.WriteFile(m.path, m.data, 0644)
}

// Close syncs and releases the buffer. Double close is a no-op.
func (m *File) Close() error {
	if m.data == nil {
		return nil
	}
	err := m.Sync()
	m.data = nil
	return err
}
