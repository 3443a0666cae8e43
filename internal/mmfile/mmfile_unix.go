//go:build unix

package mmfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a read-write memory-mapped file of fixed size.
type File struct {
	f    *os.File
	data []byte
	size int64
}

// OpenRW opens (creating if necessary) the file at path, extends it to size
// bytes, and maps it read-write. New bytes are zero-initialized by the OS;
// callers that need a different fill pattern must write it themselves.
func OpenRW(path string, size int64) (*File, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmfile: invalid size %d", size)
	}
	if size > int64(^uint(0)>>1) {
		return nil, fmt.Errorf("mmfile: file too large to map (%d bytes)", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.Size() < size {
		if err := f.Truncate(size); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("mmfile: extend to %d bytes: %w", size, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmfile: mmap failed: %w", err)
	}

	return &File{f: f, data: data, size: size}, nil
}

// Bytes returns the mapped contents. Writes through the slice are visible to
// other mappings immediately and reach the file on Sync or Close.
func (m *File) Bytes() []byte { return m.data }

// Size returns the mapped length in bytes.
func (m *File) Size() int64 { return m.size }

// Sync flushes the mapping to the file with msync.
func (m *File) Sync() error {
	if m.data == nil {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

// Close unmaps and closes the file. Double close is a no-op.
func (m *File) Close() error {
	var err error
	if m.data != nil {
		unmapErr := unix.Munmap(m.data)
		if unmapErr != nil && !errors.Is(unmapErr, unix.EINVAL) {
			err = unmapErr
		}
		m.data = nil
	}
	if m.f != nil {
		if closeErr := m.f.Close(); err == nil {
			err = closeErr
		}
		m.f = nil
	}
	return err
}
