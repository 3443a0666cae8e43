package blockmgr

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/wipeseals/cauliflower/internal/format"
)

// SnapshotStore persists the allocator's durable state. Load returns
// whatever it can read; the manager decides whether the result is usable
// and falls back to a full scan when it is not.
type SnapshotStore interface {
	// Load reads and decodes the most recently saved snapshot.
	Load() (*format.Snapshot, error)

	// Save durably persists the snapshot. It must not return success
	// until the bytes would survive a restart.
	Save(*format.Snapshot) error
}

// FileStore keeps the snapshot in a single file, written atomically via
// temp file + fsync + rename so a crash mid-save leaves the previous
// snapshot intact.
type FileStore struct {
	Path string
}

var _ SnapshotStore = (*FileStore)(nil)

// Load reads and decodes the snapshot file.
func (s *FileStore) Load() (*format.Snapshot, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	return format.DecodeSnapshot(data)
}

// Save encodes the snapshot and writes it atomically.
func (s *FileStore) Save(snap *format.Snapshot) error {
	buf := format.EncodeSnapshot(snap)

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".cauliflower-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(buf); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	tmp = nil

	if err := os.Rename(tmpPath, s.Path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// MemStore keeps the snapshot in memory. Tests use it where no durability
// is needed.
type MemStore struct {
	buf []byte
}

var _ SnapshotStore = (*MemStore)(nil)

// Load decodes the most recently saved snapshot.
func (s *MemStore) Load() (*format.Snapshot, error) {
	if s.buf == nil {
		return nil, os.ErrNotExist
	}
	return format.DecodeSnapshot(s.buf)
}

// Save encodes and stores the snapshot.
func (s *MemStore) Save(snap *format.Snapshot) error {
	s.buf = format.EncodeSnapshot(snap)
	return nil
}

// Corrupt flips a byte of the stored snapshot, for rebuild-path tests.
func (s *MemStore) Corrupt() {
	if len(s.buf) > 0 {
		s.buf[len(s.buf)/2] ^= 0xFF
	}
}
