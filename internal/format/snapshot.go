package format

import (
	"bytes"
	"hash/crc32"

	"github.com/wipeseals/cauliflower/internal/bitmap"
)

// Allocator snapshot layout (little-endian):
//
//	0x00  4  magic "CFBA"
//	0x04  4  format version
//	0x08  4  number of chip selects
//	0x0C  4  blocks per chip select
//	0x10  .. per chip select: bad bitmap words, then allocated bitmap words
//	tail  4  CRC32 (IEEE) over everything before it
//
// The geometry fields are echoed so a configuration change is detected as a
// mismatch instead of being silently misread; any decode failure triggers
// the allocator's full-rebuild path.

var snapshotMagic = []byte{'C', 'F', 'B', 'A'}

const (
	// SnapshotVersion is the current snapshot format version.
	SnapshotVersion = 1

	snapshotHeaderSize = 16
	snapshotCRCSize    = 4
)

// Snapshot is the decoded durable allocator state.
type Snapshot struct {
	NumCS       uint32
	BlocksPerCS uint32

	// Bad and Allocated hold one bitmap per chip select, NumCS entries each.
	Bad       []*bitmap.Bitmap
	Allocated []*bitmap.Bitmap
}

func bitmapBytes(blocksPerCS uint32) int {
	words := (int(blocksPerCS) + 63) / 64
	return words * 8
}

// EncodeSnapshot serializes s into a fresh buffer.
func EncodeSnapshot(s *Snapshot) []byte {
	per := bitmapBytes(s.BlocksPerCS)
	size := snapshotHeaderSize + int(s.NumCS)*2*per + snapshotCRCSize
	buf := make([]byte, size)

	copy(buf[0:4], snapshotMagic)
	PutU32(buf, 4, SnapshotVersion)
	PutU32(buf, 8, s.NumCS)
	PutU32(buf, 12, s.BlocksPerCS)

	off := snapshotHeaderSize
	for cs := uint32(0); cs < s.NumCS; cs++ {
		off = putWords(buf, off, s.Bad[cs].Words())
		off = putWords(buf, off, s.Allocated[cs].Words())
	}

	PutU32(buf, off, crc32.ChecksumIEEE(buf[:off]))
	return buf
}

// DecodeSnapshot parses data into a Snapshot, validating magic, version,
// length, and checksum. It does not validate geometry against any
// particular configuration; see (*Snapshot).CheckGeometry.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	if len(data) < snapshotHeaderSize+snapshotCRCSize {
		return nil, ErrTruncated
	}
	if !bytes.Equal(data[0:4], snapshotMagic) {
		return nil, ErrSnapshotMagic
	}
	if v := ReadU32(data, 4); v != SnapshotVersion {
		return nil, ErrSnapshotVersion
	}

	s := &Snapshot{
		NumCS:       ReadU32(data, 8),
		BlocksPerCS: ReadU32(data, 12),
	}
	per := bitmapBytes(s.BlocksPerCS)
	want := snapshotHeaderSize + int(s.NumCS)*2*per + snapshotCRCSize
	if len(data) != want {
		return nil, ErrTruncated
	}

	body := len(data) - snapshotCRCSize
	if crc32.ChecksumIEEE(data[:body]) != ReadU32(data, body) {
		return nil, ErrChecksum
	}

	off := snapshotHeaderSize
	for cs := uint32(0); cs < s.NumCS; cs++ {
		bad := bitmap.New(s.BlocksPerCS)
		off = readWords(data, off, bad.Words())
		alloc := bitmap.New(s.BlocksPerCS)
		off = readWords(data, off, alloc.Words())
		s.Bad = append(s.Bad, bad)
		s.Allocated = append(s.Allocated, alloc)
	}
	return s, nil
}

// CheckGeometry reports ErrGeometry when the snapshot was taken under a
// different chip-select count or block count than the caller expects.
func (s *Snapshot) CheckGeometry(numCS, blocksPerCS uint32) error {
	if s.NumCS != numCS || s.BlocksPerCS != blocksPerCS {
		return ErrGeometry
	}
	return nil
}

func putWords(buf []byte, off int, words []uint64) int {
	for _, w := range words {
		PutU64(buf, off, w)
		off += 8
	}
	return off
}

func readWords(buf []byte, off int, words []uint64) int {
	for i := range words {
		words[i] = ReadU64(buf, off)
		off += 8
	}
	return off
}
