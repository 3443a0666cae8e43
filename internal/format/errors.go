package format

import "errors"

var (
	// ErrSnapshotMagic indicates the snapshot buffer had an unexpected magic.
	ErrSnapshotMagic = errors.New("format: snapshot magic mismatch")
	// ErrSnapshotVersion indicates an unknown snapshot format version.
	ErrSnapshotVersion = errors.New("format: unsupported snapshot version")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrChecksum indicates the snapshot CRC did not match its contents.
	ErrChecksum = errors.New("format: checksum mismatch")
	// ErrGeometry indicates the snapshot geometry disagrees with the current configuration.
	ErrGeometry = errors.New("format: snapshot geometry mismatch")
)
