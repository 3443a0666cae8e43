package nand

import "errors"

var (
	// ErrDeviceTimeout indicates the ready/busy line never reported ready
	// within the configured timeout.
	ErrDeviceTimeout = errors.New("nand: device timeout waiting for ready")

	// ErrOutOfRange indicates a chip select, block, page, or column index
	// outside the configured geometry. This is caller misuse, not a
	// hardware condition.
	ErrOutOfRange = errors.New("nand: address out of configured range")

	// ErrPageSize indicates a program payload whose length is not the
	// full page size (data plus spare).
	ErrPageSize = errors.New("nand: payload must be exactly one full page")
)
