package blockmgr

import "errors"

var (
	// ErrExhausted indicates no free, good block remains on the eligible
	// chip select(s).
	ErrExhausted = errors.New("blockmgr: allocation exhausted")

	// ErrInvalidState indicates an operation on a block not in the state
	// it requires, such as programming a block that is not allocated.
	ErrInvalidState = errors.New("blockmgr: block not in required state")

	// ErrOutOfRange indicates a chip select, block, or page index outside
	// the configured geometry.
	ErrOutOfRange = errors.New("blockmgr: address out of configured range")

	// ErrNoChips indicates initialization found no chip answering with
	// the expected identification bytes.
	ErrNoChips = errors.New("blockmgr: no NAND chips detected")
)
