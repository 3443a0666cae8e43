package format

// Address-cycle encoding for the TC58NVG0S3HTA00.
//
// A full page address is clocked in over four cycles:
//
//	cycle 0: COL[7:0]
//	cycle 1: COL[15:8]
//	cycle 2: BLOCK[1:0] << 6 | PAGE[5:0]
//	cycle 3: BLOCK[10:2]
//
// A block (erase) address is clocked in over two cycles:
//
//	cycle 0: BLOCK[7:0]
//	cycle 1: BLOCK[15:8]

// PageAddrCycles is the number of address cycles in a full page address.
const PageAddrCycles = 4

// BlockAddrCycles is the number of address cycles in a block address.
const BlockAddrCycles = 2

// PageAddress encodes the four address cycles selecting a column within a
// page within a block.
func PageAddress(block, page, col uint32) []byte {
	return []byte{
		byte(col),
		byte(col >> 8),
		byte((block&0x3)<<6) | byte(page&0x3F),
		byte(block >> 2),
	}
}

// BlockAddress encodes the two address cycles selecting a block for erase.
func BlockAddress(block uint32) []byte {
	return []byte{
		byte(block),
		byte(block >> 8),
	}
}

// DecodePageAddress is the inverse of PageAddress. It is used by the
// simulator's device model to interpret clocked-in address cycles.
func DecodePageAddress(cycles []byte) (block, page, col uint32) {
	if len(cycles) < PageAddrCycles {
		return 0, 0, 0
	}
	col = uint32(cycles[0]) | uint32(cycles[1])<<8
	page = uint32(cycles[2] & 0x3F)
	block = uint32(cycles[2]>>6) | uint32(cycles[3])<<2
	return block, page, col
}

// DecodeBlockAddress is the inverse of BlockAddress.
func DecodeBlockAddress(cycles []byte) uint32 {
	if len(cycles) < BlockAddrCycles {
		return 0
	}
	return uint32(cycles[0]) | uint32(cycles[1])<<8
}
