// Package format houses the low-level NAND protocol definitions: command
// bytes, status register bits, address-cycle encoding, and the on-disk
// allocator snapshot layout. The goal is to keep the byte-level knowledge
// in one place so higher-level packages can orchestrate operations without
// re-deriving the chip's wire format.
package format

// NAND command bytes for the TC58NVG0S3HTA00 command set.
const (
	// CmdReadID requests the device identification bytes.
	CmdReadID = 0x90

	// CmdReadFirst and CmdReadSecond bracket a page read: first command,
	// address cycles, second command, then busy-wait before clocking data out.
	CmdReadFirst  = 0x00
	CmdReadSecond = 0x30

	// CmdEraseFirst and CmdEraseSecond bracket a block erase.
	CmdEraseFirst  = 0x60
	CmdEraseSecond = 0xD0

	// CmdStatusRead reads the one-byte status register.
	CmdStatusRead = 0x70

	// CmdProgramFirst and CmdProgramSecond bracket a page program: first
	// command, address cycles, data payload, second command.
	CmdProgramFirst  = 0x80
	CmdProgramSecond = 0x10
)

// Status register bits.
const (
	// StatusFail is set when the most recent program or erase failed.
	StatusFail = 0x01

	// StatusCacheFail is set when a cache program operation failed.
	StatusCacheFail = 0x02

	// StatusPageBufferReady indicates the page buffer is ready.
	StatusPageBufferReady = 0x20

	// StatusDataCacheReady indicates the data cache is ready.
	StatusDataCacheReady = 0x40

	// StatusWriteEnabled is set when write protect is NOT asserted.
	StatusWriteEnabled = 0x80
)

const (
	// ReadIDAddress is the fixed address cycle issued with CmdReadID.
	ReadIDAddress = 0x00

	// IDLength is the number of identification bytes a device returns.
	IDLength = 5

	// ErasedByte is the value every byte assumes after a block erase.
	// Programming can only clear bits, never set them.
	ErasedByte = 0xFF

	// BadBlockMarkerPage and BadBlockMarkerColumn locate the factory
	// bad-block marker: any value other than ErasedByte at byte 0 of
	// page 0 marks the block bad.
	BadBlockMarkerPage   = 0
	BadBlockMarkerColumn = 0
)
