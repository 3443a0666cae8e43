package nand

import "time"

// Driver is the capability set the Commander needs from a physical or
// simulated NAND bus. Implementations sequence one operation at a time;
// nothing here is safe for concurrent use.
//
// The bus-level methods cannot fail: on real hardware they are pin wiggles,
// and the simulator models a device that always accepts bus traffic. Only
// Setup, WaitReady, and Close can report problems.
type Driver interface {
	// Setup initializes the bus (pin directions, image files) and leaves
	// every chip deselected.
	Setup() error

	// Select asserts the chip-enable line for the given chip select.
	Select(cs uint8)

	// Deselect deasserts all chip-enable lines.
	Deselect()

	// SetWriteProtect drives the write-protect line. Programming and
	// erasing require write protect to be disabled.
	SetWriteProtect(enabled bool)

	// Command clocks one command byte into the selected chip.
	Command(cmd byte)

	// Address clocks address cycles into the selected chip.
	Address(cycles []byte)

	// DataOut clocks a data payload into the selected chip.
	DataOut(p []byte)

	// DataIn clocks len(p) bytes out of the selected chip into p.
	DataIn(p []byte)

	// WaitReady blocks until the ready/busy line reports ready, or until
	// timeout elapses, in which case it returns ErrDeviceTimeout.
	WaitReady(timeout time.Duration) error

	// Close releases driver resources (closes image files, parks pins).
	Close() error
}
