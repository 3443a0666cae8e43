package nand

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/wipeseals/cauliflower/internal/format"
)

// Commander sequences NAND operations over a Driver, one chip select at a
// time. It hides command and address encoding and interprets the status
// register. Erase and program report hardware success as a boolean: a
// false result means the chip flagged the operation failed, which the
// caller is expected to treat as a bad block, not as an error.
//
// NOT thread-safe. Only one logical flow may use it at a time.
type Commander struct {
	cfg Config
	drv Driver
	log *slog.Logger

	timeout time.Duration
}

// Option configures a Commander.
type Option func(*Commander)

// WithLogger attaches a structured logger. Without it, the Commander is
// silent.
func WithLogger(l *slog.Logger) Option {
	return func(c *Commander) {
		if l != nil {
			c.log = l
		}
	}
}

// WithReadyTimeout overrides the configured busy-wait timeout.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *Commander) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewCommander returns a Commander over the given driver. The driver must
// already be set up.
func NewCommander(cfg Config, drv Driver, opts ...Option) (*Commander, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Commander{
		cfg:     cfg,
		drv:     drv,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: cfg.ReadyTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the configuration the Commander was built with.
func (c *Commander) Config() Config { return c.cfg }

// ReadID issues the identification command and returns the raw ID bytes.
// Comparing them against the expected ID is the caller's responsibility.
func (c *Commander) ReadID(cs uint8) ([]byte, error) {
	if cs >= c.cfg.NumCS {
		return nil, fmt.Errorf("%w: cs %d (have %d)", ErrOutOfRange, cs, c.cfg.NumCS)
	}

	c.drv.Select(cs)
	defer c.drv.Deselect()

	c.drv.Command(format.CmdReadID)
	c.drv.Address([]byte{format.ReadIDAddress})
	id := make([]byte, format.IDLength)
	c.drv.DataIn(id)

	c.log.Debug("read id", "cs", cs, "id", fmt.Sprintf("%x", id))
	return id, nil
}

// ReadPage reads one full page (data plus spare).
func (c *Commander) ReadPage(cs uint8, block, page uint32) ([]byte, error) {
	return c.ReadPageSlice(cs, block, page, 0, c.cfg.PageTotalBytes())
}

// ReadPageSlice reads n bytes starting at column col of a page. The
// bad-block scan uses it to read just the marker byte.
func (c *Commander) ReadPageSlice(cs uint8, block, page, col, n uint32) ([]byte, error) {
	if err := c.checkAddr(cs, block, page); err != nil {
		return nil, err
	}
	// Subtraction keeps a huge col from wrapping the sum past the guard.
	if total := c.cfg.PageTotalBytes(); n > total || col > total-n {
		return nil, fmt.Errorf("%w: col %d + %d bytes exceeds page size %d",
			ErrOutOfRange, col, n, total)
	}

	c.drv.Select(cs)
	defer c.drv.Deselect()

	c.drv.Command(format.CmdReadFirst)
	c.drv.Address(format.PageAddress(block, page, col))
	c.drv.Command(format.CmdReadSecond)
	if err := c.drv.WaitReady(c.timeout); err != nil {
		c.log.Warn("read page timeout", "cs", cs, "block", block, "page", page)
		return nil, err
	}

	data := make([]byte, n)
	c.drv.DataIn(data)
	return data, nil
}

// ReadStatus reads the one-byte status register.
func (c *Commander) ReadStatus(cs uint8) (byte, error) {
	if cs >= c.cfg.NumCS {
		return 0, fmt.Errorf("%w: cs %d (have %d)", ErrOutOfRange, cs, c.cfg.NumCS)
	}

	c.drv.Select(cs)
	defer c.drv.Deselect()

	c.drv.Command(format.CmdStatusRead)
	status := make([]byte, 1)
	c.drv.DataIn(status)
	return status[0], nil
}

// EraseBlock erases one block and reports whether the chip accepted it.
// A false result with a nil error means the status register flagged the
// erase as failed: the block has gone bad.
func (c *Commander) EraseBlock(cs uint8, block uint32) (bool, error) {
	if err := c.checkAddr(cs, block, 0); err != nil {
		return false, err
	}

	c.drv.Select(cs)
	c.drv.Command(format.CmdEraseFirst)
	c.drv.Address(format.BlockAddress(block))
	c.drv.Command(format.CmdEraseSecond)
	err := c.drv.WaitReady(c.timeout)
	c.drv.Deselect()
	if err != nil {
		c.log.Warn("erase timeout", "cs", cs, "block", block)
		return false, err
	}

	status, err := c.ReadStatus(cs)
	if err != nil {
		return false, err
	}
	ok := status&format.StatusFail == 0
	c.log.Debug("erase block", "cs", cs, "block", block, "ok", ok, "status", status)
	return ok, nil
}

// ProgramPage programs one full page and reports whether the chip accepted
// it. The payload must be exactly PageTotalBytes long; anything else is
// caller misuse and returns ErrPageSize without touching the bus.
func (c *Commander) ProgramPage(cs uint8, block, page uint32, data []byte) (bool, error) {
	if err := c.checkAddr(cs, block, page); err != nil {
		return false, err
	}
	if uint32(len(data)) != c.cfg.PageTotalBytes() {
		return false, fmt.Errorf("%w: got %d bytes, want %d",
			ErrPageSize, len(data), c.cfg.PageTotalBytes())
	}

	c.drv.Select(cs)
	c.drv.Command(format.CmdProgramFirst)
	c.drv.Address(format.PageAddress(block, page, 0))
	c.drv.DataOut(data)
	c.drv.Command(format.CmdProgramSecond)
	err := c.drv.WaitReady(c.timeout)
	c.drv.Deselect()
	if err != nil {
		c.log.Warn("program timeout", "cs", cs, "block", block, "page", page)
		return false, err
	}

	status, err := c.ReadStatus(cs)
	if err != nil {
		return false, err
	}
	ok := status&format.StatusFail == 0
	c.log.Debug("program page", "cs", cs, "block", block, "page", page, "ok", ok, "status", status)
	return ok, nil
}

func (c *Commander) checkAddr(cs uint8, block, page uint32) error {
	switch {
	case cs >= c.cfg.NumCS:
		return fmt.Errorf("%w: cs %d (have %d)", ErrOutOfRange, cs, c.cfg.NumCS)
	case block >= c.cfg.BlocksPerCS:
		return fmt.Errorf("%w: block %d (have %d)", ErrOutOfRange, block, c.cfg.BlocksPerCS)
	case page >= c.cfg.PagesPerBlock:
		return fmt.Errorf("%w: page %d (have %d)", ErrOutOfRange, page, c.cfg.PagesPerBlock)
	}
	return nil
}
