// Package gpio bit-bangs the raw NAND bus over discrete GPIO lines. It
// drives an 8-bit data bus plus the usual control strobes (CLE, ALE, WE,
// RE, CE per chip, WP) and polls the shared ready/busy line. Timing is a
// single optional settle delay; at GPIO toggle rates the chip's own
// minimums are already comfortably met.
package gpio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/wipeseals/cauliflower/nand"
)

// ErrMissingPin indicates an incompletely wired Pins struct.
var ErrMissingPin = errors.New("gpio: missing pin assignment")

// Pin is one GPIO line. Implementations wrap whatever pin abstraction the
// host platform offers.
type Pin interface {
	// Set drives the line high or low. Only meaningful in output mode.
	Set(high bool)
	// Get samples the line. Only meaningful in input mode.
	Get() bool
	// Output switches the line to push-pull output.
	Output()
	// Input switches the line to input.
	Input()
}

// Pins is the wiring of one NAND bus. IO and every strobe are required;
// CE entries beyond the first are optional and bound the number of
// addressable chip selects.
type Pins struct {
	IO  [8]Pin // bidirectional data bus, IO[0] is bit 0
	CE  []Pin  // chip enables, active low, one per chip select
	CLE Pin    // command latch enable
	ALE Pin    // address latch enable
	WE  Pin    // write enable strobe, active low
	RE  Pin    // read enable strobe, active low
	WP  Pin    // write protect, active low
	RB  Pin    // ready/busy, low while the chip is busy
}

func (p *Pins) validate() error {
	for i, pin := range p.IO {
		if pin == nil {
			return fmt.Errorf("%w: IO%d", ErrMissingPin, i)
		}
	}
	if len(p.CE) == 0 {
		return fmt.Errorf("%w: need at least one CE line", ErrMissingPin)
	}
	for i, pin := range p.CE {
		if pin == nil {
			return fmt.Errorf("%w: CE%d", ErrMissingPin, i)
		}
	}
	named := []struct {
		name string
		pin  Pin
	}{
		{"CLE", p.CLE}, {"ALE", p.ALE}, {"WE", p.WE},
		{"RE", p.RE}, {"WP", p.WP}, {"RB", p.RB},
	}
	for _, n := range named {
		if n.pin == nil {
			return fmt.Errorf("%w: %s", ErrMissingPin, n.name)
		}
	}
	return nil
}

// Driver implements nand.Driver over a Pins wiring.
type Driver struct {
	pins  Pins
	log   *slog.Logger
	delay time.Duration
	poll  time.Duration
}

var _ nand.Driver = (*Driver)(nil)

// Option configures a Driver.
type Option func(*Driver)

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// WithSettleDelay inserts a pause while strobes are asserted, for slow
// level shifters or long wires.
func WithSettleDelay(dur time.Duration) Option {
	return func(d *Driver) { d.delay = dur }
}

// New wires a Driver. Call Setup before first use.
func New(pins Pins, opts ...Option) (*Driver, error) {
	if err := pins.validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		pins: pins,
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		poll: 100 * time.Microsecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Setup drives every line to its idle level: bus output low, chips
// deselected, strobes released, write protect asserted.
func (d *Driver) Setup() error {
	for _, pin := range d.pins.IO {
		pin.Output()
		pin.Set(false)
	}
	for _, ce := range d.pins.CE {
		ce.Output()
		ce.Set(true)
	}
	d.pins.CLE.Output()
	d.pins.CLE.Set(false)
	d.pins.ALE.Output()
	d.pins.ALE.Set(false)
	d.pins.WE.Output()
	d.pins.WE.Set(true)
	d.pins.RE.Output()
	d.pins.RE.Set(true)
	d.pins.WP.Output()
	d.pins.WP.Set(false)
	d.pins.RB.Input()
	d.log.Debug("bus idle", "chips", len(d.pins.CE))
	return nil
}

// Select re-arms the bus and enables one chip. An index past the wired CE
// lines leaves every chip deselected, which reads back as a floating bus.
func (d *Driver) Select(cs uint8) {
	d.busDir(true)
	d.pins.CLE.Set(false)
	d.pins.ALE.Set(false)
	d.pins.WE.Set(true)
	d.pins.RE.Set(true)
	for i, ce := range d.pins.CE {
		ce.Set(i != int(cs))
	}
}

// Deselect disables every chip.
func (d *Driver) Deselect() {
	for _, ce := range d.pins.CE {
		ce.Set(true)
	}
}

// SetWriteProtect drives the WP line; the pin is active low.
func (d *Driver) SetWriteProtect(protect bool) {
	d.pins.WP.Set(!protect)
}

// Command latches one command byte: bus, CLE up, WE pulse, CLE down.
func (d *Driver) Command(cmd byte) {
	d.busWrite(cmd)
	d.pins.CLE.Set(true)
	d.pins.WE.Set(false)
	d.settle()
	d.pins.WE.Set(true)
	d.pins.CLE.Set(false)
}

// Address latches address cycles, one WE pulse per byte under ALE.
func (d *Driver) Address(addrs []byte) {
	for _, a := range addrs {
		d.busWrite(a)
		d.pins.ALE.Set(true)
		d.pins.WE.Set(false)
		d.settle()
		d.pins.WE.Set(true)
		d.pins.ALE.Set(false)
	}
}

// DataOut clocks data bytes into the chip, one WE pulse per byte with
// both latch lines low.
func (d *Driver) DataOut(data []byte) {
	for _, b := range data {
		d.busWrite(b)
		d.pins.WE.Set(false)
		d.settle()
		d.pins.WE.Set(true)
	}
}

// DataIn clocks data bytes out of the chip, sampling the bus on each RE
// low phase. The bus is returned to output mode afterwards.
func (d *Driver) DataIn(buf []byte) {
	d.busDir(false)
	for i := range buf {
		d.pins.RE.Set(false)
		d.settle()
		buf[i] = d.busRead()
		d.pins.RE.Set(true)
		d.settle()
	}
	d.busDir(true)
}

// WaitReady polls the ready/busy line until it releases or the timeout
// elapses.
func (d *Driver) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !d.pins.RB.Get() {
		if time.Now().After(deadline) {
			return nand.ErrDeviceTimeout
		}
		time.Sleep(d.poll)
	}
	return nil
}

// Close parks the bus: chips deselected, write protect asserted.
func (d *Driver) Close() error {
	d.Deselect()
	d.pins.WP.Set(false)
	return nil
}

func (d *Driver) settle() {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
}

func (d *Driver) busWrite(b byte) {
	for i, pin := range d.pins.IO {
		pin.Set(b&(1<<i) != 0)
	}
}

func (d *Driver) busRead() byte {
	var b byte
	for i, pin := range d.pins.IO {
		if pin.Get() {
			b |= 1 << i
		}
	}
	return b
}

func (d *Driver) busDir(output bool) {
	for _, pin := range d.pins.IO {
		if output {
			pin.Output()
		} else {
			pin.Input()
		}
	}
}
