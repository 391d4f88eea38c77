package mspi

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
	"tinygo.org/x/drivers"
)

// SPITransport runs transactions over a plain SPI bus with a GPIO chip
// select. It speaks the serial (1-1-1) SDR protocol only. The delay taps of
// a Timing have no effect on a plain bus; they are kept and read back, and
// the turnaround adds dummy clocks to reads.
type SPITransport struct {
	tx    func(w, r []byte) error
	cs    func(active bool) error
	maxTx int

	cfg    Config
	timing Timing
	closed bool
}

// NewSPITransport uses a periph SPI connection, e.g. an FT2232H MPSSE port.
func NewSPITransport(conn spi.Conn, cs gpio.PinOut) *SPITransport {
	return &SPITransport{
		tx: conn.Tx,
		cs: func(active bool) error {
			// chip select is active low
			return cs.Out(gpio.Level(!active))
		},
		maxTx: 65536, // [AN_108]
	}
}

// NewBusTransport uses a TinyGo SPI bus. cs selects the device when called
// with true.
func NewBusTransport(bus drivers.SPI, cs func(active bool) error) *SPITransport {
	return &SPITransport{tx: bus.Tx, cs: cs}
}

func (t *SPITransport) Configure(cfg Config) error {
	if t.closed {
		return ErrClosed
	}
	if cfg.Protocol != Serial || cfg.DataRate != SDR {
		return fmt.Errorf("%s %s on plain SPI: %w", cfg.Protocol, cfg.DataRate, ErrUnsupported)
	}
	if cfg.Paired {
		return fmt.Errorf("paired dies on plain SPI: %w", ErrUnsupported)
	}
	t.cfg = cfg
	return nil
}

func (t *SPITransport) Timing() (Timing, error) { return t.timing, nil }

func (t *SPITransport) SetTiming(tm Timing) error {
	if err := tm.Validate(); err != nil {
		return err
	}
	t.timing = tm
	return nil
}

// MaxTransfer is the largest data phase accepted by Transfer.
func (t *SPITransport) MaxTransfer() int {
	if t.maxTx == 0 {
		return 0
	}
	const maxHeader = 1 + 4 + 8 // opcode, address, dummy
	return t.maxTx - maxHeader
}

func (t *SPITransport) Transfer(tx *Transaction) error {
	if t.closed {
		return ErrClosed
	}
	cmd := tx.Cmd
	dummy := cmd.Dummy
	if tx.Dir == Read && len(tx.Buf) > 0 {
		dummy += int(t.timing.Turnaround)
	}
	head := 1 + cmd.AddrLen + (dummy+7)/8
	buf := make([]byte, head+len(tx.Buf))
	buf[0] = cmd.Opcode
	for i := 0; i < cmd.AddrLen; i++ {
		buf[1+i] = byte(cmd.Addr >> (8 * (cmd.AddrLen - 1 - i)))
	}
	if tx.Dir == Write {
		copy(buf[head:], tx.Buf)
	}
	if err := t.exec(buf); err != nil {
		return err
	}
	if tx.Dir == Read {
		copy(tx.Buf, buf[head:])
	}
	return nil
}

// exec wraps one full-duplex transfer with CS assertion.
func (t *SPITransport) exec(buf []byte) (err error) {
	if err = t.cs(true); err != nil {
		return err
	}
	defer func() {
		if csErr := t.cs(false); csErr != nil && err == nil {
			err = csErr
		}
	}()
	return t.tx(buf, buf)
}

// Close deselects the device. The bus stays open.
func (t *SPITransport) Close() error {
	if t.closed {
		return ErrClosed
	}
	t.closed = true
	return t.cs(false)
}
