package mspi

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// Board is an FT2232H MPSSE adapter wired to a serial memory, as on the
// iCEBreaker and the Lattice evaluation boards.
type Board struct {
	FTDI *ftdi.FT232H

	cs    gpio.PinIO
	reset gpio.PinIO
	cdone gpio.PinIO

	clock physic.Frequency
	port  spi.PortCloser
	conn  spi.Conn
}

// Wiring selects the ADBUS pins around the memory and the SPI clock.
type Wiring struct {
	CS, Reset, Done int // ADBUS index
	Clock           physic.Frequency
}

// ICEBreaker is the wiring of the iCEBreaker and the iCE40 evaluation
// boards.
//
// [EB82|Appendix A. Sheet 2 of 5 (USB to SPI/RS232)] / [icebreaker-sch.pdf]
// ADBUS0-2 carry SCK, MOSI and MISO to both the FPGA and the flash.
var ICEBreaker = Wiring{
	CS:    4,                     // iCE_SS_B
	Reset: 7,                     // iCE_CRESET
	Done:  6,                     // iCE_CDONE
	Clock: 30 * physic.MegaHertz, // [AN_135 3.2.1 Divisors]
}

var hostOnce = sync.OnceValue(func() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host initialization failed: %w", err)
	}
	return nil
})

// NewBoard opens the first FT2232H with the iCEBreaker wiring.
func NewBoard() (*Board, error) { return OpenBoard(ICEBreaker) }

// OpenBoard opens the first FT2232H and connects its MPSSE port.
func OpenBoard(w Wiring) (*Board, error) {
	// ADBUS0-2 belong to the MPSSE engine
	for _, i := range []int{w.CS, w.Reset, w.Done} {
		if i < 3 || i > 7 {
			return nil, fmt.Errorf("%w: ADBUS%d is not a free GPIO", ErrInvalidArgument, i)
		}
	}
	if w.Clock <= 0 {
		return nil, fmt.Errorf("%w: clock %s", ErrInvalidArgument, w.Clock)
	}
	if err := hostOnce(); err != nil {
		return nil, err
	}
	ft, err := findFT2232H()
	if err != nil {
		return nil, err
	}
	pins := [8]gpio.PinIO{ft.D0, ft.D1, ft.D2, ft.D3, ft.D4, ft.D5, ft.D6, ft.D7}
	b := &Board{
		FTDI:  ft,
		cs:    pins[w.CS],
		reset: pins[w.Reset],
		cdone: pins[w.Done],
		clock: w.Clock,
	}
	if err := b.connectSPI(); err != nil {
		return nil, err
	}
	return b, nil
}

// Clock is the SPI clock the port was connected with.
func (b *Board) Clock() physic.Frequency { return b.clock }

// HoldFPGAReset keeps the FPGA in reset so it does not drive the SPI bus.
func (b *Board) HoldFPGAReset() error { return b.reset.Out(gpio.Low) }

func (b *Board) ReleaseFPGAReset() error { return b.reset.Out(gpio.High) }

// Configured reports the FPGA CDONE line.
func (b *Board) Configured() bool { return b.cdone.Read() == gpio.High }

// Controller returns a single instance controller whose transport is the
// board's SPI port.
func (b *Board) Controller() *Controller {
	return NewController(1, func(int) (Transport, error) {
		if b.conn == nil {
			return nil, ErrClosed
		}
		return NewSPITransport(b.conn, b.cs), nil
	})
}

// Close releases the MPSSE port.
func (b *Board) Close() error {
	if b.port == nil {
		return nil
	}
	err := b.port.Close()
	b.port, b.conn = nil, nil
	return err
}

func findFT2232H() (*ftdi.FT232H, error) {
	const (
		vendorID  = 0x0403 // FTDI
		productID = 0x6010 // FT2232H
	)

	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if info.VenID != vendorID || info.DevID != productID {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			return ft, nil
		}
	}
	return nil, errors.New("FT2232H not found")
}

func (b *Board) connectSPI() (err error) {
	b.port, err = b.FTDI.SPI()
	if err != nil {
		return fmt.Errorf("failed to get SPI port: %w", err)
	}

	// [FTDI AN_114|1.2]> FTDI device can only support mode 0 and mode 2 due to the limitation of MPSSE engine
	// [n25q_32mb_3v_65nm.pdf|Table 7: SPI Modes] mode 0 and mode 3 are supported
	mode := spi.Mode0
	b.conn, err = b.port.Connect(b.clock, mode, 8)
	return err
}

// Config is the bus configuration matching the board's SPI port.
func (b *Board) Config() Config {
	return Config{Clock: b.clock, Protocol: Serial, DataRate: SDR, AddrLen: 3}
}
