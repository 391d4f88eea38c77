package mspi

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// Direction of the data phase of a transaction.
type Direction uint8

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

// Protocol is the bus width used for command, address and data phases.
type Protocol uint8

const (
	Serial Protocol = iota // 1-1-1
	Dual                   // 1-1-2
	Quad                   // 1-1-4 / 4-4-4
	Octal                  // 8-8-8
)

func (p Protocol) String() string {
	switch p {
	case Serial:
		return "serial"
	case Dual:
		return "dual"
	case Quad:
		return "quad"
	case Octal:
		return "octal"
	}
	return fmt.Sprintf("Protocol(%d)", p)
}

// DataRate selects single or double data rate sampling.
type DataRate uint8

const (
	SDR DataRate = iota
	DDR
)

func (r DataRate) String() string {
	if r == DDR {
		return "DDR"
	}
	return "SDR"
}

// Config is what a transport needs to talk to one device.
type Config struct {
	Clock    physic.Frequency
	Protocol Protocol
	DataRate DataRate
	// AddrLen is the default address phase length in bytes (3 or 4).
	AddrLen int
	// Paired drives two identical dies in parallel; status registers of both
	// dies are returned interleaved.
	Paired bool
}

func (c Config) validate() error {
	if c.Clock <= 0 {
		return fmt.Errorf("%w: clock %s", ErrInvalidArgument, c.Clock)
	}
	if c.Protocol > Octal {
		return fmt.Errorf("%w: protocol %s", ErrInvalidArgument, c.Protocol)
	}
	if c.AddrLen < 1 || c.AddrLen > 4 {
		return fmt.Errorf("%w: address length %d", ErrInvalidArgument, c.AddrLen)
	}
	return nil
}

// Command is the instruction and address part of a transaction.
type Command struct {
	Opcode uint8
	Addr   uint32
	// AddrLen is the address phase length in bytes; zero omits the address.
	AddrLen int
	// Dummy is the number of dummy clock cycles before the data phase.
	Dummy int
}

// Transaction is a single command + address + data transfer.
type Transaction struct {
	Dir Direction
	Cmd Command
	Buf []byte
}

// Transport is the controller seen from the device layer: it configures the
// bus, moves one transaction at a time and programs the timing registers.
type Transport interface {
	Configure(cfg Config) error
	// Transfer blocks until the transaction completes or fails.
	Transfer(tx *Transaction) error
	// Timing reads back the timing configuration currently programmed.
	Timing() (Timing, error)
	SetTiming(t Timing) error
	Close() error
}

// AsyncTransport is a transport that can run a transaction in the background
// (DMA) and report completion through done, typically from interrupt context.
type AsyncTransport interface {
	Transport
	Start(tx *Transaction, done func(error)) error
}

// XIPController maps the device into the processor address space.
type XIPController interface {
	EnableXIP() error
	DisableXIP() error
}

// Scrambler enables on-the-fly data scrambling in the controller.
type Scrambler interface {
	EnableScrambling() error
	DisableScrambling() error
}
