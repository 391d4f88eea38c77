// Package dma keeps an I2S style DMA stream running by alternating between
// two buffers (ping and pong). The completion interrupt of one buffer arms
// the other, so the caller refills or drains one buffer while the other is
// in flight.
package dma

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/physic"
)

// NoPong as Buffers.Pong disables double buffering; Ping is re-armed after
// every completion.
const NoPong uint32 = 0xFFFFFFFF

var (
	// ErrSequencing reports a next transfer still armed when the completion
	// handler wants to arm another one. The handler was re-entered or
	// starved; the stream is stopped.
	ErrSequencing = errors.New("dma: next transfer already armed")
	// ErrTransfer reports a DMA error flag.
	ErrTransfer = errors.New("dma: transfer error")
	ErrStopped  = errors.New("dma: stream not running")
	ErrConfig   = errors.New("dma: invalid configuration")
)

// Direction of a stream.
type Direction uint8

const (
	TX Direction = iota
	RX
)

func (d Direction) String() string {
	if d == RX {
		return "rx"
	}
	return "tx"
}

// Buffer identifies one of the two buffers of a stream.
type Buffer uint8

const (
	Ping Buffer = iota
	Pong
)

func (b Buffer) String() string {
	if b == Pong {
		return "pong"
	}
	return "ping"
}

// Buffers are the bus addresses of the two buffers and their common size in
// bytes.
type Buffers struct {
	Ping uint32
	Pong uint32
	Size uint32
}

func (b Buffers) addr(which Buffer) uint32 {
	if which == Pong {
		return b.Pong
	}
	return b.Ping
}

// Mode selects how the next buffer is handed to the hardware.
type Mode uint8

const (
	// TwoStage programs the controller's next-transfer registers while the
	// current transfer runs.
	TwoStage Mode = iota
	// SingleStage stops the channel, reprograms it and starts it again.
	SingleStage
)

func (m Mode) String() string {
	if m == SingleStage {
		return "single-stage"
	}
	return "two-stage"
}

// Channel is the hardware side of one direction.
type Channel interface {
	// NextPending reports whether the next-transfer registers hold a transfer
	// the hardware has not picked up yet.
	NextPending() bool
	// ArmNext programs the next-transfer registers.
	ArmNext(addr, size uint32) error
	// Rearm disables the channel, programs the current transfer and enables
	// it again.
	Rearm(addr, size uint32) error
	// Disable stops the channel.
	Disable()
	// ClearStatus clears the completion and error flags.
	ClearStatus()
}

// StreamConfig configures one direction.
type StreamConfig struct {
	Channel Channel
	Buffers Buffers
	Mode    Mode
	// Done is called from the completion handler with the address of the
	// buffer that just finished, after the other buffer has been armed.
	Done func(addr uint32)
}

type streamState uint8

const (
	stopped streamState = iota
	running
	faulted
)

type stream struct {
	StreamConfig
	active Buffer
	state  streamState
	count  int
}

// Engine runs the TX and RX streams of one peripheral.
type Engine struct {
	// Logger receives debug output; discarded if nil.
	Logger *slog.Logger

	streams [2]*stream
}

// Configure sets up dir. A running stream must be stopped first.
func (e *Engine) Configure(dir Direction, cfg StreamConfig) error {
	if dir > RX {
		return fmt.Errorf("%w: direction %d", ErrConfig, dir)
	}
	b := cfg.Buffers
	switch {
	case cfg.Channel == nil:
		return fmt.Errorf("%w: %s has no channel", ErrConfig, dir)
	case b.Size == 0:
		return fmt.Errorf("%w: %s buffer size 0", ErrConfig, dir)
	case b.Ping == NoPong:
		return fmt.Errorf("%w: %s ping address 0x%X", ErrConfig, dir, b.Ping)
	case b.Pong == b.Ping:
		return fmt.Errorf("%w: %s ping and pong both at 0x%X", ErrConfig, dir, b.Ping)
	}
	if s := e.streams[dir]; s != nil && s.state == running {
		return fmt.Errorf("%w: %s is running", ErrConfig, dir)
	}
	e.streams[dir] = &stream{StreamConfig: cfg}
	return nil
}

// DoubleBuffered reports whether dir alternates between two buffers.
func (e *Engine) DoubleBuffered(dir Direction) bool {
	s := e.stream(dir)
	return s != nil && s.Buffers.Pong != NoPong
}

// Active returns the buffer currently being transferred on dir.
func (e *Engine) Active(dir Direction) Buffer {
	if s := e.stream(dir); s != nil {
		return s.active
	}
	return Ping
}

// Completions returns the number of completed buffers on dir.
func (e *Engine) Completions(dir Direction) int {
	if s := e.stream(dir); s != nil {
		return s.count
	}
	return 0
}

func (e *Engine) stream(dir Direction) *stream {
	if dir > RX {
		return nil
	}
	return e.streams[dir]
}

// Start programs Ping and starts dir. Pong is not armed until Ping
// completes, so the next registers only ever hold a buffer the handler has
// released; the first switch must therefore happen within LatencyBudget.
func (e *Engine) Start(dir Direction) error {
	s := e.stream(dir)
	if s == nil {
		return fmt.Errorf("%w: %s not configured", ErrConfig, dir)
	}
	s.Channel.ClearStatus()
	if err := s.Channel.Rearm(s.Buffers.Ping, s.Buffers.Size); err != nil {
		return fmt.Errorf("%s start: %w", dir, err)
	}
	s.active, s.state, s.count = Ping, running, 0
	e.debug("dma start", slog.String("dir", dir.String()), slog.String("mode", s.Mode.String()))
	return nil
}

// Stop disables dir.
func (e *Engine) Stop(dir Direction) {
	if s := e.stream(dir); s != nil {
		s.Channel.Disable()
		s.Channel.ClearStatus()
		s.state = stopped
	}
}

// OnTransferComplete handles the completion interrupt of dir: it arms the
// other buffer (or Ping again without a pong) and flips the active buffer.
func (e *Engine) OnTransferComplete(dir Direction) error {
	s := e.stream(dir)
	if s == nil || s.state != running {
		return fmt.Errorf("%s: %w", dir, ErrStopped)
	}
	s.Channel.ClearStatus()

	done := s.active
	next := Ping
	if s.Buffers.Pong != NoPong && done == Ping {
		next = Pong
	}
	addr := s.Buffers.addr(next)

	switch s.Mode {
	case TwoStage:
		if s.Channel.NextPending() {
			e.fault(dir, s)
			return fmt.Errorf("%s completing %s: %w", dir, done, ErrSequencing)
		}
		if err := s.Channel.ArmNext(addr, s.Buffers.Size); err != nil {
			e.fault(dir, s)
			return fmt.Errorf("%s arm %s: %w", dir, next, err)
		}
	case SingleStage:
		if err := s.Channel.Rearm(addr, s.Buffers.Size); err != nil {
			e.fault(dir, s)
			return fmt.Errorf("%s rearm %s: %w", dir, next, err)
		}
	}
	s.active = next
	s.count++

	if s.Done != nil {
		s.Done(s.Buffers.addr(done))
	}
	return nil
}

// OnError disables dir and clears its status. There is no retry; the
// stream has to be configured and started again.
func (e *Engine) OnError(dir Direction) {
	s := e.stream(dir)
	if s == nil {
		return
	}
	e.fault(dir, s)
}

func (e *Engine) fault(dir Direction, s *stream) {
	s.Channel.Disable()
	s.Channel.ClearStatus()
	s.state = faulted
	e.debug("dma fault", slog.String("dir", dir.String()), slog.String("active", s.active.String()))
}

// Status is the interrupt status of the peripheral.
type Status uint8

const (
	TXComplete Status = 1 << iota
	RXComplete
	TXError
	RXError
)

// Service dispatches an interrupt: error flags first, then completions.
func (e *Engine) Service(st Status) error {
	var errs []error
	if st&TXError != 0 {
		e.OnError(TX)
		errs = append(errs, fmt.Errorf("%s: %w", TX, ErrTransfer))
	}
	if st&RXError != 0 {
		e.OnError(RX)
		errs = append(errs, fmt.Errorf("%s: %w", RX, ErrTransfer))
	}
	if st&TXComplete != 0 && st&TXError == 0 {
		if err := e.OnTransferComplete(TX); err != nil {
			errs = append(errs, err)
		}
	}
	if st&RXComplete != 0 && st&RXError == 0 {
		if err := e.OnTransferComplete(RX); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LatencyBudget is how long the completion handler may take before a FIFO
// of fifoDepth samples runs dry at the given sample rate.
func LatencyBudget(fifoDepth int, sampleRate physic.Frequency) time.Duration {
	if fifoDepth <= 0 || sampleRate <= 0 {
		return 0
	}
	return time.Duration(fifoDepth) * sampleRate.Period()
}

func (e *Engine) debug(msg string, attrs ...slog.Attr) {
	if e.Logger == nil {
		return
	}
	e.Logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}
