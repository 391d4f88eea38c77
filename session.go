package mspi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// OpenFunc initializes controller instance module and returns its transport.
type OpenFunc func(module int) (Transport, error)

// Controller hands out device sessions on a fixed number of controller
// instances, one session per instance at a time.
type Controller struct {
	// Clock paces status and DMA polling; WallClock if nil.
	Clock Clock
	// Logger receives debug output of sessions and scans; discarded if nil.
	Logger *slog.Logger

	open OpenFunc

	mu    sync.Mutex
	slots []*Session
}

// NewController returns a controller with the given number of instances.
func NewController(modules int, open OpenFunc) *Controller {
	return &Controller{
		open:  open,
		slots: make([]*Session, modules),
	}
}

// Modules returns the number of controller instances.
func (c *Controller) Modules() int { return len(c.slots) }

func (c *Controller) acquire(module int, part *Part, cfg Config) (*Session, error) {
	if part == nil {
		return nil, fmt.Errorf("%w: nil part", ErrInvalidArgument)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if module < 0 || module >= len(c.slots) {
		return nil, fmt.Errorf("%w: module %d out of range [0,%d)", ErrInvalidArgument, module, len(c.slots))
	}
	if c.slots[module] != nil {
		return nil, fmt.Errorf("mspi%d: %w", module, ErrInUse)
	}

	t, err := c.open(module)
	if err != nil {
		return nil, fmt.Errorf("mspi%d: %w: %w", module, ErrTransport, err)
	}
	if err := t.Configure(cfg); err != nil {
		t.Close()
		return nil, fmt.Errorf("mspi%d: configure: %w", module, err)
	}

	s := &Session{
		ctrl:    c,
		module:  module,
		t:       t,
		part:    part,
		cfg:     cfg,
		clock:   c.Clock,
		log:     c.Logger,
		dmaPoll: Poll{Max: 1_000_000, Interval: time.Microsecond},
	}
	if s.clock == nil {
		s.clock = WallClock
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	s.log = s.log.With(slog.Int("module", module), slog.String("part", part.Name))
	c.slots[module] = s
	return s, nil
}

func (c *Controller) release(module int) {
	c.mu.Lock()
	c.slots[module] = nil
	c.mu.Unlock()
}

// Session is an open handle on one memory device. It is not safe for
// concurrent use; operations run strictly one after another.
type Session struct {
	ctrl   *Controller
	module int
	t      Transport
	part   *Part
	cfg    Config

	timing      Timing
	timingValid bool

	clock   Clock
	log     *slog.Logger
	dmaPoll Poll
	closed  bool
}

func (s *Session) Module() int          { return s.module }
func (s *Session) Part() *Part          { return s.part }
func (s *Session) Config() Config       { return s.cfg }
func (s *Session) Transport() Transport { return s.t }

// Timing returns the timing applied with ApplyTiming, if any.
func (s *Session) Timing() (Timing, bool) { return s.timing, s.timingValid }

// Close releases the transport and frees the controller instance.
func (s *Session) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	err := s.t.Close()
	s.ctrl.release(s.module)
	return err
}

// ApplyTiming programs t into the controller and keeps it for later mode
// switches.
func (s *Session) ApplyTiming(t Timing) error {
	if s.closed {
		return ErrClosed
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if err := s.t.SetTiming(t); err != nil {
		return fmt.Errorf("apply timing: %w: %w", ErrTransport, err)
	}
	s.timing, s.timingValid = t, true
	s.debug("timing applied", slog.String("timing", t.String()))
	return nil
}

// SetMode reconfigures the controller, e.g. after switching the device to
// quad or octal mode, and reapplies the calibrated timing.
func (s *Session) SetMode(cfg Config) error {
	if s.closed {
		return ErrClosed
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	if err := s.t.Configure(cfg); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	s.cfg = cfg
	if s.timingValid {
		if err := s.t.SetTiming(s.timing); err != nil {
			return fmt.Errorf("reapply timing: %w: %w", ErrTransport, err)
		}
	}
	return nil
}

func (s *Session) EnableXIP() error {
	x, ok := s.t.(XIPController)
	if !ok {
		return fmt.Errorf("XIP: %w", ErrUnsupported)
	}
	return x.EnableXIP()
}

func (s *Session) DisableXIP() error {
	x, ok := s.t.(XIPController)
	if !ok {
		return fmt.Errorf("XIP: %w", ErrUnsupported)
	}
	return x.DisableXIP()
}

func (s *Session) EnableScrambling() error {
	x, ok := s.t.(Scrambler)
	if !ok {
		return fmt.Errorf("scrambling: %w", ErrUnsupported)
	}
	return x.EnableScrambling()
}

func (s *Session) DisableScrambling() error {
	x, ok := s.t.(Scrambler)
	if !ok {
		return fmt.Errorf("scrambling: %w", ErrUnsupported)
	}
	return x.DisableScrambling()
}

func (s *Session) debug(msg string, attrs ...slog.Attr) {
	s.log.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

// send issues exactly one blocking transaction. There is no retry here.
func (s *Session) send(cmd Command, buf []byte, dir Direction) error {
	if s.closed {
		return ErrClosed
	}
	tx := &Transaction{Dir: dir, Cmd: cmd, Buf: buf}
	if err := s.t.Transfer(tx); err != nil {
		return fmt.Errorf("cmd 0x%02X: %w: %w", cmd.Opcode, ErrTransport, err)
	}
	return nil
}

// transfer moves a data buffer, through DMA when the transport supports it,
// waiting a bounded time for the completion callback.
func (s *Session) transfer(cmd Command, buf []byte, dir Direction) error {
	at, ok := s.t.(AsyncTransport)
	if !ok || len(buf) == 0 {
		return s.send(cmd, buf, dir)
	}
	if s.closed {
		return ErrClosed
	}

	var (
		done   atomic.Bool
		dmaErr error
	)
	tx := &Transaction{Dir: dir, Cmd: cmd, Buf: buf}
	if err := at.Start(tx, func(err error) {
		dmaErr = err
		done.Store(true)
	}); err != nil {
		return fmt.Errorf("dma 0x%02X: %w: %w", cmd.Opcode, ErrTransport, err)
	}
	if err := retryUntil(func() (bool, error) { return done.Load(), nil }, s.dmaPoll, s.clock); err != nil {
		return fmt.Errorf("dma 0x%02X: %w: %w", cmd.Opcode, ErrTransport, err)
	}
	if dmaErr != nil {
		return fmt.Errorf("dma 0x%02X: %w: %w", cmd.Opcode, ErrTransport, dmaErr)
	}
	return nil
}

func (s *Session) bare(op uint8) error {
	if op == 0 {
		return nil
	}
	return s.send(Command{Opcode: op}, nil, Write)
}

func (s *Session) session() *Session { return s }
