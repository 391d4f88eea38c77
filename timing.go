package mspi

import (
	"errors"
	"fmt"
	"log/slog"
)

// Delay line and turnaround limits of the controller.
const (
	MaxTxDelay    = 7
	MaxRxDelay    = 31
	MaxTurnaround = 7
)

// Timing is one setting of the controller's timing registers.
type Timing struct {
	TxNeg bool // launch on the falling edge
	RxNeg bool // sample on the falling edge
	RxCap bool // delay the capture by half a cycle

	Turnaround uint8 // cycles between address and data on reads
	TxDelay    uint8
	RxDelay    uint8
}

// Validate checks that every field fits the controller registers.
func (t Timing) Validate() error {
	switch {
	case t.TxDelay > MaxTxDelay:
		return fmt.Errorf("%w: TX delay %d > %d", ErrInvalidArgument, t.TxDelay, MaxTxDelay)
	case t.RxDelay > MaxRxDelay:
		return fmt.Errorf("%w: RX delay %d > %d", ErrInvalidArgument, t.RxDelay, MaxRxDelay)
	case t.Turnaround > MaxTurnaround:
		return fmt.Errorf("%w: turnaround %d > %d", ErrInvalidArgument, t.Turnaround, MaxTurnaround)
	}
	return nil
}

func (t Timing) String() string {
	return fmt.Sprintf("txneg=%t rxneg=%t rxcap=%t turnaround=%d tx=%d rx=%d",
		t.TxNeg, t.RxNeg, t.RxCap, t.Turnaround, t.TxDelay, t.RxDelay)
}

// Axes selects the timing fields swept by a scan. Fields that are not swept
// stay at the value read back from the controller.
type Axes uint8

const (
	ScanTxNeg Axes = 1 << iota
	ScanRxNeg
	ScanRxCap
	ScanTurnaround
	ScanTxDelay
	ScanRxDelay

	DefaultAxes = ScanTxDelay | ScanRxDelay
	AllAxes     = ScanTxNeg | ScanRxNeg | ScanRxCap | ScanTurnaround | ScanTxDelay | ScanRxDelay
)

// ScanOptions controls ScanTiming. The zero value scans TX and RX delays on
// 128 pages at address 0.
type ScanOptions struct {
	Axes Axes
	// Addr and Size locate the scratch region. Its contents are destroyed.
	Addr uint32
	Size int
	// MinWindow is the shortest run of passing RX delays that makes a TX
	// delay viable. Default 6.
	MinWindow int
	// TurnaroundSpan is how many extra turnaround cycles are tried above
	// the current one when ScanTurnaround is set. Default 2.
	TurnaroundSpan int
	// Reuse verifies the session's applied timing first and skips the sweep
	// if it still passes.
	Reuse bool
	// SkipPrepare assumes the scratch region already holds the pattern.
	SkipPrepare bool
}

func (o ScanOptions) withDefaults(p *Part) ScanOptions {
	if o.Axes == 0 {
		o.Axes = DefaultAxes
	}
	if o.Size == 0 {
		o.Size = 128 * max(p.PageSize, 1)
	}
	if o.MinWindow == 0 {
		o.MinWindow = 6
	}
	if o.TurnaroundSpan == 0 {
		o.TurnaroundSpan = 2
	}
	return o
}

// scan carries the state of one sweep.
type scan struct {
	dev  MemoryDevice
	s    *Session
	opts ScanOptions

	want []byte
	got  []byte
}

// ScanTiming searches the timing settings for the widest window in which the
// scratch region reads back intact, and applies the result to the session.
//
// For every combination of the edge, capture and turnaround axes, each TX
// delay gets a bitmap of passing RX delays. A TX delay whose longest run
// reaches MinWindow is viable. The combination with the widest run wins;
// the first one found wins a tie. The result is the midpoint of the viable
// TX delays and the midpoint of the chosen TX delay's RX run.
//
// If nothing passes, the base timing is restored and ErrNoWindowFound is
// returned.
func ScanTiming(dev MemoryDevice, opts ScanOptions) (Timing, error) {
	s := dev.session()
	if s.closed {
		return Timing{}, ErrClosed
	}
	opts = opts.withDefaults(s.part)
	if opts.Size <= 0 || opts.MinWindow < 1 || opts.MinWindow > MaxRxDelay+1 {
		return Timing{}, fmt.Errorf("%w: scan size %d, min window %d", ErrInvalidArgument, opts.Size, opts.MinWindow)
	}
	sc := &scan{
		dev:  dev,
		s:    s,
		opts: opts,
		want: make([]byte, opts.Size),
		got:  make([]byte, opts.Size),
	}
	fillPattern(sc.want, s.part.PageSize)

	base, err := s.t.Timing()
	if err != nil {
		return Timing{}, fmt.Errorf("read timing: %w: %w", ErrTransport, err)
	}
	if err := base.Validate(); err != nil {
		return Timing{}, fmt.Errorf("current timing: %w", err)
	}

	if opts.Reuse {
		if t, ok := s.Timing(); ok {
			if err := s.t.SetTiming(t); err != nil {
				return Timing{}, fmt.Errorf("set timing: %w: %w", ErrTransport, err)
			}
			if err := sc.verify(); err == nil {
				s.debug("timing reused", slog.String("timing", t.String()))
				return t, nil
			} else if !errors.Is(err, ErrVerifyMismatch) {
				return Timing{}, err
			}
			if err := s.t.SetTiming(base); err != nil {
				return Timing{}, fmt.Errorf("set timing: %w: %w", ErrTransport, err)
			}
		}
	}

	if !opts.SkipPrepare {
		if err := sc.prepare(); err != nil {
			return Timing{}, err
		}
	}

	best, found, err := sc.sweep(base)
	if err != nil {
		// leave the controller usable
		if rerr := s.t.SetTiming(base); rerr != nil {
			err = errors.Join(err, fmt.Errorf("restore timing: %w: %w", ErrTransport, rerr))
		}
		return Timing{}, err
	}
	if !found {
		if err := s.t.SetTiming(base); err != nil {
			return Timing{}, fmt.Errorf("restore timing: %w: %w", ErrTransport, err)
		}
		s.debug("timing scan failed", slog.String("base", base.String()))
		return Timing{}, ErrNoWindowFound
	}
	if err := s.ApplyTiming(best); err != nil {
		return Timing{}, err
	}
	return best, nil
}

// prepare erases the scratch region and writes the pattern at the current
// timing.
func (sc *scan) prepare() error {
	if err := sc.dev.EraseRange(sc.opts.Addr, sc.opts.Size); err != nil {
		return fmt.Errorf("scratch erase: %w", err)
	}
	if err := sc.dev.WriteAt(sc.want, sc.opts.Addr); err != nil {
		return fmt.Errorf("scratch write: %w", err)
	}
	return nil
}

// verify reads the whole scratch region back and compares it.
// At a bad setting the status and ECC reads inside ReadAt are as garbled as
// the data, so any device or transport failure counts as a mismatch.
func (sc *scan) verify() error {
	clear(sc.got)
	if err := sc.dev.ReadAt(sc.got, sc.opts.Addr); err != nil {
		if readFault(err) {
			return fmt.Errorf("%w: %w", ErrVerifyMismatch, err)
		}
		return err
	}
	return verifyBuffer(sc.got, sc.want)
}

func readFault(err error) bool {
	for _, target := range []error{ErrTransport, ErrBusy, ErrTimeout, ErrECC, ErrProgramFailed, ErrEraseFailed} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// passes programs t and reports whether the scratch region reads back.
func (sc *scan) passes(t Timing) (bool, error) {
	if err := sc.s.t.SetTiming(t); err != nil {
		return false, fmt.Errorf("set timing %s: %w: %w", t, ErrTransport, err)
	}
	err := sc.verify()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrVerifyMismatch):
		return false, nil
	}
	return false, err
}

func boolAxis(scan bool, base bool) []bool {
	if scan {
		return []bool{false, true}
	}
	return []bool{base}
}

func rangeAxis(scan bool, base, lo, hi int) []int {
	if !scan {
		return []int{base}
	}
	r := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		r = append(r, i)
	}
	return r
}

func (sc *scan) sweep(base Timing) (best Timing, found bool, err error) {
	ax := sc.opts.Axes
	txs := rangeAxis(ax&ScanTxDelay != 0, int(base.TxDelay), 0, MaxTxDelay)
	rxs := rangeAxis(ax&ScanRxDelay != 0, int(base.RxDelay), 0, MaxRxDelay)
	tas := rangeAxis(ax&ScanTurnaround != 0, int(base.Turnaround),
		int(base.Turnaround), min(int(base.Turnaround)+sc.opts.TurnaroundSpan, MaxTurnaround))

	bestWidth := 0
	for _, txNeg := range boolAxis(ax&ScanTxNeg != 0, base.TxNeg) {
		for _, rxNeg := range boolAxis(ax&ScanRxNeg != 0, base.RxNeg) {
			for _, rxCap := range boolAxis(ax&ScanRxCap != 0, base.RxCap) {
				for _, ta := range tas {
					t := Timing{TxNeg: txNeg, RxNeg: rxNeg, RxCap: rxCap, Turnaround: uint8(ta)}

					var viable PassBitmap
					var rxMaps [MaxTxDelay + 1]PassBitmap
					for _, tx := range txs {
						t.TxDelay = uint8(tx)
						for _, rx := range rxs {
							t.RxDelay = uint8(rx)
							ok, err := sc.passes(t)
							if err != nil {
								return Timing{}, false, err
							}
							if ok {
								rxMaps[tx].Set(rx)
							}
						}
						need := sc.opts.MinWindow
						if len(rxs) == 1 {
							need = 1
						}
						if rxMaps[tx].Longest() >= need {
							viable.Set(tx)
						}
					}
					if viable == 0 {
						sc.s.debug("timing combination", slog.String("timing", t.String()), slog.Int("viable", 0))
						continue
					}

					t.TxDelay = uint8(FindMidpoint(uint32(viable), MaxTxDelay+1))
					rxMap := rxMaps[t.TxDelay]
					t.RxDelay = uint8(FindMidpoint(uint32(rxMap), MaxRxDelay+1))

					width := viable.Longest()
					if len(txs) == 1 {
						width = rxMap.Longest()
					}
					sc.s.debug("timing combination",
						slog.String("timing", t.String()),
						slog.String("viable", fmt.Sprintf("%08b", uint32(viable))),
						slog.String("rx", fmt.Sprintf("%032b", uint32(rxMap))),
						slog.Int("passing", onesCount(uint32(rxMap))),
						slog.Int("width", width))
					if width > bestWidth {
						best, bestWidth, found = t, width, true
					}
				}
			}
		}
	}
	return best, found, nil
}

// VerifyTiming reads the scratch region at the current timing and compares
// it against the calibration pattern. It returns ErrVerifyMismatch on a
// difference.
func VerifyTiming(dev MemoryDevice, opts ScanOptions) error {
	s := dev.session()
	opts = opts.withDefaults(s.part)
	sc := &scan{dev: dev, s: s, opts: opts, want: make([]byte, opts.Size), got: make([]byte, opts.Size)}
	fillPattern(sc.want, s.part.PageSize)
	return sc.verify()
}

// TimingCheck opens module for part, runs a timing scan and closes it
// again. The result is meant for ApplyTiming on a later session.
func (c *Controller) TimingCheck(module int, part *Part, cfg Config, opts ScanOptions) (Timing, error) {
	dev, err := c.Open(module, part, cfg)
	if err != nil {
		return Timing{}, err
	}
	t, err := ScanTiming(dev, opts)
	if cerr := dev.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return t, err
}
