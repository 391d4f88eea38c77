package sim

import (
	"fmt"
	"sync"

	"github.com/gentam/mspi"
)

// Window reports whether reads come back intact at a timing setting.
type Window func(t mspi.Timing) bool

// Always is a window containing every setting.
func Always(mspi.Timing) bool { return true }

// Never is an empty window.
func Never(mspi.Timing) bool { return false }

// Eye is a rectangular window of TX and RX delays; the edge and turnaround
// fields do not matter.
func Eye(txLo, txHi, rxLo, rxHi uint8) Window {
	return func(t mspi.Timing) bool {
		return t.TxDelay >= txLo && t.TxDelay <= txHi && t.RxDelay >= rxLo && t.RxDelay <= rxHi
	}
}

// Controller is one simulated controller instance. It implements
// mspi.AsyncTransport, mspi.XIPController and mspi.Scrambler. DMA transfers
// complete before Start returns.
type Controller struct {
	Mem *Memory
	// Window decides when array reads are corrupted; nil reads clean.
	Window Window
	// FloatingBus makes every read phase outside the window return all
	// ones, status and ID reads included, instead of corrupting array data
	// only.
	FloatingBus bool
	// FailTransfer makes every transaction fail.
	FailTransfer error

	mu         sync.Mutex
	cfg        mspi.Config
	configured bool
	timing     mspi.Timing
	xip        bool
	scrambling bool
	closed     bool
	dmaCount   int
}

// NewController returns a controller with m attached and the given timing
// programmed.
func NewController(m *Memory, base mspi.Timing) *Controller {
	return &Controller{Mem: m, timing: base}
}

// Open returns an mspi.OpenFunc serving one controller per module. Each
// module is reopened in place so tests can inspect the controller after a
// session closes it.
func Open(ctrls ...*Controller) mspi.OpenFunc {
	return func(module int) (mspi.Transport, error) {
		if module < 0 || module >= len(ctrls) {
			return nil, fmt.Errorf("sim: no controller %d", module)
		}
		c := ctrls[module]
		c.mu.Lock()
		c.closed = false
		c.mu.Unlock()
		return c, nil
	}
}

func (c *Controller) Configure(cfg mspi.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return mspi.ErrClosed
	}
	c.cfg, c.configured = cfg, true
	return nil
}

func (c *Controller) Timing() (mspi.Timing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timing, nil
}

func (c *Controller) SetTiming(t mspi.Timing) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.timing = t
	c.mu.Unlock()
	return nil
}

func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return mspi.ErrClosed
	}
	c.closed = true
	return nil
}

func (c *Controller) EnableXIP() error         { return c.set(&c.xip, true) }
func (c *Controller) DisableXIP() error        { return c.set(&c.xip, false) }
func (c *Controller) EnableScrambling() error  { return c.set(&c.scrambling, true) }
func (c *Controller) DisableScrambling() error { return c.set(&c.scrambling, false) }

func (c *Controller) set(f *bool, v bool) error {
	c.mu.Lock()
	*f = v
	c.mu.Unlock()
	return nil
}

// XIP reports whether execute in place is enabled.
func (c *Controller) XIP() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.xip
}

// Scrambling reports whether scrambling is enabled.
func (c *Controller) Scrambling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrambling
}

// DMATransfers counts transactions started through Start.
func (c *Controller) DMATransfers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dmaCount
}

// Start runs tx and signals done before returning.
func (c *Controller) Start(tx *mspi.Transaction, done func(error)) error {
	c.mu.Lock()
	c.dmaCount++
	c.mu.Unlock()
	done(c.Transfer(tx))
	return nil
}

func (c *Controller) Transfer(tx *mspi.Transaction) error {
	c.mu.Lock()
	closed, configured, cfg, t := c.closed, c.configured, c.cfg, c.timing
	c.mu.Unlock()
	switch {
	case closed:
		return mspi.ErrClosed
	case !configured:
		return fmt.Errorf("sim: transfer before configure")
	case c.FailTransfer != nil:
		return c.FailTransfer
	}

	clean := c.Window == nil || c.Window(t)
	if err := c.Mem.exec(tx, cfg, clean); err != nil {
		return err
	}
	if !clean && c.FloatingBus && tx.Dir == mspi.Read {
		fill(tx.Buf, 0xFF)
	}
	return nil
}
