package mspi

import (
	"time"

	"periph.io/x/conn/v3/physic"
)

// scriptTransport answers status reads from a script and records every
// command it sees.
type scriptTransport struct {
	statusOp uint8
	// status returns the status bytes for the n-th status read (from 0).
	status func(n int) []byte
	read   func(cmd Command, buf []byte)
	fail   map[uint8]error

	cmds        []Command
	statusReads int
	timing      Timing
	cfg         Config
	closed      bool
}

func (t *scriptTransport) Configure(cfg Config) error { t.cfg = cfg; return nil }
func (t *scriptTransport) Timing() (Timing, error)    { return t.timing, nil }
func (t *scriptTransport) SetTiming(tm Timing) error  { t.timing = tm; return nil }
func (t *scriptTransport) Close() error               { t.closed = true; return nil }

func (t *scriptTransport) Transfer(tx *Transaction) error {
	t.cmds = append(t.cmds, tx.Cmd)
	if err := t.fail[tx.Cmd.Opcode]; err != nil {
		return err
	}
	switch {
	case tx.Cmd.Opcode == t.statusOp && t.status != nil:
		copy(tx.Buf, t.status(t.statusReads))
		t.statusReads++
	case tx.Dir == Read && t.read != nil:
		t.read(tx.Cmd, tx.Buf)
	}
	return nil
}

func (t *scriptTransport) opcodes() []uint8 {
	ops := make([]uint8, len(t.cmds))
	for i, c := range t.cmds {
		ops[i] = c.Opcode
	}
	return ops
}

var testConfig = Config{Clock: 10 * physic.MegaHertz, AddrLen: 3}

// newTestController serves tr on a single module with a fake clock.
func newTestController(tr Transport) (*Controller, *fakeClock) {
	clk := &fakeClock{}
	c := NewController(1, func(int) (Transport, error) { return tr, nil })
	c.Clock = clk
	return c, clk
}

// testNOR is a NOR part with small poll budgets.
func testNOR() *Part {
	p := partW25Q128
	p.ProgramPoll = Poll{Max: 7, Interval: 10 * time.Microsecond}
	p.ErasePoll = Poll{Max: 5, Interval: time.Millisecond}
	return &p
}
