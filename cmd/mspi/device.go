package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gentam/mspi"
	"github.com/gentam/mspi/sim"
	"periph.io/x/conn/v3/physic"
)

// The simulated board passes reads in a window of TX and RX delays and
// powers up inside it.
var (
	simWindow = sim.Eye(2, 6, 10, 25)
	simTiming = mspi.Timing{TxDelay: 3, RxDelay: 12}
)

// target is an opened memory together with what is needed to release it.
type target struct {
	ctrl  *mspi.Controller
	part  *mspi.Part
	cfg   mspi.Config
	board *mspi.Board // nil when simulated
	sim   *sim.Controller
}

// openTarget sets up the controller and resolves the part. On hardware the
// FPGA is held in reset until close so it does not drive the bus.
func openTarget() (*target, error) {
	t := &target{}
	if simulate {
		if err := t.openSim(); err != nil {
			return nil, err
		}
	} else {
		if err := t.openBoard(); err != nil {
			return nil, err
		}
	}
	if verbose {
		t.ctrl.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return t, nil
}

func (t *target) openSim() error {
	name := partName
	if name == "" {
		name = "W25Q"
	}
	p, ok := mspi.PartByName(name)
	if !ok {
		return fmt.Errorf("unknown part %q", name)
	}
	t.part = p
	t.sim = sim.NewController(sim.NewMemory(p), simTiming)
	t.sim.Window = simWindow
	t.ctrl = mspi.NewController(1, sim.Open(t.sim))
	t.cfg = mspi.Config{Clock: 48 * physic.MegaHertz, Protocol: mspi.Octal, DataRate: mspi.DDR, AddrLen: 4}
	if p.Kind == mspi.PSRAMKind {
		t.cfg.AddrLen = 3
	}
	return nil
}

func (t *target) openBoard() error {
	b, err := mspi.NewBoard()
	if err != nil {
		return err
	}
	if err := b.HoldFPGAReset(); err != nil {
		b.Close()
		return fmt.Errorf("hold FPGA reset: %w", err)
	}
	t.board, t.ctrl, t.cfg = b, b.Controller(), b.Config()

	if partName != "" {
		p, ok := mspi.PartByName(partName)
		if !ok {
			t.close()
			return fmt.Errorf("unknown part %q", partName)
		}
		t.part = p
		return nil
	}

	id, err := t.detect()
	if err != nil {
		t.close()
		return err
	}
	if p, ok := mspi.LookupPart(id); ok {
		t.part = p
		return nil
	}
	fmt.Fprintf(os.Stderr, "unknown flash ID (%X), assuming generic NOR\n", id)
	t.part = mspi.GenericNOR(id)
	return nil
}

// detect reads the JEDEC ID with the command set every known NOR part
// shares.
func (t *target) detect() ([]byte, error) {
	f, err := t.ctrl.OpenNOR(module, mspi.GenericNOR(nil), t.cfg)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := f.PowerUp(); err != nil {
		return nil, fmt.Errorf("flash power up failed: %w", err)
	}
	id, err := f.ReadID()
	if err != nil {
		return nil, fmt.Errorf("read flash ID failed: %w", err)
	}
	return []byte{byte(id >> 16), byte(id >> 8), byte(id)}, nil
}

// open opens the resolved part on the selected module.
func (t *target) open() (mspi.MemoryDevice, error) {
	dev, err := t.ctrl.Open(module, t.part, t.cfg)
	if err != nil {
		return nil, err
	}
	if f, ok := dev.(*mspi.NOR); ok {
		if err := f.PowerUp(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flash power up failed: %w", err)
		}
	}
	return dev, nil
}

func (t *target) close() error {
	if t.board == nil {
		return nil
	}
	return errors.Join(t.board.ReleaseFPGAReset(), t.board.Close())
}

// withDevice opens the target and the device, runs fn and releases both.
func withDevice(fn func(*target, mspi.MemoryDevice) error) (err error) {
	t, err := openTarget()
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, t.close()) }()

	dev, err := t.open()
	if err != nil {
		return err
	}
	defer dev.Close()
	if f, ok := dev.(*mspi.NOR); ok {
		defer f.PowerDown()
	}
	return fn(t, dev)
}

// eraseUnit is the granularity EraseRange accepts for p.
func eraseUnit(p *mspi.Part) int {
	switch p.Kind {
	case mspi.NANDFlash:
		return p.BlockSize
	case mspi.NORFlash:
		return p.SectorSize
	}
	return 1
}

// roundUp rounds n up to a multiple of unit.
func roundUp(n, unit int) int {
	return (n + unit - 1) / unit * unit
}
