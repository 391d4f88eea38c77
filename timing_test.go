package mspi_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/gentam/mspi"
	"github.com/gentam/mspi/sim"
)

func TestScanNoWindow(t *testing.T) {
	part := partNamed(t, "W25Q")
	c, sc := simController(t, part)
	base := mspi.Timing{Turnaround: 1, TxDelay: 1, RxDelay: 4}
	sc.SetTiming(base)
	sc.Window = sim.Never

	f, _ := c.OpenNOR(0, part, cfg)
	defer f.Close()
	_, err := mspi.ScanTiming(f, mspi.ScanOptions{})
	if !errors.Is(err, mspi.ErrNoWindowFound) {
		t.Fatalf("err = %v, want ErrNoWindowFound", err)
	}
	if _, ok := f.Timing(); ok {
		t.Error("timing applied after failed scan")
	}
	if got, _ := sc.Timing(); got != base {
		t.Errorf("controller timing %v, want base %v restored", got, base)
	}
}

func TestScanFindsWindow(t *testing.T) {
	tests := []struct {
		part string
		opts mspi.ScanOptions
	}{
		{"W25Q", mspi.ScanOptions{}},
		{"W25N", mspi.ScanOptions{}},
		{"APS6408L", mspi.ScanOptions{Addr: 0x1000}},
		{"N25Q 32Mb", mspi.ScanOptions{Addr: 0x8000, Size: 4096, MinWindow: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.part, func(t *testing.T) {
			part := partNamed(t, tt.part)
			c, sc := simController(t, part)
			sc.Window = sim.Eye(2, 6, 10, 25)

			dev, err := c.Open(0, part, cfg)
			if err != nil {
				t.Fatal(err)
			}
			defer dev.Close()
			got, err := mspi.ScanTiming(dev, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			want := mspi.Timing{TxDelay: 5, RxDelay: 17}
			if got != want {
				t.Errorf("ScanTiming = %v, want %v", got, want)
			}
			if cur, _ := sc.Timing(); cur != got {
				t.Errorf("controller timing %v, want %v", cur, got)
			}

			// The chosen setting reads the scratch region back.
			if err := mspi.VerifyTiming(dev, tt.opts); err != nil {
				t.Errorf("verify at chosen setting: %v", err)
			}
			sc.SetTiming(mspi.Timing{TxDelay: 0, RxDelay: 0})
			if err := mspi.VerifyTiming(dev, tt.opts); !errors.Is(err, mspi.ErrVerifyMismatch) {
				t.Errorf("verify outside window: %v", err)
			}
		})
	}
}

// Outside the window the bus floats and every read returns all ones, so
// status polls inside a NAND page read see the device busy. Such a setting
// is a failed point, not a failed scan.
func TestScanFloatingBus(t *testing.T) {
	for _, name := range []string{"W25N", "DS35X1GA", "W25Q"} {
		t.Run(name, func(t *testing.T) {
			part := partNamed(t, name)
			c, sc := simController(t, part)
			sc.SetTiming(mspi.Timing{TxDelay: 3, RxDelay: 12})
			sc.Window = sim.Eye(2, 6, 10, 25)
			sc.FloatingBus = true

			dev, err := c.Open(0, part, cfg)
			if err != nil {
				t.Fatal(err)
			}
			defer dev.Close()
			got, err := mspi.ScanTiming(dev, mspi.ScanOptions{})
			if err != nil {
				t.Fatal(err)
			}
			if want := (mspi.Timing{TxDelay: 5, RxDelay: 17}); got != want {
				t.Errorf("ScanTiming = %v, want %v", got, want)
			}

			sc.SetTiming(mspi.Timing{})
			if err := mspi.VerifyTiming(dev, mspi.ScanOptions{}); !errors.Is(err, mspi.ErrVerifyMismatch) {
				t.Errorf("verify outside window: %v", err)
			}
		})
	}
}

// stuckTaps rejects TX delay 4 and every timing write after that.
type stuckTaps struct {
	*sim.Controller
	stuck bool
}

var (
	errTapRejected = errors.New("tap rejected")
	errTapsStuck   = errors.New("taps stuck")
)

func (s *stuckTaps) SetTiming(tm mspi.Timing) error {
	switch {
	case s.stuck:
		return errTapsStuck
	case tm.TxDelay == 4:
		s.stuck = true
		return errTapRejected
	}
	return s.Controller.SetTiming(tm)
}

// A setting that cannot be programmed aborts the scan, and a failure to put
// the base timing back is reported with it.
func TestScanAbortRestoreError(t *testing.T) {
	part := partNamed(t, "APS6408L")
	sc := sim.NewController(sim.NewMemory(part), mspi.Timing{TxDelay: 3, RxDelay: 12})
	c := mspi.NewController(1, func(int) (mspi.Transport, error) {
		return &stuckTaps{Controller: sc}, nil
	})
	p, err := c.OpenPSRAM(0, part, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	_, err = mspi.ScanTiming(p, mspi.ScanOptions{Size: 1024})
	if !errors.Is(err, errTapRejected) {
		t.Errorf("err = %v, want the rejected tap", err)
	}
	if !errors.Is(err, errTapsStuck) {
		t.Errorf("err = %v, want the failed restore joined", err)
	}
	if _, ok := p.Timing(); ok {
		t.Error("timing applied after aborted scan")
	}
}

func TestScanWindowTooNarrow(t *testing.T) {
	part := partNamed(t, "APS6408L")
	c, sc := simController(t, part)
	sc.Window = sim.Eye(0, 7, 10, 14)
	p, _ := c.OpenPSRAM(0, part, cfg)
	defer p.Close()

	if _, err := mspi.ScanTiming(p, mspi.ScanOptions{Size: 2048, MinWindow: 6}); !errors.Is(err, mspi.ErrNoWindowFound) {
		t.Errorf("5 wide window with MinWindow 6: %v", err)
	}
	got, err := mspi.ScanTiming(p, mspi.ScanOptions{Size: 2048, MinWindow: 5})
	if err != nil {
		t.Fatalf("5 wide window with MinWindow 5: %v", err)
	}
	if got.RxDelay != 12 {
		t.Errorf("rx = %d, want 12", got.RxDelay)
	}
}

// With every axis scanned the first combination reaching the widest window
// wins: the edge and capture axes do not matter here, so they stay false,
// and turnaround 1 is found before 2.
func TestScanAllAxesTieBreak(t *testing.T) {
	part := partNamed(t, "APS6408L")
	c, sc := simController(t, part)
	eye := sim.Eye(1, 6, 4, 20)
	sc.Window = func(tm mspi.Timing) bool {
		return tm.RxNeg && tm.Turnaround >= 1 && eye(tm)
	}
	p, _ := c.OpenPSRAM(0, part, cfg)
	defer p.Close()

	got, err := mspi.ScanTiming(p, mspi.ScanOptions{Axes: mspi.AllAxes, Size: 1024})
	if err != nil {
		t.Fatal(err)
	}
	want := mspi.Timing{RxNeg: true, Turnaround: 1, TxDelay: 3, RxDelay: 12}
	if got != want {
		t.Errorf("ScanTiming = %v, want %v", got, want)
	}
}

func TestScanFixedAxes(t *testing.T) {
	part := partNamed(t, "APS6408L")
	c, sc := simController(t, part)
	base := mspi.Timing{RxCap: true, TxDelay: 3, RxDelay: 9}
	sc.SetTiming(base)
	sc.Window = sim.Eye(3, 3, 5, 30)
	p, _ := c.OpenPSRAM(0, part, cfg)
	defer p.Close()

	got, err := mspi.ScanTiming(p, mspi.ScanOptions{Axes: mspi.ScanRxDelay, Size: 1024})
	if err != nil {
		t.Fatal(err)
	}
	want := mspi.Timing{RxCap: true, TxDelay: 3, RxDelay: 18}
	if got != want {
		t.Errorf("rx only: %v, want %v", got, want)
	}

	// Only the turnaround is swept; TX and RX stay where the last scan put
	// them and the first turnaround that passes wins.
	got, err = mspi.ScanTiming(p, mspi.ScanOptions{Axes: mspi.ScanTurnaround, Size: 1024})
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("turnaround only: %v, want %v", got, want)
	}
}

func TestScanReuse(t *testing.T) {
	part := partNamed(t, "W25Q")
	c, sc := simController(t, part)
	eye := sim.Eye(2, 6, 10, 25)
	checks := 0
	sc.Window = func(tm mspi.Timing) bool {
		checks++
		return eye(tm)
	}
	f, _ := c.OpenNOR(0, part, cfg)
	defer f.Close()

	first, err := mspi.ScanTiming(f, mspi.ScanOptions{})
	if err != nil {
		t.Fatal(err)
	}
	checks = 0
	again, err := mspi.ScanTiming(f, mspi.ScanOptions{Reuse: true})
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Errorf("reuse returned %v, want %v", again, first)
	}
	if checks != 1 {
		t.Errorf("%d reads with reuse, want 1", checks)
	}

	// The window moved: the stored setting fails and a full scan runs.
	sc.Window = sim.Eye(0, 3, 0, 12)
	moved, err := mspi.ScanTiming(f, mspi.ScanOptions{Reuse: true})
	if err != nil {
		t.Fatal(err)
	}
	if moved == first {
		t.Errorf("reuse kept %v after the window moved", moved)
	}
}

func TestTimingCheck(t *testing.T) {
	part := partNamed(t, "W25N")
	c, sc := simController(t, part)
	sc.Window = sim.Eye(2, 6, 10, 25)

	var logBuf bytes.Buffer
	c.Logger = slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tm, err := c.TimingCheck(0, part, cfg, mspi.ScanOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(logBuf.Bytes(), []byte("timing combination")) {
		t.Error("scan not logged")
	}

	// The module is free again and the result applies to a new session.
	n, err := c.OpenNAND(0, part, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()
	if err := n.ApplyTiming(tm); err != nil {
		t.Fatal(err)
	}
	if got, ok := n.Timing(); !ok || got != tm {
		t.Errorf("Timing() = %v, %t", got, ok)
	}
}

func TestScanOptionsInvalid(t *testing.T) {
	part := partNamed(t, "APS6408L")
	c, _ := simController(t, part)
	p, _ := c.OpenPSRAM(0, part, cfg)
	defer p.Close()
	for _, opts := range []mspi.ScanOptions{
		{Size: -1},
		{MinWindow: 33},
		{MinWindow: -2},
	} {
		if _, err := mspi.ScanTiming(p, opts); !errors.Is(err, mspi.ErrInvalidArgument) {
			t.Errorf("%+v: %v", opts, err)
		}
	}
}
