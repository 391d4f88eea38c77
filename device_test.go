package mspi_test

import (
	"bytes"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/gentam/mspi"
	"github.com/gentam/mspi/sim"
	"periph.io/x/conn/v3/physic"
)

type nopClock struct{}

func (nopClock) Sleep(time.Duration) {}

var cfg = mspi.Config{Clock: 48 * physic.MegaHertz, Protocol: mspi.Octal, DataRate: mspi.DDR, AddrLen: 4}

func partNamed(t *testing.T, name string) *mspi.Part {
	t.Helper()
	p, ok := mspi.PartByName(name)
	if !ok {
		t.Fatalf("no part %q", name)
	}
	return p
}

// simController returns a one module controller with a simulated device.
func simController(t *testing.T, part *mspi.Part) (*mspi.Controller, *sim.Controller) {
	t.Helper()
	sc := sim.NewController(sim.NewMemory(part), mspi.Timing{})
	c := mspi.NewController(1, sim.Open(sc))
	c.Clock = nopClock{}
	return c, sc
}

func ascending(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestNORRoundTrip(t *testing.T) {
	c, sc := simController(t, partNamed(t, "W25Q"))
	sc.Mem.BusyPolls = 3
	f, err := c.OpenNOR(0, partNamed(t, "W25Q"), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	id, err := f.ReadID()
	if err != nil {
		t.Fatal(err)
	}
	if id != 0xEF7018 {
		t.Errorf("ReadID = %06X", id)
	}

	for _, n := range []int{1, 17, 255, 256} {
		if err := f.Erase(0x10000, 4096); err != nil {
			t.Fatal(err)
		}
		want := ascending(n)
		if err := f.Write(0x10000, want); err != nil {
			t.Fatalf("write %d: %v", n, err)
		}
		got := make([]byte, n)
		if err := f.Read(0x10000, got); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%d bytes: read back % X", n, got[:min(n, 16)])
		}
	}
	if sc.DMATransfers() == 0 {
		t.Error("data phases did not use DMA")
	}
	if sc.Mem.WriteEnabled() {
		t.Error("write enable latch left set")
	}
}

func TestNORMultiPageWriteFrom(t *testing.T) {
	part := partNamed(t, "N25Q 32Mb")
	c, _ := simController(t, part)
	f, _ := c.OpenNOR(0, part, mspi.Config{Clock: 30 * physic.MegaHertz, AddrLen: 3})
	defer f.Close()

	want := ascending(1000)
	if err := f.WriteFrom(0x2080, bytes.NewReader(want)); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(want))
	if err := f.Read(0x2080, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Error("multi-page write mismatch")
	}
}

func TestEraseIdempotent(t *testing.T) {
	part := partNamed(t, "W25Q")
	c, _ := simController(t, part)
	f, _ := c.OpenNOR(0, part, cfg)
	defer f.Close()

	f.Write(0x20000, ascending(256))
	erased := bytes.Repeat([]byte{0xFF}, 64<<10)
	for i := 0; i < 2; i++ {
		if err := f.BlockErase(0x20000); err != nil {
			t.Fatal(err)
		}
		got := make([]byte, 64<<10)
		if err := f.Read(0x20000, got); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, erased) {
			t.Fatalf("erase %d: block not erased", i+1)
		}
	}
}

func TestEraseAlignment(t *testing.T) {
	part := partNamed(t, "W25Q")
	c, _ := simController(t, part)
	f, _ := c.OpenNOR(0, part, cfg)
	defer f.Close()
	if err := f.Erase(0x100, 4096); !errors.Is(err, mspi.ErrInvalidArgument) {
		t.Errorf("unaligned erase: %v", err)
	}
	if err := f.Erase(0, 3000); !errors.Is(err, mspi.ErrInvalidArgument) {
		t.Errorf("partial sector erase: %v", err)
	}
}

func TestNORStuckBusy(t *testing.T) {
	part := *partNamed(t, "W25Q")
	part.ErasePoll = mspi.Poll{Max: 20, Interval: time.Millisecond}
	c, sc := simController(t, &part)
	sc.Mem.StuckBusy = true
	f, _ := c.OpenNOR(0, &part, cfg)
	defer f.Close()

	if err := f.SectorErase(0); !errors.Is(err, mspi.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	ops := sc.Mem.Opcodes()
	polls := 0
	for _, op := range ops {
		if op == part.Status.Opcode {
			polls++
		}
	}
	if polls != 20 {
		t.Errorf("%d status polls, want 20", polls)
	}
	if ops[len(ops)-1] != part.Ops.WriteDisable {
		t.Errorf("last opcode 0x%02X, want write disable", ops[len(ops)-1])
	}
}

func TestNANDFullPageProgram(t *testing.T) {
	part := partNamed(t, "DS35X1GA")
	c, sc := simController(t, part)
	n, err := c.OpenNAND(0, part, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()
	sc.Mem.BusyPolls = 2

	const page = 256
	if err := n.BlockErase(page >> 6); err != nil {
		t.Fatal(err)
	}
	data := ascending(2048)
	if err := n.PageWrite(page, data, nil); err != nil {
		t.Fatal(err)
	}
	got, oob := make([]byte, 2048), make([]byte, 64)
	ecc, err := n.PageRead(page, got, oob)
	if err != nil {
		t.Fatal(err)
	}
	if ecc != mspi.NoBitFlips {
		t.Errorf("ecc = %s", ecc)
	}
	if !bytes.Equal(got, data) {
		t.Error("page data mismatch")
	}
	if !bytes.Equal(oob, bytes.Repeat([]byte{0xFF}, 64)) {
		t.Errorf("oob = % X", oob[:8])
	}
}

func TestNANDOOB(t *testing.T) {
	part := partNamed(t, "W25N")
	c, _ := simController(t, part)
	n, _ := c.OpenNAND(0, part, cfg)
	defer n.Close()

	oob := []byte{0xFF, 0x12, 0x34}
	if err := n.PageWrite(70, ascending(100), oob); err != nil {
		t.Fatal(err)
	}
	got, gotOOB := make([]byte, 100), make([]byte, 3)
	if _, err := n.PageRead(70, got, gotOOB); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, ascending(100)) || !bytes.Equal(gotOOB, oob) {
		t.Errorf("data % X oob % X", got[:4], gotOOB)
	}
	if err := n.PageWrite(70, make([]byte, 2049), nil); !errors.Is(err, mspi.ErrInvalidArgument) {
		t.Errorf("oversized page: %v", err)
	}
}

func TestNANDECC(t *testing.T) {
	tests := []struct {
		part    string
		field   byte
		want    mspi.EccStatus
		wantErr error
	}{
		{"W25N", 0, mspi.NoBitFlips, nil},
		{"W25N", 1, mspi.Corrected, nil},
		{"W25N", 2, mspi.Uncorrectable, mspi.ErrECC},
		{"DS35X1GA", 3, mspi.CorrectedAtLimit, nil},
	}
	for _, tt := range tests {
		t.Run(tt.part+" "+tt.want.String(), func(t *testing.T) {
			part := partNamed(t, tt.part)
			c, sc := simController(t, part)
			n, _ := c.OpenNAND(0, part, cfg)
			defer n.Close()
			sc.Mem.SetECC(5, tt.field)
			ecc, err := n.PageRead(5, make([]byte, 16), nil)
			if ecc != tt.want {
				t.Errorf("ecc = %s, want %s", ecc, tt.want)
			}
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsBadBlock(t *testing.T) {
	part := partNamed(t, "W25N")
	c, sc := simController(t, part)
	n, _ := c.OpenNAND(0, part, cfg)
	defer n.Close()

	sc.Mem.MarkBad(3)
	sc.Mem.SetECC(part.PageAddress(5), 2)
	sc.Mem.SetECC(part.PageAddress(6), 1)
	for block, want := range map[int]bool{2: false, 3: true, 4: false, 5: true, 6: true} {
		bad, err := n.IsBadBlock(block)
		if err != nil {
			t.Fatalf("block %d: %v", block, err)
		}
		if bad != want {
			t.Errorf("block %d bad = %t, want %t", block, bad, want)
		}
	}
	if _, err := n.IsBadBlock(1 << 20); !errors.Is(err, mspi.ErrInvalidArgument) {
		t.Errorf("block out of range: %v", err)
	}
}

func TestNANDDeviceFailures(t *testing.T) {
	part := partNamed(t, "W25N")
	c, sc := simController(t, part)
	n, _ := c.OpenNAND(0, part, cfg)
	defer n.Close()

	sc.Mem.FailProgram = true
	if err := n.PageWrite(0, ascending(16), nil); !errors.Is(err, mspi.ErrProgramFailed) {
		t.Errorf("program: %v", err)
	}
	sc.Mem.FailProgram = false
	sc.Mem.FailErase = true
	if err := n.BlockErase(1); !errors.Is(err, mspi.ErrEraseFailed) {
		t.Errorf("erase: %v", err)
	}
	if sc.Mem.WriteEnabled() {
		t.Error("write enable latch left set")
	}
}

func TestPSRAMRoundTrip(t *testing.T) {
	part := partNamed(t, "APS6408L")
	c, _ := simController(t, part)
	p, err := c.OpenPSRAM(0, part, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	id, err := p.ReadID()
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x0D8D {
		t.Errorf("ReadID = %04X", id)
	}
	// crosses a row boundary at 0x400
	want := ascending(3000)
	if err := p.WriteAt(want, 0x300); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(want))
	if err := p.ReadAt(got, 0x300); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Error("PSRAM mismatch")
	}
	if err := p.WriteAt(want, uint32(part.Capacity)-10); !errors.Is(err, mspi.ErrInvalidArgument) {
		t.Errorf("write past end: %v", err)
	}
}

func TestControlRequests(t *testing.T) {
	part := partNamed(t, "MX25UM")
	c, sc := simController(t, part)
	f, _ := c.OpenNOR(0, part, cfg)
	defer f.Close()

	if err := f.EnableXIP(); err != nil || !sc.XIP() {
		t.Errorf("EnableXIP: %v, xip %t", err, sc.XIP())
	}
	if err := f.DisableXIP(); err != nil || sc.XIP() {
		t.Errorf("DisableXIP: %v, xip %t", err, sc.XIP())
	}
	if err := f.EnableScrambling(); err != nil || !sc.Scrambling() {
		t.Errorf("EnableScrambling: %v", err)
	}
}

func TestOpenByKind(t *testing.T) {
	for _, name := range []string{"N25Q 256", "W25N", "APS6408L"} {
		part := partNamed(t, name)
		c, _ := simController(t, part)
		dev, err := c.Open(0, part, cfg)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		id, err := dev.ReadID()
		if err != nil {
			t.Fatal(err)
		}
		var idb []byte
		for v := id; v != 0; v >>= 8 {
			idb = append([]byte{byte(v)}, idb...)
		}
		if p, ok := mspi.LookupPart(idb); !ok || p != part {
			t.Errorf("%s: ID %X identifies %v", name, id, p)
		}
		dev.Close()
	}
}

func TestSessionOpcodesFromPart(t *testing.T) {
	part := partNamed(t, "MX25UM")
	c, sc := simController(t, part)
	f, _ := c.OpenNOR(0, part, cfg)
	defer f.Close()
	if err := f.SectorErase(0x1000); err != nil {
		t.Fatal(err)
	}
	want := []uint8{0x06, 0x21, 0x05, 0x04}
	if got := sc.Mem.Opcodes(); !slices.Equal(got, want) {
		t.Errorf("opcodes = %X, want %X", got, want)
	}
	cmds := sc.Mem.Commands()
	if cmds[1].AddrLen != 4 || cmds[1].Addr != 0x1000 {
		t.Errorf("erase command %+v", cmds[1])
	}
}
