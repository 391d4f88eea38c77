package mspi

import (
	"fmt"
	"io"
	"strings"
)

// NOR is an open serial NOR flash.
type NOR struct {
	*Session
}

// OpenNOR initializes controller instance module for a NOR flash part.
func (c *Controller) OpenNOR(module int, part *Part, cfg Config) (*NOR, error) {
	if part != nil && part.Kind != NORFlash {
		return nil, fmt.Errorf("%w: %s is not a NOR part", ErrInvalidArgument, part.Name)
	}
	s, err := c.acquire(module, part, cfg)
	if err != nil {
		return nil, err
	}
	return &NOR{s}, nil
}

// PowerUp releases the flash from deep power down.
func (f *NOR) PowerUp() error {
	if err := f.bare(f.part.Ops.PowerUp); err != nil {
		return err
	}
	f.clock.Sleep(f.part.TRES1)
	return nil
}

func (f *NOR) PowerDown() error {
	if err := f.bare(f.part.Ops.PowerDown); err != nil {
		return err
	}
	f.clock.Sleep(f.part.TDP)
	return nil
}

// Reset issues the reset-enable/reset pair.
func (f *NOR) Reset() error {
	if err := f.bare(f.part.Ops.ResetEnable); err != nil {
		return err
	}
	return f.bare(f.part.Ops.Reset)
}

// ReadID returns the JEDEC ID of the flash chip packed as 0x00MMTTCC.
// The extended device string is ignored.
func (f *NOR) ReadID() (uint32, error) {
	return readID(f.Session, 3)
}

func readID(s *Session, n int) (uint32, error) {
	buf := make([]byte, n)
	cmd := Command{Opcode: s.part.Ops.ReadID, Dummy: s.part.Ops.ReadIDDummy}
	if err := s.send(cmd, buf, Read); err != nil {
		return 0, err
	}
	var id uint32
	for _, b := range buf {
		id = id<<8 | uint32(b)
	}
	return id, nil
}

// Status reads the status register of the first die.
func (f *NOR) Status() (StatusRegister, error) {
	st, err := f.readStatus()
	return StatusRegister(st), err
}

// Read reads len(buf) bytes at addr, splitting it into multiple transactions
// if needed to stay within the maximum transaction size.
func (f *NOR) Read(addr uint32, buf []byte) error {
	maxData := f.maxTransfer()
	for off := 0; off < len(buf); {
		chunk := min(len(buf)-off, maxData)
		cmd := Command{
			Opcode:  f.part.Ops.Read,
			Addr:    addr + uint32(off),
			AddrLen: f.cfg.AddrLen,
			Dummy:   f.part.Ops.ReadDummy,
		}
		if err := f.transfer(cmd, buf[off:off+chunk], Read); err != nil {
			return err
		}
		off += chunk
	}
	return nil
}

// Write programs data at addr one page at a time. A failing page aborts the
// write; later pages are not attempted.
func (f *NOR) Write(addr uint32, data []byte) error {
	page := uint32(f.part.PageSize)
	for len(data) > 0 {
		n := min(uint32(len(data)), page-addr%page)
		if err := f.pageProgram(addr, data[:n]); err != nil {
			return err
		}
		addr += n
		data = data[n:]
	}
	return nil
}

// WriteFrom programs everything r yields starting at addr.
func (f *NOR) WriteFrom(addr uint32, r io.Reader) error {
	page := uint32(f.part.PageSize)
	buf := make([]byte, page)
	for {
		n, err := io.ReadFull(r, buf[:page-addr%page])
		if n > 0 {
			if werr := f.pageProgram(addr, buf[:n]); werr != nil {
				return werr
			}
			addr += uint32(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (f *NOR) pageProgram(addr uint32, data []byte) error {
	if len(data) > f.part.PageSize {
		return fmt.Errorf("%w: data must not exceed %d bytes", ErrInvalidArgument, f.part.PageSize)
	}
	if err := f.checkRange(addr, len(data)); err != nil {
		return err
	}
	return f.execute(&pendingOp{
		name: "page program",
		addr: addr,
		n:    len(data),
		poll: f.part.ProgramPoll,
		issue: func() error {
			cmd := Command{Opcode: f.part.Ops.Program, Addr: addr, AddrLen: f.cfg.AddrLen}
			return f.transfer(cmd, data, Write)
		},
	})
}

// SectorErase erases the smallest erase unit (4KB) containing addr.
func (f *NOR) SectorErase(addr uint32) error {
	return f.erase("sector erase", f.part.Ops.SectorErase, addr, f.part.ErasePoll)
}

// BlockErase erases the 64KB block containing addr.
func (f *NOR) BlockErase(addr uint32) error {
	return f.erase("block erase", f.part.Ops.BlockErase, addr, f.part.BlockPoll)
}

// ChipErase bulk erases the entire chip.
func (f *NOR) ChipErase() error {
	return f.execute(&pendingOp{
		name:  "chip erase",
		poll:  f.part.ChipErasePoll,
		issue: func() error { return f.bare(f.part.Ops.ChipErase) },
	})
}

func (f *NOR) erase(name string, op uint8, addr uint32, p Poll) error {
	if op == 0 {
		return fmt.Errorf("%s: %w", name, ErrUnsupported)
	}
	if err := f.checkRange(addr, 1); err != nil {
		return err
	}
	return f.execute(&pendingOp{
		name: name,
		addr: addr,
		poll: p,
		issue: func() error {
			return f.send(Command{Opcode: op, Addr: addr, AddrLen: f.cfg.AddrLen}, nil, Write)
		},
	})
}

// Erase erases the size bytes starting from baseAddr by repeatedly calling
// BlockErase and SectorErase. baseAddr and size must be sector aligned.
func (f *NOR) Erase(baseAddr uint32, size int) error {
	sectorSize, blockSize := uint32(f.part.SectorSize), uint32(f.part.BlockSize)
	if baseAddr%sectorSize != 0 || uint32(size)%sectorSize != 0 {
		return fmt.Errorf("%w: erase 0x%X+%d not aligned to %d", ErrInvalidArgument, baseAddr, size, sectorSize)
	}

	addr, end := baseAddr, baseAddr+uint32(size)
	for addr < end {
		// Use 64KB blocks for as much as possible
		if blockSize > 0 && addr%blockSize == 0 && end-addr >= blockSize && f.part.Ops.BlockErase != 0 {
			if err := f.BlockErase(addr); err != nil {
				return err
			}
			addr += blockSize
			continue
		}
		if err := f.SectorErase(addr); err != nil {
			return err
		}
		addr += sectorSize
	}
	return nil
}

func (f *NOR) ReadAt(buf []byte, addr uint32) error   { return f.Read(addr, buf) }
func (f *NOR) WriteAt(data []byte, addr uint32) error { return f.Write(addr, data) }
func (f *NOR) EraseRange(addr uint32, n int) error    { return f.Erase(addr, n) }

func (s *Session) checkRange(addr uint32, n int) error {
	if s.cfg.AddrLen < 4 && uint64(addr)+uint64(n) > 1<<(8*s.cfg.AddrLen) {
		return fmt.Errorf("%w: address 0x%X out of %d-bit range", ErrInvalidArgument, addr, 8*s.cfg.AddrLen)
	}
	if s.part.Capacity > 0 && int64(addr)+int64(n) > s.part.Capacity {
		return fmt.Errorf("%w: address 0x%X beyond capacity 0x%X", ErrInvalidArgument, addr, s.part.Capacity)
	}
	return nil
}

// maxTransfer is the largest data phase the transport accepts in one go.
func (s *Session) maxTransfer() int {
	if m, ok := s.t.(interface{ MaxTransfer() int }); ok {
		if n := m.MaxTransfer(); n > 0 {
			return n
		}
	}
	return 64 << 10
}

// StatusRegister represents the status register of a NOR flash chip.
//
//	Bits| [N25Q32|Table 9]                     | [W25Q128|7.1 Status Registers]
//	----+--------------------------------------+-------------------------------
//	7   | Status register write enable/disable | SRP: Status Register Protect
//	6   | Reserved                             | SEC: Sector protect
//	5   | Top/bottom                           | TB: Top/Bottom protect
//	4:2 | Block protect 2-0                    | BP2-0: Block Protect bit 2-0
//	1   | Write enable latch                   | WEL: Write Enable Latch
//	0   | Write in progress                    | BUSY: Erase/Write in progress
//
// On paired-die configurations bits 8-15 hold the second die.
type StatusRegister uint16

func (sr StatusRegister) StatusRegisterProtect() bool { return sr&(1<<7) != 0 }
func (sr StatusRegister) SectorProtect() bool         { return sr&(1<<6) != 0 }
func (sr StatusRegister) TopBottom() bool             { return sr&(1<<5) != 0 }
func (sr StatusRegister) BlockProtect2() bool         { return sr&(1<<4) != 0 }
func (sr StatusRegister) BlockProtect1() bool         { return sr&(1<<3) != 0 }
func (sr StatusRegister) BlockProtect0() bool         { return sr&(1<<2) != 0 }
func (sr StatusRegister) WriteEnabled() bool          { return sr&(1<<1) != 0 }
func (sr StatusRegister) Busy() bool                  { return sr&(1<<0|1<<8) != 0 }

// Die returns the status of the second die of a pair.
func (sr StatusRegister) Die(i int) StatusRegister {
	return StatusRegister(byte(sr >> (8 * i)))
}

func (sr StatusRegister) String() string {
	if sr > 0xFF {
		return sr.Die(0).String() + " | " + sr.Die(1).String()
	}
	b := fmt.Sprintf("%08b", byte(sr))
	s := []string{}
	if sr.StatusRegisterProtect() {
		s = append(s, "SRP")
	}
	if sr.SectorProtect() {
		s = append(s, "SEC")
	}
	if sr.TopBottom() {
		s = append(s, "TB")
	}
	if sr.BlockProtect2() {
		s = append(s, "BP2")
	}
	if sr.BlockProtect1() {
		s = append(s, "BP1")
	}
	if sr.BlockProtect0() {
		s = append(s, "BP0")
	}
	if sr.WriteEnabled() {
		s = append(s, "WEL")
	}
	if sr.Busy() {
		s = append(s, "BUSY")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}
