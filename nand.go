package mspi

import (
	"errors"
	"fmt"
	"log/slog"
)

// EccStatus is the ECC outcome of a NAND page read.
type EccStatus uint8

const (
	NoBitFlips EccStatus = iota
	Corrected
	Uncorrectable
	// CorrectedAtLimit means the bit flips were corrected but reached the
	// ECC strength; the block should be refreshed.
	CorrectedAtLimit
)

func (e EccStatus) String() string {
	switch e {
	case NoBitFlips:
		return "no bit flips"
	case Corrected:
		return "corrected"
	case Uncorrectable:
		return "uncorrectable"
	case CorrectedAtLimit:
		return "corrected at limit"
	}
	return fmt.Sprintf("EccStatus(%d)", e)
}

// NAND column and row address lengths in bytes.
const (
	colAddrLen = 2
	rowAddrLen = 3
)

// NAND is an open serial NAND flash. Pages are addressed by row (page)
// number; blocks by block index.
type NAND struct {
	*Session
}

func (c *Controller) OpenNAND(module int, part *Part, cfg Config) (*NAND, error) {
	if part != nil && part.Kind != NANDFlash {
		return nil, fmt.Errorf("%w: %s is not a NAND part", ErrInvalidArgument, part.Name)
	}
	if part != nil && (part.PageSize <= 0 || part.PagesPerBlock <= 0) {
		return nil, fmt.Errorf("%w: %s has no page geometry", ErrInvalidArgument, part.Name)
	}
	s, err := c.acquire(module, part, cfg)
	if err != nil {
		return nil, err
	}
	return &NAND{s}, nil
}

func (n *NAND) ReadID() (uint32, error) { return readID(n.Session, 3) }

func (n *NAND) Reset() error {
	if err := n.bare(n.part.Ops.Reset); err != nil {
		return err
	}
	return n.waitReady("reset", n.part.ReadPoll)
}

func (n *NAND) pages() uint32 {
	return uint32(n.part.Capacity / int64(n.part.PageSize))
}

func (n *NAND) checkPage(page uint32, dataLen, oobLen int) error {
	if page >= n.pages() {
		return fmt.Errorf("%w: page %d beyond %d", ErrInvalidArgument, page, n.pages())
	}
	if dataLen > n.part.PageSize || oobLen > n.part.OOBSize {
		return fmt.Errorf("%w: %d+%d bytes exceed page %d+%d", ErrInvalidArgument, dataLen, oobLen, n.part.PageSize, n.part.OOBSize)
	}
	return nil
}

// PageRead loads page into the device cache and reads data from column 0
// and oob from the spare area. An uncorrectable page still fills the
// buffers and returns an error wrapping ErrECC.
func (n *NAND) PageRead(page uint32, data, oob []byte) (EccStatus, error) {
	if err := n.checkPage(page, len(data), len(oob)); err != nil {
		return NoBitFlips, err
	}
	cmd := Command{Opcode: n.part.Ops.PageRead, Addr: page, AddrLen: rowAddrLen}
	if err := n.send(cmd, nil, Write); err != nil {
		return NoBitFlips, fmt.Errorf("page read %d: %w", page, err)
	}
	if err := n.waitReady(fmt.Sprintf("page read %d", page), n.part.ReadPoll); err != nil {
		return NoBitFlips, err
	}
	st, err := n.readStatus()
	if err != nil {
		return NoBitFlips, err
	}
	ecc := n.eccStatus(st)

	if len(data) > 0 {
		if err := n.readCache(0, data); err != nil {
			return ecc, fmt.Errorf("page read %d: %w", page, err)
		}
	}
	if len(oob) > 0 {
		if err := n.readCache(uint32(n.part.PageSize), oob); err != nil {
			return ecc, fmt.Errorf("page read %d oob: %w", page, err)
		}
	}
	n.debug("page read", slog.Uint64("page", uint64(page)), slog.String("ecc", ecc.String()))
	if ecc == Uncorrectable {
		return ecc, fmt.Errorf("page %d: %w", page, ErrECC)
	}
	return ecc, nil
}

func (n *NAND) readCache(col uint32, buf []byte) error {
	cmd := Command{Opcode: n.part.Ops.Read, Addr: col, AddrLen: colAddrLen, Dummy: n.part.Ops.ReadDummy}
	return n.transfer(cmd, buf, Read)
}

// eccStatus decodes the ECC field of both dies; the worse one wins.
func (n *NAND) eccStatus(st uint16) EccStatus {
	sl := n.part.Status
	if sl.ECCMask == 0 {
		return NoBitFlips
	}
	worst := NoBitFlips
	dies := 1
	if n.cfg.Paired {
		dies = 2
	}
	for i := 0; i < dies; i++ {
		field := (byte(st>>(8*i)) & sl.ECCMask) >> sl.ECCShift
		e := n.part.ECC[field&3]
		if eccRank(e) > eccRank(worst) {
			worst = e
		}
	}
	return worst
}

func eccRank(e EccStatus) int {
	switch e {
	case Corrected:
		return 1
	case CorrectedAtLimit:
		return 2
	case Uncorrectable:
		return 3
	}
	return 0
}

// PageWrite loads data at column 0 and oob into the spare area, then
// programs the cache into page.
func (n *NAND) PageWrite(page uint32, data, oob []byte) error {
	if err := n.checkPage(page, len(data), len(oob)); err != nil {
		return err
	}
	return n.execute(&pendingOp{
		name: "page program",
		addr: page,
		n:    len(data) + len(oob),
		poll: n.part.ProgramPoll,
		issue: func() error {
			load := Command{Opcode: n.part.Ops.Program, AddrLen: colAddrLen}
			if err := n.transfer(load, data, Write); err != nil {
				return err
			}
			if len(oob) > 0 {
				load := Command{Opcode: n.part.Ops.ProgramRandom, Addr: uint32(n.part.PageSize), AddrLen: colAddrLen}
				if err := n.transfer(load, oob, Write); err != nil {
					return err
				}
			}
			return n.send(Command{Opcode: n.part.Ops.ProgramExecute, Addr: page, AddrLen: rowAddrLen}, nil, Write)
		},
		failMask: n.part.Status.ProgramFail,
		failErr:  ErrProgramFailed,
	})
}

// BlockErase erases block, addressed by the row of its first page.
func (n *NAND) BlockErase(block int) error {
	if block < 0 || int64(block)*int64(n.part.BlockSize) >= n.part.Capacity {
		return fmt.Errorf("%w: block %d", ErrInvalidArgument, block)
	}
	row := n.part.PageAddress(block)
	return n.execute(&pendingOp{
		name: "block erase",
		addr: row,
		poll: n.part.ErasePoll,
		issue: func() error {
			return n.send(Command{Opcode: n.part.Ops.BlockErase, Addr: row, AddrLen: rowAddrLen}, nil, Write)
		},
		failMask: n.part.Status.EraseFail,
		failErr:  ErrEraseFailed,
	})
}

// IsBadBlock reads the first page of block. A block whose page does not
// read back cleanly or whose first spare byte is not 0xFF is bad; that is a
// result, not an error. Only transport and busy failures are returned.
func (n *NAND) IsBadBlock(block int) (bool, error) {
	if block < 0 || int64(block)*int64(n.part.BlockSize) >= n.part.Capacity {
		return false, fmt.Errorf("%w: block %d", ErrInvalidArgument, block)
	}
	oob := make([]byte, 1)
	if n.part.OOBSize == 0 {
		oob = nil
	}
	ecc, err := n.PageRead(n.part.PageAddress(block), nil, oob)
	if err != nil && !errors.Is(err, ErrECC) {
		return false, err
	}
	if ecc != NoBitFlips {
		return true, nil
	}
	return len(oob) > 0 && oob[0] != 0xFF, nil
}

// ReadAt reads whole pages; addr must be page aligned.
func (n *NAND) ReadAt(buf []byte, addr uint32) error {
	return n.pageLoop(buf, addr, func(page uint32, p []byte) error {
		_, err := n.PageRead(page, p, nil)
		return err
	})
}

// WriteAt programs whole pages; addr must be page aligned.
func (n *NAND) WriteAt(data []byte, addr uint32) error {
	return n.pageLoop(data, addr, func(page uint32, p []byte) error {
		return n.PageWrite(page, p, nil)
	})
}

func (n *NAND) pageLoop(buf []byte, addr uint32, fn func(page uint32, p []byte) error) error {
	ps := n.part.PageSize
	if addr%uint32(ps) != 0 {
		return fmt.Errorf("%w: address 0x%X not page aligned", ErrInvalidArgument, addr)
	}
	page := addr / uint32(ps)
	for off := 0; off < len(buf); off += ps {
		if err := fn(page, buf[off:min(off+ps, len(buf))]); err != nil {
			return err
		}
		page++
	}
	return nil
}

// EraseRange erases the blocks covering n bytes at addr.
func (n *NAND) EraseRange(addr uint32, size int) error {
	bs := uint32(n.part.BlockSize)
	if addr%bs != 0 || uint32(size)%bs != 0 {
		return fmt.Errorf("%w: erase 0x%X+%d not aligned to %d", ErrInvalidArgument, addr, size, bs)
	}
	for b := addr / bs; b < (addr+uint32(size))/bs; b++ {
		if err := n.BlockErase(int(b)); err != nil {
			return err
		}
	}
	return nil
}
