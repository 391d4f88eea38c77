package mspi

import "fmt"

// PSRAM is an open pseudo-static RAM. It needs no erase and has no busy
// state; writes are split at row boundaries.
type PSRAM struct {
	*Session
}

func (c *Controller) OpenPSRAM(module int, part *Part, cfg Config) (*PSRAM, error) {
	if part != nil && part.Kind != PSRAMKind {
		return nil, fmt.Errorf("%w: %s is not a PSRAM part", ErrInvalidArgument, part.Name)
	}
	s, err := c.acquire(module, part, cfg)
	if err != nil {
		return nil, err
	}
	return &PSRAM{s}, nil
}

// ReadID returns the vendor and device ID bytes of the mode registers.
func (p *PSRAM) ReadID() (uint32, error) { return readID(p.Session, 2) }

func (p *PSRAM) Reset() error { return p.bare(p.part.Ops.Reset) }

func (p *PSRAM) ReadAt(buf []byte, addr uint32) error {
	return p.rows(buf, addr, func(cmd Command, b []byte) error { return p.transfer(cmd, b, Read) },
		p.part.Ops.Read, p.part.Ops.ReadDummy)
}

func (p *PSRAM) WriteAt(data []byte, addr uint32) error {
	return p.rows(data, addr, func(cmd Command, b []byte) error { return p.transfer(cmd, b, Write) },
		p.part.Ops.Program, 0)
}

// rows splits a burst so that none crosses a row boundary.
func (p *PSRAM) rows(buf []byte, addr uint32, fn func(Command, []byte) error, op uint8, dummy int) error {
	if err := p.checkRange(addr, len(buf)); err != nil {
		return err
	}
	row := uint32(p.part.PageSize)
	for len(buf) > 0 {
		n := min(uint32(len(buf)), row-addr%row, uint32(p.maxTransfer()))
		cmd := Command{Opcode: op, Addr: addr, AddrLen: p.cfg.AddrLen, Dummy: dummy}
		if err := fn(cmd, buf[:n]); err != nil {
			return err
		}
		addr += n
		buf = buf[n:]
	}
	return nil
}

// EraseRange only checks the range; PSRAM has nothing to erase.
func (p *PSRAM) EraseRange(addr uint32, n int) error { return p.checkRange(addr, n) }
