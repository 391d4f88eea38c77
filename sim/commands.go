package sim

import (
	"fmt"

	"github.com/gentam/mspi"
)

// exec decodes one transaction against the part's command set. Array reads
// are corrupted unless clean is set.
func (m *Memory) exec(tx *mspi.Transaction, cfg mspi.Config, clean bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd, buf := tx.Cmd, tx.Buf
	m.log = append(m.log, cmd)
	is := func(op uint8) bool { return op != 0 && cmd.Opcode == op }
	ops, sl := m.Part.Ops, m.Part.Status

	switch {
	case is(sl.Opcode):
		clear(buf)
		if sl.AddrLen > 0 && cmd.Addr != sl.Addr {
			return nil // other feature registers read as zero
		}
		dies := 1
		if cfg.Paired {
			dies = 2
		}
		for i := 0; i < len(buf) && i < dies; i++ {
			buf[i] = m.status(i)
		}
		return nil
	case is(ops.ReadID):
		clear(buf)
		copy(buf, m.Part.ID)
		return nil
	case is(ops.WriteEnable):
		m.wel = true
		return nil
	case is(ops.WriteDisable):
		m.wel = false
		return nil
	case is(ops.ResetEnable), is(ops.PowerUp), is(ops.PowerDown):
		return nil
	case is(ops.Reset):
		m.wel = false
		m.busy = [2]int{}
		return nil
	}

	switch m.Part.Kind {
	case mspi.NORFlash:
		return m.execNOR(cmd, buf, clean)
	case mspi.NANDFlash:
		return m.execNAND(cmd, buf, clean)
	case mspi.PSRAMKind:
		return m.execPSRAM(cmd, buf, clean)
	}
	return unsupported(cmd)
}

func unsupported(cmd mspi.Command) error {
	return fmt.Errorf("sim: unsupported opcode 0x%02X", cmd.Opcode)
}

func corrupt(buf []byte) {
	if len(buf) > 0 {
		buf[len(buf)/2] ^= 0x5A
	}
}

func (m *Memory) execNOR(cmd mspi.Command, buf []byte, clean bool) error {
	p := m.Part
	addr := int64(cmd.Addr)
	switch cmd.Opcode {
	case p.Ops.Read:
		if err := m.check(addr, len(buf)); err != nil {
			return err
		}
		m.load(addr, buf)
		if !clean {
			corrupt(buf)
		}
		return nil
	case p.Ops.Program:
		if err := m.check(addr, 1); err != nil {
			return err
		}
		if !m.wel {
			return nil
		}
		// the column wraps within the page
		page := addr - addr%int64(p.PageSize)
		for i, b := range buf {
			m.store(page+(addr-page+int64(i))%int64(p.PageSize), []byte{b}, true)
		}
	case p.Ops.SectorErase:
		if !m.eraseUnit(addr, p.SectorSize) {
			return nil
		}
	case p.Ops.BlockErase:
		if !m.eraseUnit(addr, p.BlockSize) {
			return nil
		}
	case p.Ops.ChipErase:
		if !m.wel {
			return nil
		}
		m.chunks = map[uint32]*[chunkSize]byte{}
	default:
		return unsupported(cmd)
	}
	m.wel = false
	m.startBusy()
	return nil
}

// eraseUnit erases the unit of the given size containing addr if the write
// enable latch is set.
func (m *Memory) eraseUnit(addr int64, size int) bool {
	if !m.wel || size <= 0 || m.check(addr, 1) != nil {
		return false
	}
	m.erase(addr-addr%int64(size), size)
	return true
}

func (m *Memory) execNAND(cmd mspi.Command, buf []byte, clean bool) error {
	p := m.Part
	stride := int64(m.pageStride())
	pages := uint32(p.Capacity / int64(p.PageSize))
	switch cmd.Opcode {
	case p.Ops.PageRead:
		if cmd.Addr >= pages {
			return fmt.Errorf("sim: page %d beyond %d", cmd.Addr, pages)
		}
		m.load(int64(cmd.Addr)*stride, m.cache)
		m.ecc = m.eccNext[cmd.Addr]
		delete(m.eccNext, cmd.Addr)
		m.startBusy()
		return nil
	case p.Ops.Read:
		col := int(cmd.Addr)
		if col+len(buf) > len(m.cache) {
			return fmt.Errorf("sim: column %d+%d beyond %d", col, len(buf), len(m.cache))
		}
		copy(buf, m.cache[col:])
		if !clean {
			corrupt(buf)
		}
		return nil
	case p.Ops.Program, p.Ops.ProgramRandom:
		col := int(cmd.Addr)
		if col+len(buf) > len(m.cache) {
			return fmt.Errorf("sim: column %d+%d beyond %d", col, len(buf), len(m.cache))
		}
		if !m.wel {
			return nil
		}
		if cmd.Opcode == p.Ops.Program {
			fill(m.cache, 0xFF)
		}
		copy(m.cache[col:], buf)
		return nil
	case p.Ops.ProgramExecute:
		if cmd.Addr >= pages {
			return fmt.Errorf("sim: page %d beyond %d", cmd.Addr, pages)
		}
		if !m.wel {
			return nil
		}
		m.pfail, m.efail = m.FailProgram, false
		if !m.pfail {
			m.store(int64(cmd.Addr)*stride, m.cache, true)
		}
	case p.Ops.BlockErase:
		if cmd.Addr >= pages {
			return fmt.Errorf("sim: page %d beyond %d", cmd.Addr, pages)
		}
		if !m.wel {
			return nil
		}
		m.pfail, m.efail = false, m.FailErase
		if !m.efail {
			first := int64(cmd.Addr) - int64(cmd.Addr)%int64(p.PagesPerBlock)
			m.erase(first*stride, int(stride)*p.PagesPerBlock)
		}
	default:
		return unsupported(cmd)
	}
	m.wel = false
	m.startBusy()
	return nil
}

func (m *Memory) execPSRAM(cmd mspi.Command, buf []byte, clean bool) error {
	addr := int64(cmd.Addr)
	if err := m.check(addr, len(buf)); err != nil {
		return err
	}
	switch cmd.Opcode {
	case m.Part.Ops.Read:
		m.load(addr, buf)
		if !clean {
			corrupt(buf)
		}
	case m.Part.Ops.Program:
		m.store(addr, buf, false)
	default:
		return unsupported(cmd)
	}
	return nil
}
