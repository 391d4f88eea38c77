// Package sim simulates an MSPI controller with NOR, NAND or PSRAM memory
// attached. It implements the transport interfaces of package mspi so the
// device drivers, the program/erase state machine and the timing scan run
// unmodified against it.
package sim

import (
	"fmt"
	"sync"

	"github.com/gentam/mspi"
)

const chunkSize = 4096

// Memory is a simulated memory device described by a mspi.Part. Storage is
// allocated lazily so multi-gigabit parts cost nothing until written.
type Memory struct {
	Part *mspi.Part

	// BusyPolls is how many status reads report busy after a program or
	// erase.
	BusyPolls int
	// StuckBusy keeps the busy bit set forever.
	StuckBusy bool
	// FailProgram and FailErase set the NAND fail bits on completion.
	FailProgram bool
	FailErase   bool

	mu     sync.Mutex
	chunks map[uint32]*[chunkSize]byte
	fill   byte

	wel   bool
	busy  [2]int // per die
	pfail bool
	efail bool

	// NAND
	cache   []byte
	eccNext map[uint32]byte // page -> ECC field reported after reading it
	ecc     byte

	log []mspi.Command
}

// NewMemory returns an erased device.
func NewMemory(part *mspi.Part) *Memory {
	m := &Memory{
		Part:    part,
		chunks:  map[uint32]*[chunkSize]byte{},
		fill:    0xFF,
		eccNext: map[uint32]byte{},
	}
	if part.Kind == mspi.PSRAMKind {
		m.fill = 0x00
	}
	if part.Kind == mspi.NANDFlash {
		m.cache = make([]byte, m.pageStride())
	}
	return m
}

// pageStride is the size of a NAND page including its spare area.
func (m *Memory) pageStride() int { return m.Part.PageSize + m.Part.OOBSize }

// size is the size of the backing store in bytes.
func (m *Memory) size() int64 {
	if m.Part.Kind == mspi.NANDFlash {
		return m.Part.Capacity / int64(m.Part.PageSize) * int64(m.pageStride())
	}
	return m.Part.Capacity
}

func (m *Memory) check(addr int64, n int) error {
	if addr < 0 || addr+int64(n) > m.size() {
		return fmt.Errorf("sim: access 0x%X+%d beyond 0x%X", addr, n, m.size())
	}
	return nil
}

func (m *Memory) chunk(addr int64, alloc bool) *[chunkSize]byte {
	k := uint32(addr / chunkSize)
	c := m.chunks[k]
	if c == nil && alloc {
		c = new([chunkSize]byte)
		fill(c[:], m.fill)
		m.chunks[k] = c
	}
	return c
}

func (m *Memory) load(addr int64, buf []byte) {
	for len(buf) > 0 {
		off := int(addr % chunkSize)
		n := min(len(buf), chunkSize-off)
		if c := m.chunk(addr, false); c != nil {
			copy(buf[:n], c[off:])
		} else {
			fill(buf[:n], m.fill)
		}
		addr += int64(n)
		buf = buf[n:]
	}
}

// store writes data. With program set, bits can only be cleared.
func (m *Memory) store(addr int64, data []byte, program bool) {
	for len(data) > 0 {
		off := int(addr % chunkSize)
		n := min(len(data), chunkSize-off)
		c := m.chunk(addr, true)
		if program {
			for i, b := range data[:n] {
				c[off+i] &= b
			}
		} else {
			copy(c[off:], data[:n])
		}
		addr += int64(n)
		data = data[n:]
	}
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func (m *Memory) erase(addr int64, n int) {
	for a := addr; a < addr+int64(n); {
		if a%chunkSize == 0 && a+chunkSize <= addr+int64(n) {
			delete(m.chunks, uint32(a/chunkSize))
			a += chunkSize
			continue
		}
		if c := m.chunk(a, false); c != nil {
			c[a%chunkSize] = m.fill
		}
		a++
	}
}

// Peek copies device contents at addr into buf without going through the
// command set. For NAND, addr is page*(PageSize+OOBSize)+column.
func (m *Memory) Peek(addr int64, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(addr, len(buf)); err != nil {
		return err
	}
	m.load(addr, buf)
	return nil
}

// Poke overwrites device contents, e.g. to plant a bad block marker.
func (m *Memory) Poke(addr int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(addr, len(data)); err != nil {
		return err
	}
	m.store(addr, data, false)
	return nil
}

// MarkBad clears the bad block marker of a NAND block.
func (m *Memory) MarkBad(block int) error {
	page := int64(block * m.Part.PagesPerBlock)
	return m.Poke(page*int64(m.pageStride())+int64(m.Part.PageSize), []byte{0x00})
}

// SetECC makes the next read of page report the given raw ECC field.
func (m *Memory) SetECC(page uint32, field byte) {
	m.mu.Lock()
	m.eccNext[page] = field
	m.mu.Unlock()
}

// SetBusy makes die report busy for the next n status reads.
func (m *Memory) SetBusy(die, n int) {
	m.mu.Lock()
	m.busy[die] = n
	m.mu.Unlock()
}

// WriteEnabled reports the write enable latch.
func (m *Memory) WriteEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wel
}

// Commands returns every command received so far.
func (m *Memory) Commands() []mspi.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mspi.Command(nil), m.log...)
}

// Opcodes returns the opcodes of every command received so far.
func (m *Memory) Opcodes() []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]uint8, len(m.log))
	for i, c := range m.log {
		ops[i] = c.Opcode
	}
	return ops
}

func (m *Memory) startBusy() {
	m.busy[0], m.busy[1] = m.BusyPolls, m.BusyPolls
}

// status returns the status byte of die and counts down its busy time.
func (m *Memory) status(die int) byte {
	sl := m.Part.Status
	var st byte
	if m.StuckBusy || m.busy[die] > 0 {
		st |= sl.Busy
		if m.busy[die] > 0 {
			m.busy[die]--
		}
	}
	if m.wel {
		st |= sl.WriteEnabled
	}
	if m.pfail {
		st |= sl.ProgramFail
	}
	if m.efail {
		st |= sl.EraseFail
	}
	if sl.ECCMask != 0 {
		st |= (m.ecc << sl.ECCShift) & sl.ECCMask
	}
	return st
}
