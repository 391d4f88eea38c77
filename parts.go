package mspi

import (
	"bytes"
	"fmt"
	"slices"
	"time"
)

// Kind is the memory family of a part.
type Kind uint8

const (
	NORFlash Kind = iota
	NANDFlash
	PSRAMKind
)

func (k Kind) String() string {
	switch k {
	case NORFlash:
		return "NOR"
	case NANDFlash:
		return "NAND"
	case PSRAMKind:
		return "PSRAM"
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Opcodes is the command table of a part. Zero means the part has no such
// command.
type Opcodes struct {
	ReadID      uint8
	ReadIDDummy int // dummy cycles between ReadID and the ID bytes

	WriteEnable  uint8
	WriteDisable uint8

	// Read is the array read (NOR, PSRAM) or read-from-cache (NAND).
	Read      uint8
	ReadDummy int
	// Program is page program (NOR), program load (NAND) or write (PSRAM).
	Program uint8
	// ProgramRandom loads data into the NAND cache without clearing it.
	ProgramRandom uint8
	// ProgramExecute commits the NAND cache to the array.
	ProgramExecute uint8
	// PageRead moves a NAND page into the cache.
	PageRead uint8

	SectorErase uint8
	BlockErase  uint8
	ChipErase   uint8

	PowerUp     uint8 // release from deep power down
	PowerDown   uint8
	ResetEnable uint8
	Reset       uint8
}

// StatusLayout describes how to read the status register and what its bits mean.
type StatusLayout struct {
	Opcode  uint8
	AddrLen int // NAND feature registers take an address byte
	Addr    uint32

	Busy         byte // WIP / OIP
	WriteEnabled byte // WEL
	ProgramFail  byte
	EraseFail    byte

	// ECCMask selects the NAND ECC status field, decoded through Part.ECC.
	ECCMask  byte
	ECCShift uint
}

// Part is the static description of a memory device.
type Part struct {
	Name string
	Kind Kind
	ID   []byte // JEDEC manufacturer + device ID

	Ops    Opcodes
	Status StatusLayout
	// ECC decodes the NAND ECC status field.
	ECC [4]EccStatus

	PageSize      int
	OOBSize       int
	PagesPerBlock int // NAND only
	SectorSize    int // smallest erase unit in bytes
	BlockSize     int // large erase unit in bytes
	Capacity      int64

	ProgramPoll   Poll
	ErasePoll     Poll // sector erase on NOR, block erase on NAND
	BlockPoll     Poll // NOR 64KB erase
	ChipErasePoll Poll
	ReadPoll      Poll // NAND page read into cache

	TRES1 time.Duration // release from power down
	TDP   time.Duration // enter power down
}

// PageAddress is the NAND row address of the first page of block.
func (p *Part) PageAddress(block int) uint32 {
	return uint32(block * p.PagesPerBlock)
}

func (p *Part) String() string { return p.Name }

var norOpcodes = Opcodes{
	ReadID:       0x9F,
	WriteEnable:  0x06,
	WriteDisable: 0x04,
	Read:         0x03,
	Program:      0x02,
	SectorErase:  0x20, // Subsector Erase / Sector Erase (4KB)
	BlockErase:   0xD8, // Sector Erase / Block Erase (64KB)
	ChipErase:    0xC7, // Bulk Erase / Chip Erase
	PowerUp:      0xAB,
	PowerDown:    0xB9,
	ResetEnable:  0x66,
	Reset:        0x99,
}

var norStatus = StatusLayout{
	Opcode:       0x05,
	Busy:         1 << 0,
	WriteEnabled: 1 << 1,
}

// [W25N02|8.1 Instruction Set] / [DS35X1|Command Set]
var nandOpcodes = Opcodes{
	ReadID:         0x9F,
	ReadIDDummy:    8,
	WriteEnable:    0x06,
	WriteDisable:   0x04,
	Read:           0x03,
	ReadDummy:      8,
	Program:        0x02,
	ProgramRandom:  0x84,
	ProgramExecute: 0x10,
	PageRead:       0x13,
	BlockErase:     0xD8,
	Reset:          0xFF,
}

// Get Feature on the status register (C0h).
var nandStatus = StatusLayout{
	Opcode:       0x0F,
	AddrLen:      1,
	Addr:         0xC0,
	Busy:         1 << 0, // OIP
	WriteEnabled: 1 << 1,
	EraseFail:    1 << 2,
	ProgramFail:  1 << 3,
	ECCMask:      0x30,
	ECCShift:     4,
}

var (
	partN25Q32 = Part{
		Name:       "Micron N25Q 32Mb",
		Kind:       NORFlash,
		ID:         []byte{0x20, 0xBA, 0x16},
		Ops:        norOpcodes,
		Status:     norStatus,
		PageSize:   256,
		SectorSize: 4 << 10,
		BlockSize:  64 << 10,
		Capacity:   4 << 20,

		// [N25Q32|Table 38: AC Characteristics and Operating Conditions]
		// tPP: PAGE PROGRAM cycle time (256 bytes)
		ProgramPoll: pollFor(100*time.Microsecond, 5*time.Millisecond),
		// tSSE: Subsector ERASE cycle time
		ErasePoll: pollFor(10*time.Millisecond, 800*time.Millisecond),
		// tSE: Sector ERASE cycle time
		BlockPoll: pollFor(100*time.Millisecond, 3*time.Second),
		// tBE: Bulk ERASE cycle time
		ChipErasePoll: pollFor(time.Second, 60*time.Second),
	}

	partW25Q128 = Part{
		Name:       "Winbond W25Q 128Mb",
		Kind:       NORFlash,
		ID:         []byte{0xEF, 0x70, 0x18},
		Ops:        norOpcodes,
		Status:     norStatus,
		PageSize:   256,
		SectorSize: 4 << 10,
		BlockSize:  64 << 10,
		Capacity:   16 << 20,

		// [W25Q128|9.6 AC Electrical Characteristics]:
		// tRES1: /CS High to Standby Mode without ID Read
		TRES1: 3 * time.Microsecond,
		// tDP: /CS High to Power-down Mode
		TDP: 3 * time.Microsecond,
		// tPP: Page Program Time
		ProgramPoll: pollFor(100*time.Microsecond, 3*time.Millisecond),
		// tSE: Sector Erase Time (4KB)
		ErasePoll: pollFor(10*time.Millisecond, 400*time.Millisecond),
		// tBE2: Block Erase Time (64KB)
		BlockPoll: pollFor(100*time.Millisecond, 2000*time.Millisecond),
		// tCE: Chip Erase Time
		ChipErasePoll: pollFor(time.Second, 200*time.Second),
	}

	partN25Q256A = Part{
		Name:       "Micron N25Q 256Mb",
		Kind:       NORFlash,
		ID:         []byte{0x20, 0xBA, 0x19},
		Ops:        norOpcodes,
		Status:     norStatus,
		PageSize:   256,
		SectorSize: 4 << 10,
		BlockSize:  64 << 10,
		Capacity:   32 << 20,

		// [N25Q256|AC Characteristics] tPP, tSSE, tSE, tBE
		ProgramPoll:   pollFor(100*time.Microsecond, 5*time.Millisecond),
		ErasePoll:     pollFor(10*time.Millisecond, 800*time.Millisecond),
		BlockPoll:     pollFor(100*time.Millisecond, 3*time.Second),
		ChipErasePoll: pollFor(time.Second, 480*time.Second),
	}

	partMX25UM51245G = Part{
		Name: "Macronix MX25UM 512Mb",
		Kind: NORFlash,
		ID:   []byte{0xC2, 0x81, 0x3A},
		// [MX25UM|Command Set] 4-byte address variants, OPI command extension
		// is added by the controller.
		Ops: Opcodes{
			ReadID:       0x9F,
			WriteEnable:  0x06,
			WriteDisable: 0x04,
			Read:         0xEE, // 8DTRD
			ReadDummy:    20,
			Program:      0x12, // PP4B
			SectorErase:  0x21, // SE4B
			BlockErase:   0xDC, // BE4B
			ChipErase:    0x60,
			PowerDown:    0xB9,
			ResetEnable:  0x66,
			Reset:        0x99,
		},
		Status:     norStatus,
		PageSize:   256,
		SectorSize: 4 << 10,
		BlockSize:  64 << 10,
		Capacity:   64 << 20,

		// [MX25UM|AC Characteristics] tPP, tSE, tBE, tCE
		ProgramPoll:   pollFor(time.Microsecond, 1500*time.Microsecond),
		ErasePoll:     pollFor(time.Millisecond, 400*time.Millisecond),
		BlockPoll:     pollFor(10*time.Millisecond, 2*time.Second),
		ChipErasePoll: pollFor(time.Second, 300*time.Second),
	}

	partW25N02KW = Part{
		Name:          "Winbond W25N 2Gb",
		Kind:          NANDFlash,
		ID:            []byte{0xEF, 0xBA, 0x22},
		Ops:           nandOpcodes,
		Status:        nandStatus,
		ECC:           [4]EccStatus{NoBitFlips, Corrected, Uncorrectable, Uncorrectable},
		PageSize:      2048,
		OOBSize:       128,
		PagesPerBlock: 64,
		SectorSize:    64 * 2048,
		BlockSize:     64 * 2048,
		Capacity:      2048 * 64 * 2048,

		// [W25N02|9.6 AC Electrical Characteristics] tPP, tBE, tRD
		ProgramPoll: pollFor(10*time.Microsecond, 700*time.Microsecond),
		ErasePoll:   pollFor(time.Millisecond, 10*time.Millisecond),
		ReadPoll:    pollFor(time.Microsecond, 60*time.Microsecond),
	}

	partDS35X1GA = Part{
		Name:          "Dosilicon DS35X1GA 1Gb",
		Kind:          NANDFlash,
		ID:            []byte{0xE5, 0x71},
		Ops:           nandOpcodes,
		Status:        nandStatus,
		ECC:           [4]EccStatus{NoBitFlips, Corrected, Uncorrectable, CorrectedAtLimit},
		PageSize:      2048,
		OOBSize:       64,
		PagesPerBlock: 64,
		SectorSize:    64 * 2048,
		BlockSize:     64 * 2048,
		Capacity:      1024 * 64 * 2048,

		// [DS35X1|AC Characteristics] tPROG, tERS, tRD
		ProgramPoll: pollFor(10*time.Microsecond, 600*time.Microsecond),
		ErasePoll:   pollFor(time.Millisecond, 10*time.Millisecond),
		ReadPoll:    pollFor(time.Microsecond, 100*time.Microsecond),
	}

	partAPS6408L = Part{
		Name: "APMemory APS6408L 64Mb",
		Kind: PSRAMKind,
		ID:   []byte{0x0D, 0x8D},
		// [APS6408|Command Table] linear burst read/write, mode register read
		Ops: Opcodes{
			ReadID:      0x40,
			ReadIDDummy: 8,
			Read:        0x20,
			ReadDummy:   10,
			Program:     0xA0,
			Reset:       0xFF,
		},
		PageSize: 1024, // row boundary
		Capacity: 8 << 20,
	}
)

var knownParts = []*Part{
	&partN25Q32,
	&partW25Q128,
	&partN25Q256A,
	&partMX25UM51245G,
	&partW25N02KW,
	&partDS35X1GA,
	&partAPS6408L,
}

// Parts returns the table of known parts.
func Parts() []*Part { return slices.Clone(knownParts) }

// LookupPart returns the known part whose ID is a prefix of id.
func LookupPart(id []byte) (*Part, bool) {
	for _, p := range knownParts {
		if len(p.ID) > 0 && bytes.HasPrefix(id, p.ID) {
			return p, true
		}
	}
	return nil, false
}

// PartByName finds a part by a case-sensitive substring of its name,
// e.g. "W25N" or "N25Q 32Mb".
func PartByName(name string) (*Part, bool) {
	for _, p := range knownParts {
		if name != "" && bytes.Contains([]byte(p.Name), []byte(name)) {
			return p, true
		}
	}
	return nil, false
}

// GenericNOR returns a part for an unidentified serial NOR flash. Poll
// budgets fall back to the maximum of all known NOR parts.
func GenericNOR(id []byte) *Part {
	p := partN25Q32
	p.Name = fmt.Sprintf("unknown NOR (%X)", id)
	p.ID = slices.Clone(id)
	p.ProgramPoll = maxPoll(NORFlash, func(p *Part) Poll { return p.ProgramPoll })
	p.ErasePoll = maxPoll(NORFlash, func(p *Part) Poll { return p.ErasePoll })
	p.BlockPoll = maxPoll(NORFlash, func(p *Part) Poll { return p.BlockPoll })
	p.ChipErasePoll = maxPoll(NORFlash, func(p *Part) Poll { return p.ChipErasePoll })
	p.TRES1 = 0
	p.TDP = 0
	for _, k := range knownParts {
		if k.Kind == NORFlash {
			p.TRES1 = max(p.TRES1, k.TRES1)
			p.TDP = max(p.TDP, k.TDP)
		}
	}
	return &p
}

func maxPoll(kind Kind, get func(*Part) Poll) Poll {
	var pmax Poll
	for _, p := range knownParts {
		if p.Kind != kind {
			continue
		}
		if pl := get(p); pl.Budget() > pmax.Budget() {
			pmax = pl
		}
	}
	return pmax
}
