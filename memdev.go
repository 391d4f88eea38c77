package mspi

// MemoryDevice is an open device that the timing scan can use as scratch
// space. It is implemented by NOR, NAND and PSRAM.
type MemoryDevice interface {
	ReadID() (uint32, error)
	ReadAt(buf []byte, addr uint32) error
	WriteAt(data []byte, addr uint32) error
	// EraseRange erases n bytes at addr. Both must be multiples of the
	// part's erase unit; devices without erase accept any range.
	EraseRange(addr uint32, n int) error
	Close() error

	session() *Session
}

var (
	_ MemoryDevice = (*NOR)(nil)
	_ MemoryDevice = (*NAND)(nil)
	_ MemoryDevice = (*PSRAM)(nil)
)

// Open opens module with the driver matching the part kind.
func (c *Controller) Open(module int, part *Part, cfg Config) (MemoryDevice, error) {
	if part == nil {
		return nil, ErrInvalidArgument
	}
	switch part.Kind {
	case NANDFlash:
		return c.OpenNAND(module, part, cfg)
	case PSRAMKind:
		return c.OpenPSRAM(module, part, cfg)
	default:
		return c.OpenNOR(module, part, cfg)
	}
}
