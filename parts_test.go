package mspi

import "testing"

func TestLookupPart(t *testing.T) {
	tests := []struct {
		id   []byte
		want string
	}{
		{[]byte{0x20, 0xBA, 0x16}, "Micron N25Q 32Mb"},
		{[]byte{0xEF, 0x70, 0x18}, "Winbond W25Q 128Mb"},
		{[]byte{0xEF, 0xBA, 0x22}, "Winbond W25N 2Gb"},
		{[]byte{0xE5, 0x71, 0x00}, "Dosilicon DS35X1GA 1Gb"},
		{[]byte{0x0D, 0x8D}, "APMemory APS6408L 64Mb"},
		{[]byte{0x12, 0x34, 0x56}, ""},
		{nil, ""},
	}
	for _, tt := range tests {
		p, ok := LookupPart(tt.id)
		if tt.want == "" {
			if ok {
				t.Errorf("LookupPart(%X) = %s, want none", tt.id, p)
			}
			continue
		}
		if !ok || p.Name != tt.want {
			t.Errorf("LookupPart(%X) = %v, want %s", tt.id, p, tt.want)
		}
	}
}

func TestPartsGeometry(t *testing.T) {
	for _, p := range Parts() {
		t.Run(p.Name, func(t *testing.T) {
			if p.PageSize <= 0 || p.Capacity <= 0 {
				t.Fatalf("page %d capacity %d", p.PageSize, p.Capacity)
			}
			if p.Capacity%int64(p.PageSize) != 0 {
				t.Errorf("capacity not a multiple of the page")
			}
			switch p.Kind {
			case NORFlash:
				if p.SectorSize%p.PageSize != 0 || p.BlockSize%p.SectorSize != 0 {
					t.Errorf("sector %d block %d", p.SectorSize, p.BlockSize)
				}
				if p.ProgramPoll.Max == 0 || p.ErasePoll.Max == 0 || p.ChipErasePoll.Max == 0 {
					t.Errorf("missing poll budget")
				}
			case NANDFlash:
				if p.BlockSize != p.PageSize*p.PagesPerBlock {
					t.Errorf("block %d != %d pages of %d", p.BlockSize, p.PagesPerBlock, p.PageSize)
				}
				if p.ReadPoll.Max == 0 || p.ProgramPoll.Max == 0 || p.ErasePoll.Max == 0 {
					t.Errorf("missing poll budget")
				}
			}
		})
	}
}

func TestGenericNOR(t *testing.T) {
	p := GenericNOR([]byte{0xAA, 0xBB, 0xCC})
	if p.Kind != NORFlash {
		t.Fatalf("kind %s", p.Kind)
	}
	for _, k := range knownParts {
		if k.Kind != NORFlash {
			continue
		}
		if p.ChipErasePoll.Budget() < k.ChipErasePoll.Budget() {
			t.Errorf("chip erase budget %v below %s", p.ChipErasePoll.Budget(), k.Name)
		}
		if p.ProgramPoll.Budget() < k.ProgramPoll.Budget() {
			t.Errorf("program budget %v below %s", p.ProgramPoll.Budget(), k.Name)
		}
	}
	if partN25Q32.Name == p.Name {
		t.Error("GenericNOR modified the N25Q32 entry")
	}
}

func TestPartByName(t *testing.T) {
	if p, ok := PartByName("W25N"); !ok || p.Kind != NANDFlash {
		t.Errorf("PartByName(W25N) = %v, %t", p, ok)
	}
	if _, ok := PartByName(""); ok {
		t.Error("empty name matched")
	}
}
