package mspi

import "math/bits"

// PassBitmap has bit r set when a full readback at delay setting r passed.
type PassBitmap uint32

func (b PassBitmap) Has(i int) bool { return i >= 0 && i < 32 && b&(1<<i) != 0 }

func (b *PassBitmap) Set(i int) { *b |= 1 << i }

// Longest returns the length of the longest run of consecutive passing settings.
func (b PassBitmap) Longest() int { return CountConsecutiveOnes(uint32(b)) }

// CountConsecutiveOnes returns the length of the longest run of 1 bits in v.
func CountConsecutiveOnes(v uint32) int {
	n := 0
	for v != 0 {
		// each step drops the lowest bit of every run
		v &= v << 1
		n++
	}
	return n
}

// FindMidpoint returns the middle of the longest run of 1 bits among the
// low width bits of v. The first run wins on equal length.
//
// A run is scored when the bit after it is clear, or at the last bit while
// still in the run, so a run reaching the top of the range picks one step
// lower than one closed by a clear bit.
//
// A run that touches the bottom of the range (bit 1 set) with its middle in
// the lower half is nudged one step down when its length is odd, and one
// touching the top (bit width-2 set) with its middle in the upper half is
// nudged one step up. The pick never leaves the run.
// For width 32 the half split is 16 and the edge bits are 1 and 30.
func FindMidpoint(v uint32, width int) int {
	if width <= 0 || width > 32 {
		width = 32
	}
	var (
		runLen, maxLen int
		pick           int
		first, last    int
		odd            bool
	)
	for i := 0; i < width; i++ {
		set := v&(1<<i) != 0
		if set {
			runLen++
		}
		end := i
		if set && i < width-1 {
			continue
		}
		if set {
			end = i + 1
		}
		if runLen > maxLen {
			maxLen = runLen
			pick = i - 1 - runLen/2
			first, last = end-runLen, end-1
			odd = runLen%2 == 1
		}
		runLen = 0
	}
	if maxLen == 0 {
		return 0
	}

	half := width / 2
	lowEdge, highEdge := uint32(1)<<1, uint32(1)<<(width-2)
	switch {
	case pick < half && v&lowEdge != 0:
		if odd {
			pick--
		}
	case pick >= half && v&highEdge != 0:
		pick++
	}
	return min(max(pick, first), last)
}

// onesCount is used for report output only.
func onesCount(v uint32) int { return bits.OnesCount32(v) }
