package mspi

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Calibration patterns, cycled page by page over the scratch region.
const (
	patChecker = iota // 0x5555AAAA words
	patHalf           // 0xFFFF0000 words
	patWalking        // one-hot byte
	patRampUp
	patRampDown
	numPatterns
)

// fillPattern fills buf with the calibration pattern, switching pattern at
// every page boundary.
func fillPattern(buf []byte, pageSize int) {
	if pageSize <= 0 {
		pageSize = len(buf)
	}
	for off, page := 0, 0; off < len(buf); off, page = off+pageSize, page+1 {
		p := buf[off:min(off+pageSize, len(buf))]
		switch page % numPatterns {
		case patChecker:
			fillWords(p, 0x5555AAAA)
		case patHalf:
			fillWords(p, 0xFFFF0000)
		case patWalking:
			for i := range p {
				p[i] = 1 << (i % 8)
			}
		case patRampUp:
			for i := range p {
				p[i] = byte(i + 1)
			}
		case patRampDown:
			for i := range p {
				p[i] = byte(0xFF - i)
			}
		}
	}
}

func fillWords(p []byte, w uint32) {
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], w)
	for i := range p {
		p[i] = word[i%4]
	}
}

// verifyBuffer compares a readback against the expected pattern.
func verifyBuffer(got, want []byte) error {
	if bytes.Equal(got, want) {
		return nil
	}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			return fmt.Errorf("%w at offset %d", ErrVerifyMismatch, i)
		}
	}
	return ErrVerifyMismatch
}
