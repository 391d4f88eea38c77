package mspi

import (
	"errors"
	"fmt"
	"log/slog"
)

type opState uint8

const (
	stateIdle opState = iota
	stateWriteEnabled
	stateIssued
	statePolling
	stateComplete
	stateFailed
	stateWriteDisabled
)

var opStateNames = [...]string{
	stateIdle:          "idle",
	stateWriteEnabled:  "write-enabled",
	stateIssued:        "issued",
	statePolling:       "polling",
	stateComplete:      "complete",
	stateFailed:        "failed",
	stateWriteDisabled: "write-disabled",
}

func (st opState) String() string {
	if int(st) < len(opStateNames) {
		return opStateNames[st]
	}
	return fmt.Sprintf("opState(%d)", st)
}

// pendingOp is one program or erase in flight.
type pendingOp struct {
	name  string
	addr  uint32
	n     int
	poll  Poll
	issue func() error

	// failMask is checked in the final status; a set bit fails with failErr.
	failMask byte
	failErr  error

	state opState
	polls int
}

func (op *pendingOp) to(s *Session, st opState) {
	op.state = st
	s.debug(op.name, slog.String("state", st.String()), slog.String("addr", fmt.Sprintf("0x%X", op.addr)))
}

// execute runs write-enable, the operation, busy polling and write-disable.
// Write-disable is sent whatever the outcome so the write enable latch is
// never left set.
func (s *Session) execute(op *pendingOp) (err error) {
	op.to(s, stateIdle)
	if err := s.bare(s.part.Ops.WriteEnable); err != nil {
		op.to(s, stateFailed)
		return fmt.Errorf("%s: write enable: %w", op.name, err)
	}
	op.to(s, stateWriteEnabled)

	defer func() {
		wdErr := s.bare(s.part.Ops.WriteDisable)
		op.to(s, stateWriteDisabled)
		if err == nil && wdErr != nil {
			err = fmt.Errorf("%s: write disable: %w", op.name, wdErr)
		}
		op.to(s, stateIdle)
	}()

	if err := op.issue(); err != nil {
		op.to(s, stateFailed)
		return fmt.Errorf("%s at 0x%X: %w", op.name, op.addr, err)
	}
	op.to(s, stateIssued)

	op.to(s, statePolling)
	var last uint16
	err = retryUntil(func() (bool, error) {
		op.polls++
		st, err := s.readStatus()
		if err != nil {
			return false, err
		}
		last = st
		return !s.isBusy(st), nil
	}, op.poll, s.clock)
	switch {
	case errors.Is(err, ErrTimeout):
		op.to(s, stateFailed)
		return fmt.Errorf("%s at 0x%X: %w after %d polls", op.name, op.addr, ErrBusy, op.polls)
	case err != nil:
		op.to(s, stateFailed)
		return fmt.Errorf("%s at 0x%X: status: %w", op.name, op.addr, err)
	}

	if op.failMask != 0 && s.statusHas(last, op.failMask) {
		op.to(s, stateFailed)
		return fmt.Errorf("%s at 0x%X: %w (status 0x%04X)", op.name, op.addr, op.failErr, last)
	}
	op.to(s, stateComplete)
	return nil
}

// readStatus returns the status register. On paired-die configurations the
// second die's status is in bits 8-15.
func (s *Session) readStatus() (uint16, error) {
	sl := s.part.Status
	n := 1
	if s.cfg.Paired {
		n = 2
	}
	buf := make([]byte, n)
	cmd := Command{Opcode: sl.Opcode, Addr: sl.Addr, AddrLen: sl.AddrLen}
	if err := s.send(cmd, buf, Read); err != nil {
		return 0, err
	}
	st := uint16(buf[0])
	if n == 2 {
		st |= uint16(buf[1]) << 8
	}
	return st, nil
}

func (s *Session) statusHas(st uint16, mask byte) bool {
	m := uint16(mask)
	if s.cfg.Paired {
		m |= m << 8
	}
	return st&m != 0
}

func (s *Session) isBusy(st uint16) bool { return s.statusHas(st, s.part.Status.Busy) }

// waitReady polls until the device is not busy, without touching the write
// enable latch. Used after reads that keep the device busy (NAND page read).
func (s *Session) waitReady(name string, p Poll) error {
	err := retryUntil(func() (bool, error) {
		st, err := s.readStatus()
		if err != nil {
			return false, err
		}
		return !s.isBusy(st), nil
	}, p, s.clock)
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%s: %w", name, ErrBusy)
	}
	return err
}
