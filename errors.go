package mspi

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport reports a failed or timed out bus transaction.
	ErrTransport = errors.New("transport error")
	// ErrBusy reports a status busy bit still set after the poll budget.
	ErrBusy = errors.New("device busy")
	// ErrVerifyMismatch reports a readback that differs from what was written.
	ErrVerifyMismatch = errors.New("verify mismatch")
	// ErrNoWindowFound reports a timing scan without an acceptable setting.
	ErrNoWindowFound   = errors.New("timing scan found no window")
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInUse reports an already occupied controller module.
	ErrInUse   = fmt.Errorf("%w: module in use", ErrInvalidArgument)
	ErrTimeout = errors.New("timeout")
	// ErrUnsupported reports a request the transport or part cannot serve.
	ErrUnsupported = errors.New("unsupported")
	ErrClosed      = errors.New("session closed")

	ErrProgramFailed = errors.New("program failed")
	ErrEraseFailed   = errors.New("erase failed")
	// ErrECC reports an uncorrectable NAND page.
	ErrECC = errors.New("uncorrectable ECC error")
)
