package process

import (
	"errors"

	"github.com/goldos/goldos/translate"
)

var f = translate.From

var (
	ErrTableFull = errors.New(f("process table full"))
	ErrSlot      = errors.New(f("process slot invalid"))
	ErrSnapshot  = errors.New(f("process snapshot invalid"))
)

// ErrRuntime is a guest program fault.
type ErrRuntime struct {
	Name      string   // Program file.
	PC        uint16   // Faulting instruction.
	Backtrace []uint16 // Return addresses of the open calls, innermost first.
	Err       error
}

func (err *ErrRuntime) Error() string {
	if len(err.Backtrace) != 0 {
		return f("%v: pc 0x%04x: %v, called from %04x", err.Name, err.PC, err.Err, err.Backtrace)
	}
	return f("%v: pc 0x%04x: %v", err.Name, err.PC, err.Err)
}

func (err *ErrRuntime) Unwrap() error {
	return err.Err
}
