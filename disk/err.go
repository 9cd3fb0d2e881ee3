package disk

import (
	"errors"

	"github.com/goldos/goldos/translate"
)

var f = translate.From

var (
	ErrStoreSize    = errors.New(f("store size unsuitable for a disk"))
	ErrUnformatted  = errors.New(f("disk not formatted"))
	ErrCorrupt      = errors.New(f("disk corrupt"))
	ErrAdjacentFree = errors.New(f("adjacent free blocks"))
)

// ErrWalk locates the block where a walk of the disk went wrong.
type ErrWalk struct {
	Address int // Header address of the offending block.
	Err     error
}

func (err *ErrWalk) Error() string {
	return f("block 0x%04x %v", err.Address, err.Err)
}

func (err *ErrWalk) Unwrap() error {
	return err.Err
}
