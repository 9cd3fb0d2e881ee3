package config

import (
	"errors"

	"github.com/goldos/goldos/translate"
)

var f = translate.From

var (
	ErrStoreSize  = errors.New(f("store size out of range"))
	ErrCapacity   = errors.New(f("open file capacity out of range"))
	ErrSlots      = errors.New(f("process slots out of range"))
	ErrImage      = errors.New(f("store image path missing"))
	ErrUnknownKey = errors.New(f("unknown configuration key"))
)

// ErrConfig annotates a configuration failure with its file.
type ErrConfig struct {
	Path string
	Err  error
}

func (err *ErrConfig) Error() string {
	return f("%v: %v", err.Path, err.Err)
}

func (err *ErrConfig) Unwrap() error {
	return err.Err
}
