package kernel

import (
	"errors"

	"github.com/goldos/goldos/translate"
)

var f = translate.From

var (
	ErrShortWrite = errors.New(f("short write"))
	ErrShortRead  = errors.New(f("short read"))
)

// ErrInstall annotates a failure to install a program or snapshot file.
type ErrInstall struct {
	Name string
	Err  error
}

func (err *ErrInstall) Error() string {
	return f("install %v: %v", err.Name, err.Err)
}

func (err *ErrInstall) Unwrap() error {
	return err.Err
}
