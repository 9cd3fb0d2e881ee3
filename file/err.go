package file

import (
	"errors"

	"github.com/goldos/goldos/translate"
)

var f = translate.From

var (
	ErrNotFound    = errors.New(f("file not found"))
	ErrExists      = errors.New(f("file exists"))
	ErrTableFull   = errors.New(f("open file table full"))
	ErrDiskFull    = errors.New(f("disk full"))
	ErrNameInvalid = errors.New(f("file name invalid"))
	ErrMode        = errors.New(f("file mode invalid"))
	ErrHandle      = errors.New(f("file handle invalid"))
	ErrSeek        = errors.New(f("file position invalid"))
	ErrTooLarge    = errors.New(f("file too large"))
)

// ErrFile annotates a file layer failure with the file name.
type ErrFile struct {
	Name string
	Err  error
}

func (err *ErrFile) Error() string {
	return f("%v: %v", err.Name, err.Err)
}

func (err *ErrFile) Unwrap() error {
	return err.Err
}
