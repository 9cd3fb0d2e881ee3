package store

import (
	"errors"

	"github.com/goldos/goldos/translate"
)

var f = translate.From

var (
	ErrSize      = errors.New(f("store size invalid"))
	ErrImageSize = errors.New(f("store image larger than store"))
)
