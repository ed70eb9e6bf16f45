package domain

import "errors"

var (
	ErrNotConnected       = errors.New("not connected")
	ErrDecodeFrame        = errors.New("malformed frame")
	ErrUnknownChannel     = errors.New("unknown channel")
	ErrUnsupportedCommand = errors.New("unsupported command")
	ErrNotFound           = errors.New("not found")
)
