package protocol

import "errors"

var (
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	ErrMalformedInput = errors.New("protocol: malformed input")
)
