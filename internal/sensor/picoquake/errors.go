package picoquake

import "github.com/pkg/errors"

var (
	// ErrDecode marks a malformed frame. It only affects the frame it was raised for.
	ErrDecode         = errors.New("decode error")
	ErrDeviceNotFound = errors.New("device not found")
	ErrInvalidShortID = errors.New("short id must be a 4 character string")
)
