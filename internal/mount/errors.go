package mount

import "errors"

var (
	// ErrTransportTimeout means no usable reply arrived: the write failed or no
	// terminator was read before the reply timeout.
	ErrTransportTimeout = errors.New("transport timeout")

	// ErrOutOfBounds means a move target lies outside the axis travel limits.
	// Nothing is sent when it is returned.
	ErrOutOfBounds = errors.New("target outside travel limits")

	// ErrInvalidChannel means the axis number is not one the firmware knows.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrMotionTimeout means an axis was still reporting motion when the motion
	// timeout expired.
	ErrMotionTimeout = errors.New("axis did not stop before motion timeout")
)
