package scheduler

import "errors"

var (
	// ErrNoSlot is returned by RegisterChn when the context has no free
	// channel slot (MaxNodes reached).
	ErrNoSlot = errors.New("scheduler: no free channel slot")
	// ErrInvalid marks a bad id or a channel in the wrong state for the
	// requested operation.
	ErrInvalid = errors.New("scheduler: invalid channel or state")
	// ErrAlreadyConnected is returned by Connect when dst already has a
	// source channel.
	ErrAlreadyConnected = errors.New("scheduler: destination already connected")
)
