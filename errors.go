package pitcher

import (
	"errors"
	"fmt"
	"syscall"
)

// Code is the error taxonomy exposed to adapters (spec §6): the minimum
// set a channel callback or the core itself can raise.
type Code string

const (
	CodeOK          Code = "ok"
	CodeInvalid     Code = "invalid"
	CodeNullPointer Code = "null_pointer"
	CodeNoMemory    Code = "no_memory"
	CodeOpen        Code = "open"
	CodeMmap        Code = "mmap"
	CodeNotReady    Code = "not_ready"
	CodeNotSupport  Code = "not_support"
	CodeNotMatch    Code = "not_match"
)

// Error is a structured pitcher error carrying the operation that failed,
// the channel it failed on (if any), a Code, and a wrapped cause.
type Error struct {
	Op        string
	ChannelID int // -1 if not applicable
	Code      Code
	Errno     syscall.Errno // 0 if not applicable
	Msg       string
	Inner     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.ChannelID >= 0 {
		return fmt.Sprintf("pitcher: %s: chn=%d: %s", e.Op, e.ChannelID, msg)
	}
	return fmt.Sprintf("pitcher: %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is reports equality by Code, so callers can write
// errors.Is(err, &Error{Code: CodeNotReady}).
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError builds a channel-less structured error.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, ChannelID: -1, Code: code, Msg: msg}
}

// NewChannelError builds a structured error scoped to a channel id.
func NewChannelError(op string, channelID int, code Code, msg string) *Error {
	return &Error{Op: op, ChannelID: channelID, Code: code, Msg: msg}
}

// WrapError wraps inner with op context, mapping a raw syscall.Errno onto
// the Code taxonomy via mapErrnoToCode.
func WrapError(op string, channelID int, inner error) *Error {
	if inner == nil {
		return nil
	}
	if pe, ok := inner.(*Error); ok {
		return &Error{Op: op, ChannelID: pe.ChannelID, Code: pe.Code, Errno: pe.Errno, Msg: pe.Msg, Inner: pe.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, ChannelID: channelID, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, ChannelID: channelID, Code: CodeInvalid, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToCode maps a raw syscall errno (from open/mmap/ioctl) onto the
// §6 error taxonomy.
func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.ENOENT, syscall.ENODEV:
		return CodeOpen
	case syscall.ENOMEM:
		return CodeNoMemory
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalid
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return CodeNotSupport
	default:
		return CodeInvalid
	}
}

// IsCode reports whether err is a *Error with the given Code.
func IsCode(err error, code Code) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
