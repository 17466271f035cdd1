package pmem2

import (
	"errors"
	"fmt"
	"syscall"
)

// Code is a stable pmem2 error code. Codes are small negative integers in
// their own namespace, distinct from OS error numbers.
type Code int

const (
	CodeUnknown                 Code = -100000
	CodeNotSupported            Code = -100001
	CodeInvalidFileHandle       Code = -100002
	CodeInvalidFileType         Code = -100003
	CodeMapRange                Code = -100004
	CodeMappingExists           Code = -100005
	CodeGranularityNotSet       Code = -100006
	CodeGranularityNotSupported Code = -100007
	CodeOffsetOutOfRange        Code = -100008
	CodeOffsetUnaligned         Code = -100009
	CodeInvalidAlignmentValue   Code = -100010
	CodeLengthUnaligned         Code = -100011
	CodeMappingNotFound         Code = -100012
	CodeSourceEmpty             Code = -100013
	CodeInvalidSharingValue     Code = -100014
	CodeSrcDevDAXPrivate        Code = -100015
	CodeAddressUnaligned        Code = -100016
	CodeVMReservationNotEmpty   Code = -100017
	CodeAddressOccupied         Code = -100018
	CodeInvalidProtFlag         Code = -100019
	CodeInvalidArgument         Code = -100020
	CodeInvalidSize             Code = -100021
	CodeLengthOutOfRange        Code = -100022
	CodeDeepFlushRange          Code = -100023
	CodeConfigConsumed          Code = -100024
	CodeMoverClosed             Code = -100025
	// CodeOS wraps an error reported by the operating system.
	CodeOS Code = -100026

	CodeMoverBusy Code = -100027
)

// Error is the error type returned by every pmem2 operation.
//
// errors.Is matches two *Error values by Code, so callers can compare a
// returned error against the sentinels below even when the message carries
// call-specific detail. The OS error behind CodeOS errors is available via
// errors.Unwrap.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "pmem2: " + e.Msg + ": " + e.Err.Error()
	}
	return "pmem2: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// osError wraps an OS failure of op.
func osError(op string, err error) *Error {
	return &Error{Code: CodeOS, Msg: op, Err: err}
}

var (
	ErrUnknown                 = &Error{Code: CodeUnknown, Msg: "unknown error"}
	ErrNotSupported            = &Error{Code: CodeNotSupported, Msg: "operation not supported"}
	ErrInvalidFileHandle       = &Error{Code: CodeInvalidFileHandle, Msg: "invalid file handle"}
	ErrInvalidFileType         = &Error{Code: CodeInvalidFileType, Msg: "invalid file type"}
	ErrMapRange                = &Error{Code: CodeMapRange, Msg: "mapping range exceeds source size"}
	ErrMappingExists           = &Error{Code: CodeMappingExists, Msg: "mapping already exists in the given range"}
	ErrGranularityNotSet       = &Error{Code: CodeGranularityNotSet, Msg: "required store granularity not set"}
	ErrGranularityNotSupported = &Error{Code: CodeGranularityNotSupported, Msg: "granularity not supported"}
	ErrOffsetOutOfRange        = &Error{Code: CodeOffsetOutOfRange, Msg: "offset out of range"}
	ErrOffsetUnaligned         = &Error{Code: CodeOffsetUnaligned, Msg: "offset is not aligned"}
	ErrInvalidAlignmentValue   = &Error{Code: CodeInvalidAlignmentValue, Msg: "invalid alignment value"}
	ErrLengthUnaligned         = &Error{Code: CodeLengthUnaligned, Msg: "length is not aligned"}
	ErrMappingNotFound         = &Error{Code: CodeMappingNotFound, Msg: "mapping not found"}
	ErrSourceEmpty             = &Error{Code: CodeSourceEmpty, Msg: "mapping length is zero"}
	ErrInvalidSharingValue     = &Error{Code: CodeInvalidSharingValue, Msg: "invalid sharing value"}
	ErrSrcDevDAXPrivate        = &Error{Code: CodeSrcDevDAXPrivate, Msg: "private mapping of device dax is not allowed"}
	ErrAddressUnaligned        = &Error{Code: CodeAddressUnaligned, Msg: "address is not aligned"}
	ErrVMReservationNotEmpty   = &Error{Code: CodeVMReservationNotEmpty, Msg: "vm reservation still contains mappings"}
	ErrAddressOccupied         = &Error{Code: CodeAddressOccupied, Msg: "address range is already occupied"}
	ErrInvalidProtFlag         = &Error{Code: CodeInvalidProtFlag, Msg: "invalid protection flags"}
	ErrInvalidArgument         = &Error{Code: CodeInvalidArgument, Msg: "invalid argument"}
	ErrInvalidSize             = &Error{Code: CodeInvalidSize, Msg: "invalid size"}
	ErrLengthOutOfRange        = &Error{Code: CodeLengthOutOfRange, Msg: "length out of range"}
	ErrDeepFlushRange          = &Error{Code: CodeDeepFlushRange, Msg: "deep flush range is not within the mapping"}
	ErrConfigConsumed          = &Error{Code: CodeConfigConsumed, Msg: "config already used by a mapping"}
	ErrMoverClosed             = &Error{Code: CodeMoverClosed, Msg: "mover is closed"}
	ErrMoverBusy               = &Error{Code: CodeMoverBusy, Msg: "mover in-flight limit reached"}
)

// CodeOf returns the pmem2 code of err, CodeOS for unclassified OS errors and
// CodeUnknown for anything else. A nil error has code 0.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return CodeOS
	}
	return CodeUnknown
}

// Errno converts err to a POSIX-style error number for callers that want
// errno-based handling. OS errors keep their original number.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	switch CodeOf(err) {
	case CodeNotSupported, CodeGranularityNotSupported:
		return syscall.ENOTSUP
	case CodeInvalidFileHandle:
		return syscall.EBADF
	case CodeMappingExists, CodeAddressOccupied:
		return syscall.EEXIST
	case CodeOffsetOutOfRange, CodeLengthOutOfRange:
		return syscall.ERANGE
	case CodeMappingNotFound:
		return syscall.ENOENT
	case CodeVMReservationNotEmpty:
		return syscall.EBUSY
	case CodeSrcDevDAXPrivate:
		return syscall.EACCES
	case CodeMoverClosed:
		return syscall.ECANCELED
	case CodeMoverBusy:
		return syscall.EAGAIN
	default:
		return syscall.EINVAL
	}
}

// Message returns the human-readable message of err without the package
// prefix, suitable for logging next to the code.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Err != nil {
			return pe.Msg + ": " + pe.Err.Error()
		}
		return pe.Msg
	}
	return err.Error()
}

// invariant reports a bug in this package. Debug builds panic; release builds
// return ErrUnknown with the detail attached.
func invariant(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if debugChecks {
		panic("pmem2: invariant violated: " + msg)
	}
	return &Error{Code: CodeUnknown, Msg: "invariant violated: " + msg}
}
