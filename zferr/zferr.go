// Package zferr defines the engine's error taxonomy. Packages fsstore,
// fs and snapshot report the failures they classify as an *Error so
// that callers (FUSE/NFS/9P/NBD adapters, the admin RPC surface) can
// map a single closed set of codes onto their own wire-level
// errno/status. Lower layers (kvstore, encryption, objstore, gc) return
// plain wrapped errors, which CodeOf reports as Unknown.
package zferr

import (
	"errors"
	"fmt"
)

// Code is the closed taxonomy of failure classes an operation may
// report. Callers switch on Code, never on error string contents.
type Code int

const (
	// Unknown is never returned by this package; it is the zero value
	// guarding against an unwrapped plain error being mistaken for a
	// classified one.
	Unknown Code = iota
	NotFound
	Exists
	NotDir
	IsDir
	NotEmpty
	PermissionDenied
	InvalidArgument
	InvalidData
	IoError
	ReadOnlyFilesystem
	NameTooLong
	QuotaExceeded
)

func (c Code) String() string {
	switch c {
	case NotFound:
		return "not_found"
	case Exists:
		return "exists"
	case NotDir:
		return "not_dir"
	case IsDir:
		return "is_dir"
	case NotEmpty:
		return "not_empty"
	case PermissionDenied:
		return "permission_denied"
	case InvalidArgument:
		return "invalid_argument"
	case InvalidData:
		return "invalid_data"
	case IoError:
		return "io_error"
	case ReadOnlyFilesystem:
		return "read_only_filesystem"
	case NameTooLong:
		return "name_too_long"
	case QuotaExceeded:
		return "quota_exceeded"
	default:
		return "unknown"
	}
}

// Error is the concrete error type this module returns. Op names the
// failing operation (e.g. "fs.MkDir", "kvstore.Get") for logging.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with no wrapped cause.
func New(code Code, op string) error {
	return &Error{Code: code, Op: op}
}

// Wrap classifies an underlying error under op/code.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the Code from err, or Unknown if err is not (or does
// not wrap) an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// Is reports whether err is classified as code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Invariant panics with a structural-corruption message. Callers use
// this only for violations that indicate on-disk data corruption or a
// programming bug, never for ordinary user-facing failures.
func Invariant(format string, args ...any) {
	panic(fmt.Sprintf("zerofs: invariant violated: "+format, args...))
}
