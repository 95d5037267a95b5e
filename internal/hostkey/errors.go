package hostkey

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches exactly one of
// them with errors.Is.
var (
	// ErrIO is a file read, write or directory creation failure.
	ErrIO = errors.New("io operation failed")
	// ErrUnspecified is a failure inside a cryptographic primitive while
	// generating a key or signing.
	ErrUnspecified = errors.New("crypto operation failed")
	// ErrKeyRejected means decoded bytes do not form a valid key for the
	// claimed algorithm.
	ErrKeyRejected = errors.New("crypto keys were rejected")
	// ErrPEMDecode means a key file is not a well formed PEM block with the
	// expected type.
	ErrPEMDecode = errors.New("failed to decode pem key")
)

// Error describes a failed host key operation.
type Error struct {
	Kind      error     // one of ErrIO, ErrUnspecified, ErrKeyRejected, ErrPEMDecode
	Op        string    // "generate", "decode", "sign", "load", ...
	Algorithm Algorithm // zero if not tied to one algorithm
	Path      string    // key file or directory, if any
	Err       error     // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Algorithm.Valid() {
		msg += " " + e.Algorithm.Name()
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, alg Algorithm, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Algorithm: alg, Path: path, Err: err}
}

func errorf(kind error, op string, alg Algorithm, format string, args ...any) *Error {
	return newError(kind, op, alg, "", fmt.Errorf(format, args...))
}
