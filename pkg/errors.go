package protocol

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// FormatError reports a datagram that does not decode into a frame or ack.
// The session drops the datagram and carries on.
type FormatError struct {
	Reason string
	Len    int // length of the offending datagram
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed datagram (%d bytes): %s", e.Len, e.Reason)
}

// TransportError wraps a socket failure that is not an expected read timeout.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Cause() error  { return e.Err }
func (e *TransportError) Unwrap() error { return e.Err }

// FileError wraps a failure to open, read or write the source or destination file.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return "file " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *FileError) Cause() error  { return e.Err }
func (e *FileError) Unwrap() error { return e.Err }

func formatErrorf(n int, format string, args ...interface{}) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...), Len: n}
}

func transportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

func fileError(op, path string, err error) error {
	return &FileError{Op: op, Path: path, Err: err}
}

// IsFormatError reports whether err, or anything it wraps, is a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// IsTransportError reports whether err, or anything it wraps, is a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsFileError reports whether err, or anything it wraps, is a FileError.
func IsFileError(err error) bool {
	var fe *FileError
	return errors.As(err, &fe)
}

// isTimeout separates an expired read deadline from a real socket failure.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
