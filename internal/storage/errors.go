package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that no object exists at the requested path. It is
// deliberately distinct from ProtocolError so callers can treat a missing
// object as a normal outcome.
var ErrNotFound = errors.New("object not found")

// ProtocolError is any failure of the WebHDFS exchange itself: a missing
// redirect, a non-success status, or transport errors that survived every
// retry.
type ProtocolError struct {
	Op     string
	Path   string
	Status int
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhdfs %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("webhdfs %s %s: unexpected status %d", e.Op, e.Path, e.Status)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErr(op, path string, status int, err error) *ProtocolError {
	return &ProtocolError{Op: op, Path: path, Status: status, Err: err}
}
