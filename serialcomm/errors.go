package serialcomm

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send when no link is open.
	ErrNotConnected = errors.New("serialcomm: not connected")

	// ErrAlreadyConnected is returned by Connect when the session already
	// holds a link or is opening one.
	ErrAlreadyConnected = errors.New("serialcomm: already connected")

	// ErrInvalidCommandArgument is returned when a command cannot be built
	// from user input.
	ErrInvalidCommandArgument = errors.New("serialcomm: invalid command argument")

	ErrConnectionFailed = errors.New("serialcomm: connection failed")
	ErrWriteFailed      = errors.New("serialcomm: write failed")
	ErrLoopTerminated   = errors.New("serialcomm: reader loop terminated")
)

// ConnectionFailedError reports that the link to Port could not be opened.
type ConnectionFailedError struct {
	Port string
	Err  error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Port, e.Err)
}

func (e *ConnectionFailedError) Unwrap() error { return e.Err }

func (e *ConnectionFailedError) Is(target error) bool { return target == ErrConnectionFailed }

// WriteFailedError reports that an encoded command could not be written.
// The command is not retried.
type WriteFailedError struct {
	Command Command
	Err     error
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Command, e.Err)
}

func (e *WriteFailedError) Unwrap() error { return e.Err }

func (e *WriteFailedError) Is(target error) bool { return target == ErrWriteFailed }

// LoopTerminatedError reports that the reader loop stopped on an I/O failure
// and the session dropped to Disconnected.
type LoopTerminatedError struct {
	Err error
}

func (e *LoopTerminatedError) Error() string {
	return fmt.Sprintf("reader loop terminated: %v", e.Err)
}

func (e *LoopTerminatedError) Unwrap() error { return e.Err }

func (e *LoopTerminatedError) Is(target error) bool { return target == ErrLoopTerminated }
