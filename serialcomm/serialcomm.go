// serialcomm/serialcomm.go
package serialcomm

import (
	"io"
	"log/slog"
	"time"
)

// Link defaults for the environment controller firmware.
const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = time.Second
	DefaultMaxLength   = 4096
)

// ReadingHandler is called by the reader loop after a reading has been
// applied to the store. It runs on the loop goroutine and must not block.
type ReadingHandler func(r Reading)

// StateHandler is called on every session state transition. It must not call
// Connect or Disconnect synchronously.
type StateHandler func(c StateChange)

// Link is an open physical connection. Read must return within the configured
// read timeout; Read and Write may be called concurrently from one reader and
// one writer.
type Link interface {
	io.ReadWriteCloser
}

// Dialer opens the link to port.
type Dialer func(port string, cfg *SerialConfig) (Link, error)

type SerialConfig struct {
	BaudRate    int
	ReadTimeout time.Duration
	// MaxLength caps a single inbound line; longer lines are dropped.
	MaxLength int

	ReadCallback  ReadingHandler
	StateCallback StateHandler

	Logger *slog.Logger
	// Dial overrides how the link is opened. Nil uses the serial port.
	Dial Dialer
}

// Controller is the surface a front-end needs to drive the device.
type Controller interface {
	Connect(port string) error
	Disconnect() error
	Send(cmd Command) error
	Snapshot() Snapshot
	State() State
}

func (c *SerialConfig) withDefaults() *SerialConfig {
	out := SerialConfig{}
	if c != nil {
		out = *c
	}
	if out.BaudRate <= 0 {
		out.BaudRate = DefaultBaudRate
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = DefaultReadTimeout
	}
	if out.MaxLength <= 0 {
		out.MaxLength = DefaultMaxLength
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Dial == nil {
		out.Dial = openSerialPort
	}
	return &out
}
