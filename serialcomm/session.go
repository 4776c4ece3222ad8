package serialcomm

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// StateChange describes one transition. Err is set when the transition was
// caused by a failure (ConnectionFailedError or LoopTerminatedError).
type StateChange struct {
	From State
	To   State
	Port string
	Err  error
}

// connection is everything bound to one open link.
type connection struct {
	port   string
	id     string
	link   Link
	sender *commandSender
	reader *telemetryReader
	logger *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// close rejects further writes before releasing the link, so a Send racing
// the teardown reports ErrNotConnected.
func (c *connection) close() error {
	c.closeOnce.Do(func() {
		c.sender.Close()
		c.closeErr = c.link.Close()
	})
	return c.closeErr
}

func (c *connection) stats() Stats {
	return Stats{
		BytesSent:       c.sender.sent.Load(),
		BytesReceived:   c.reader.bytesReceived.Load(),
		LinesRead:       c.reader.linesRead.Load(),
		ReadingsApplied: c.reader.readingsApplied.Load(),
		LinesDropped:    c.reader.linesDropped.Load(),
	}
}

// Session owns at most one link to the device and the reader loop bound to
// it. All methods are safe for concurrent use.
type Session struct {
	cfg   *SerialConfig
	store *Store

	// opMu serializes Connect and Disconnect.
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	conn      *connection
	last      *connection
	lastErr   error
	commanded Commanded
}

var _ Controller = (*Session)(nil)

// NewSession returns a disconnected session. cfg may be nil.
func NewSession(cfg *SerialConfig) *Session {
	return &Session{
		cfg:       cfg.withDefaults(),
		store:     NewStore(),
		commanded: defaultCommanded(),
	}
}

// Connect opens the link to port and starts the reader loop.
func (s *Session) Connect(port string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.notify(StateChange{From: StateDisconnected, To: StateConnecting, Port: port})

	link, err := s.cfg.Dial(port, s.cfg)
	if err != nil {
		cerr := &ConnectionFailedError{Port: port, Err: err}
		s.mu.Lock()
		s.state = StateDisconnected
		s.lastErr = cerr
		s.mu.Unlock()
		s.cfg.Logger.Warn("connect failed", "port", port, "error", err)
		s.notify(StateChange{From: StateConnecting, To: StateDisconnected, Port: port, Err: cerr})
		return cerr
	}

	id := uuid.NewString()
	logger := s.cfg.Logger.With("port", port, "conn_id", id)
	s.store.reset()
	c := &connection{
		port:   port,
		id:     id,
		link:   link,
		sender: newCommandSender(link),
		reader: newTelemetryReader(link, s.store, s.cfg, logger),
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.conn = c
	s.last = c
	s.state = StateConnected
	s.lastErr = nil
	s.commanded = defaultCommanded()
	s.mu.Unlock()

	logger.Info("connected", "baud", s.cfg.BaudRate, "read_timeout", s.cfg.ReadTimeout)
	s.notify(StateChange{From: StateConnecting, To: StateConnected, Port: port})
	go s.supervise(c)
	return nil
}

// supervise runs the reader loop and tears the connection down if the loop
// fails on its own.
func (s *Session) supervise(c *connection) {
	err := c.reader.run(c.stop)
	close(c.done)
	if err == nil {
		return
	}

	lerr := &LoopTerminatedError{Err: err}
	s.mu.Lock()
	if s.conn != c {
		// Disconnect already owns the teardown.
		s.mu.Unlock()
		return
	}
	_ = c.close()
	s.conn = nil
	s.state = StateDisconnected
	s.lastErr = lerr
	s.mu.Unlock()

	c.logger.Error("reader loop terminated", "error", err)
	s.notify(StateChange{From: StateConnected, To: StateDisconnected, Port: c.port, Err: lerr})
}

// Disconnect stops the reader loop, waits for it to exit and releases the
// link. Calling it while disconnected is a no-op.
func (s *Session) Disconnect() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	c := s.conn
	if s.state != StateConnected || c == nil {
		s.mu.Unlock()
		return nil
	}
	s.conn = nil
	s.state = StateDisconnecting
	s.mu.Unlock()
	s.notify(StateChange{From: StateConnected, To: StateDisconnecting, Port: c.port})

	close(c.stop)
	grace := 2 * s.cfg.ReadTimeout
	timer := time.NewTimer(grace)
	select {
	case <-c.done:
	case <-timer.C:
		c.logger.Warn("reader loop did not stop in time, closing link", "grace", grace)
		_ = c.close()
		<-c.done
	}
	timer.Stop()

	err := c.close()

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()

	c.logger.Info("disconnected")
	s.notify(StateChange{From: StateDisconnecting, To: StateDisconnected, Port: c.port})
	if err != nil {
		return fmt.Errorf("close %s: %w", c.port, err)
	}
	return nil
}

// Send encodes cmd and writes it to the link. Commands are never queued or
// retried.
func (s *Session) Send(cmd Command) error {
	s.mu.Lock()
	c := s.conn
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected || c == nil {
		return ErrNotConnected
	}

	frame, err := Encode(cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommandArgument, err)
	}

	if err := c.sender.Send(frame); err != nil {
		if errors.Is(err, errSenderClosed) {
			return ErrNotConnected
		}
		c.logger.Warn("write failed", "command", cmd.String(), "error", err)
		return &WriteFailedError{Command: cmd, Err: err}
	}
	c.logger.Debug("command sent", "command", cmd.String())

	s.mu.Lock()
	if s.conn == c {
		s.commanded = applyCommand(s.commanded, cmd)
	}
	s.mu.Unlock()
	return nil
}

func applyCommand(c Commanded, cmd Command) Commanded {
	switch cmd.Kind {
	case CmdSetTargetTemperature:
		c.TargetTemperature = cmd.Value
		c.TargetSet = true
	case CmdOpenWindow:
		c.Window = WindowOpen
	case CmdCloseWindow:
		c.Window = WindowClosed
	case CmdPumpOn:
		c.Pump = SwitchOn
	case CmdPumpOff:
		c.Pump = SwitchOff
	}
	return c
}

// Snapshot returns the latest telemetry.
func (s *Session) Snapshot() Snapshot {
	return s.store.Snapshot()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Port returns the endpoint of the open link, or "" when not connected.
func (s *Session) Port() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.port
}

// Commanded returns what was last written to the device on this connection.
// Window and pump default to closed and off.
func (s *Session) Commanded() Commanded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commanded
}

func defaultCommanded() Commanded {
	return Commanded{Window: WindowClosed, Pump: SwitchOff}
}

// Stats returns the counters of the current or most recent connection.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	c := s.last
	s.mu.Unlock()
	if c == nil {
		return Stats{}
	}
	return c.stats()
}

// LastError returns the failure behind the most recent drop to Disconnected,
// or nil.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) notify(c StateChange) {
	if s.cfg.StateCallback != nil {
		s.cfg.StateCallback(c)
	}
}
