// serialcomm/sender.go
package serialcomm

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

var errSenderClosed = errors.New("sender closed")

// commandSender is the only writer on a link.
type commandSender struct {
	mu     sync.Mutex
	w      io.Writer
	closed atomic.Bool
	sent   atomic.Uint64
}

func newCommandSender(w io.Writer) *commandSender {
	return &commandSender{w: w}
}

// Send writes one encoded frame. Frames from concurrent callers never
// interleave. A write cut short by Close reports errSenderClosed.
func (s *commandSender) Send(frame []byte) error {
	if s.closed.Load() {
		return errSenderClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return errSenderClosed
	}
	n, err := s.w.Write(frame)
	s.sent.Add(uint64(n))
	if err != nil {
		if s.closed.Load() {
			return errSenderClosed
		}
		return err
	}
	if n != len(frame) {
		return errors.New("short write")
	}
	return nil
}

// Close rejects later writes. It does not wait for one in flight; closing
// the link unblocks that.
func (s *commandSender) Close() {
	s.closed.Store(true)
}
