package serialcomm

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"time"
)

// fakeLink is an in-memory Link. Reads block for at most timeout and then
// report io.EOF the way tarm/serial does on an idle POSIX port.
type fakeLink struct {
	timeout time.Duration

	inbound chan []byte
	readErr chan error
	closed  chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	pending   []byte
	written   bytes.Buffer
	writeErr  error
}

func newFakeLink(timeout time.Duration) *fakeLink {
	return &fakeLink{
		timeout: timeout,
		inbound: make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (f *fakeLink) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		n := copy(p, f.pending)
		f.pending = f.pending[n:]
		f.mu.Unlock()
		return n, nil
	}
	f.mu.Unlock()

	select {
	case b := <-f.inbound:
		n := copy(p, b)
		if n < len(b) {
			f.mu.Lock()
			f.pending = append(f.pending, b[n:]...)
			f.mu.Unlock()
		}
		return n, nil
	case err := <-f.readErr:
		return 0, err
	case <-f.closed:
		return 0, os.ErrClosed
	case <-time.After(f.timeout):
		return 0, io.EOF
	}
}

func (f *fakeLink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closed:
		return 0, os.ErrClosed
	default:
	}
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.written.Write(p)
}

func (f *fakeLink) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeLink) feed(s string) { f.inbound <- []byte(s) }

func (f *fakeLink) fail(err error) { f.readErr <- err }

func (f *fakeLink) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *fakeLink) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

func (f *fakeLink) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// slowLink ignores the read timeout until it is closed.
type slowLink struct {
	*fakeLink
}

func (s slowLink) Read(p []byte) (int, error) {
	<-s.closed
	return 0, os.ErrClosed
}

// hungUpLink behaves like a tty whose device went away: every read returns
// EOF at once.
type hungUpLink struct{}

func (hungUpLink) Read([]byte) (int, error)    { return 0, io.EOF }
func (hungUpLink) Write(p []byte) (int, error) { return 0, os.ErrClosed }
func (hungUpLink) Close() error                { return nil }

var errUnplugged = errors.New("input/output error")
