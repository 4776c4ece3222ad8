package serialcomm

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testReadTimeout = 20 * time.Millisecond

type stateRecorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *stateRecorder) record(c StateChange) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *stateRecorder) all() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateChange(nil), r.changes...)
}

// newTestSession returns a session whose dialer hands out link and counts
// dial attempts.
func newTestSession(t *testing.T, link Link) (*Session, *stateRecorder, *int) {
	t.Helper()
	rec := &stateRecorder{}
	dials := 0
	s := NewSession(&SerialConfig{
		ReadTimeout:   testReadTimeout,
		StateCallback: rec.record,
		Logger:        slog.New(slog.DiscardHandler),
		Dial: func(port string, cfg *SerialConfig) (Link, error) {
			dials++
			assert.Equal(t, DefaultBaudRate, cfg.BaudRate)
			return link, nil
		},
	})
	t.Cleanup(func() { _ = s.Disconnect() })
	return s, rec, &dials
}

func TestSession_SendBeforeConnect(t *testing.T) {
	link := newFakeLink(testReadTimeout)
	s, _, dials := newTestSession(t, link)

	for _, cmd := range []Command{TurnOffLight, SetTargetTemperature(20), PumpOn, {}} {
		err := s.Send(cmd)
		assert.ErrorIs(t, err, ErrNotConnected)
	}
	assert.Empty(t, link.Written())
	assert.Zero(t, *dials)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_ConnectSendReceive(t *testing.T) {
	link := newFakeLink(testReadTimeout)
	s, rec, _ := newTestSession(t, link)

	require.NoError(t, s.Connect("COM3"))
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, "COM3", s.Port())

	require.NoError(t, s.Send(TurnOffLight))
	assert.Equal(t, "L\n", link.Written())

	link.feed("LIGHT:OFF\n")
	assert.Eventually(t, func() bool {
		return s.Snapshot().Light == SwitchOff
	}, time.Second, 5*time.Millisecond)

	stats := s.Stats()
	assert.EqualValues(t, 2, stats.BytesSent)
	assert.EqualValues(t, len("LIGHT:OFF\n"), stats.BytesReceived)

	changes := rec.all()
	require.Len(t, changes, 2)
	assert.Equal(t, StateConnecting, changes[0].To)
	assert.Equal(t, StateConnected, changes[1].To)
}

func TestSession_ConnectTwice(t *testing.T) {
	link := newFakeLink(testReadTimeout)
	s, _, dials := newTestSession(t, link)

	require.NoError(t, s.Connect("COM3"))
	err := s.Connect("COM3")
	assert.ErrorIs(t, err, ErrAlreadyConnected)
	assert.Equal(t, 1, *dials)
	assert.Equal(t, StateConnected, s.State())
}

func TestSession_ConnectFailure(t *testing.T) {
	rec := &stateRecorder{}
	s := NewSession(&SerialConfig{
		ReadTimeout:   testReadTimeout,
		StateCallback: rec.record,
		Logger:        slog.New(slog.DiscardHandler),
		Dial: func(string, *SerialConfig) (Link, error) {
			return nil, errors.New("permission denied")
		},
	})

	err := s.Connect("/dev/ttyUSB0")
	require.ErrorIs(t, err, ErrConnectionFailed)

	var cerr *ConnectionFailedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "/dev/ttyUSB0", cerr.Port)
	assert.Equal(t, StateDisconnected, s.State())
	assert.ErrorIs(t, s.Send(TurnOffFan), ErrNotConnected)

	changes := rec.all()
	require.Len(t, changes, 2)
	assert.Equal(t, StateDisconnected, changes[1].To)
	assert.ErrorIs(t, changes[1].Err, ErrConnectionFailed)
}

func TestSession_DisconnectTwice(t *testing.T) {
	link := newFakeLink(testReadTimeout)
	s, rec, dials := newTestSession(t, link)
	require.NoError(t, s.Connect("COM3"))

	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())
	assert.True(t, link.isClosed())

	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 1, *dials)

	changes := rec.all()
	require.Len(t, changes, 4)
	assert.Equal(t, StateDisconnecting, changes[2].To)
	assert.Equal(t, StateDisconnected, changes[3].To)
	assert.NoError(t, changes[3].Err)
}

func TestSession_DisconnectWhileNeverConnected(t *testing.T) {
	s, rec, _ := newTestSession(t, newFakeLink(testReadTimeout))
	assert.NoError(t, s.Disconnect())
	assert.Empty(t, rec.all())
}

func TestSession_DisconnectStopsLoopBeforeReturning(t *testing.T) {
	link := newFakeLink(testReadTimeout)
	s, _, _ := newTestSession(t, link)
	require.NoError(t, s.Connect("COM3"))

	start := time.Now()
	require.NoError(t, s.Disconnect())
	assert.Less(t, time.Since(start), 3*testReadTimeout+50*time.Millisecond)

	// Data arriving after Disconnect never reaches the store.
	link.inbound <- []byte("TEMP:99\n")
	time.Sleep(3 * testReadTimeout)
	assert.Zero(t, s.Snapshot().Temperature)
}

func TestSession_DisconnectForcesStuckReader(t *testing.T) {
	link := slowLink{newFakeLink(testReadTimeout)}
	s, _, _ := newTestSession(t, link)
	require.NoError(t, s.Connect("COM3"))

	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())
	assert.True(t, link.isClosed())
}

func TestSession_LinkFailureDisconnects(t *testing.T) {
	link := newFakeLink(testReadTimeout)
	s, rec, _ := newTestSession(t, link)
	require.NoError(t, s.Connect("COM3"))

	link.fail(errUnplugged)

	assert.Eventually(t, func() bool {
		return s.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)
	assert.True(t, link.isClosed())
	assert.ErrorIs(t, s.LastError(), ErrLoopTerminated)
	assert.ErrorIs(t, s.LastError(), errUnplugged)
	assert.ErrorIs(t, s.Send(TurnOffLight), ErrNotConnected)

	assert.Eventually(t, func() bool { return len(rec.all()) == 3 }, time.Second, 5*time.Millisecond)
	last := rec.all()[2]
	assert.Equal(t, StateConnected, last.From)
	assert.Equal(t, StateDisconnected, last.To)
	var lerr *LoopTerminatedError
	assert.ErrorAs(t, last.Err, &lerr)

	// The session can be reused after the failure.
	assert.NoError(t, s.Disconnect())
}

func TestSession_ReconnectAfterLinkFailure(t *testing.T) {
	first := newFakeLink(testReadTimeout)
	second := newFakeLink(testReadTimeout)
	links := []*fakeLink{first, second}
	s := NewSession(&SerialConfig{
		ReadTimeout: testReadTimeout,
		Logger:      slog.New(slog.DiscardHandler),
		Dial: func(string, *SerialConfig) (Link, error) {
			l := links[0]
			links = links[1:]
			return l, nil
		},
	})
	t.Cleanup(func() { _ = s.Disconnect() })

	require.NoError(t, s.Connect("COM3"))
	first.feed("TEMP:21\n")
	assert.Eventually(t, func() bool { return s.Snapshot().Temperature == 21 }, time.Second, 5*time.Millisecond)
	first.fail(errUnplugged)
	assert.Eventually(t, func() bool { return s.State() == StateDisconnected }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Connect("COM3"))
	assert.Zero(t, s.Snapshot().Temperature)
	assert.NoError(t, s.LastError())
	require.NoError(t, s.Send(PumpOn))
	assert.Equal(t, "B\n", second.Written())
	assert.Empty(t, first.Written())
}

func TestSession_WriteFailure(t *testing.T) {
	link := newFakeLink(testReadTimeout)
	s, _, _ := newTestSession(t, link)
	require.NoError(t, s.Connect("COM3"))

	link.setWriteErr(errUnplugged)
	err := s.Send(OpenWindow)
	require.ErrorIs(t, err, ErrWriteFailed)
	require.ErrorIs(t, err, errUnplugged)

	var werr *WriteFailedError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, OpenWindow, werr.Command)

	// A failed write leaves the commanded state untouched.
	assert.Equal(t, WindowClosed, s.Commanded().Window)
}

func TestSession_InvalidCommand(t *testing.T) {
	link := newFakeLink(testReadTimeout)
	s, _, _ := newTestSession(t, link)
	require.NoError(t, s.Connect("COM3"))

	assert.ErrorIs(t, s.Send(Command{Kind: CommandKind(42)}), ErrInvalidCommandArgument)
	assert.Empty(t, link.Written())
}

func TestSession_Commanded(t *testing.T) {
	link := newFakeLink(testReadTimeout)
	s, _, _ := newTestSession(t, link)

	assert.Equal(t, Commanded{Window: WindowClosed, Pump: SwitchOff}, s.Commanded())

	require.NoError(t, s.Connect("COM3"))
	require.NoError(t, s.Send(SetTargetTemperature(24)))
	require.NoError(t, s.Send(OpenWindow))
	require.NoError(t, s.Send(PumpOn))

	assert.Equal(t, Commanded{
		TargetTemperature: 24,
		TargetSet:         true,
		Window:            WindowOpen,
		Pump:              SwitchOn,
	}, s.Commanded())
	assert.Equal(t, "T24\nO\nB\n", link.Written())
}

func TestSession_ConcurrentSendAndSnapshot(t *testing.T) {
	link := newFakeLink(testReadTimeout)
	s, _, _ := newTestSession(t, link)
	require.NoError(t, s.Connect("COM3"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, s.Send(TurnOffFan))
				_ = s.Snapshot()
			}
		}()
	}
	for i := 0; i < 10; i++ {
		link.feed("HUMIDITY:40\n")
	}
	wg.Wait()

	assert.Equal(t, 200*len("F\n"), len(link.Written()))
	assert.Eventually(t, func() bool { return s.Snapshot().Humidity == 40 }, time.Second, 5*time.Millisecond)
}

func TestSession_HungUpLinkDisconnects(t *testing.T) {
	rec := &stateRecorder{}
	s := NewSession(&SerialConfig{
		ReadTimeout:   time.Second,
		StateCallback: rec.record,
		Logger:        slog.New(slog.DiscardHandler),
		Dial: func(string, *SerialConfig) (Link, error) {
			return hungUpLink{}, nil
		},
	})
	t.Cleanup(func() { _ = s.Disconnect() })
	require.NoError(t, s.Connect("/dev/ttyUSB0"))

	assert.Eventually(t, func() bool {
		return s.State() == StateDisconnected
	}, 500*time.Millisecond, 5*time.Millisecond)
	assert.ErrorIs(t, s.LastError(), ErrLoopTerminated)
	assert.ErrorIs(t, s.LastError(), io.ErrUnexpectedEOF)
}

func TestSession_SendDuringTeardown(t *testing.T) {
	link := newFakeLink(testReadTimeout)
	s, _, _ := newTestSession(t, link)
	require.NoError(t, s.Connect("COM3"))

	// The link is being released but the session has not yet dropped the
	// connection.
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	require.NoError(t, c.close())

	assert.ErrorIs(t, s.Send(TurnOffLight), ErrNotConnected)
	assert.Empty(t, link.Written())
}
