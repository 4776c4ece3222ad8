// serialcomm/receiver.go
package serialcomm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

const readChunkSize = 256

// hangupReads is how many empty reads in a row, each returning well before
// the read timeout, mean the device is gone. A hung-up tty returns EOF
// immediately instead of waiting.
const hangupReads = 3

var errDeviceDisconnected = fmt.Errorf("device disconnected: %w", io.ErrUnexpectedEOF)

// telemetryReader turns inbound bytes into store updates. One instance serves
// one connection.
type telemetryReader struct {
	r         io.Reader
	store     *Store
	maxLength   int
	readTimeout time.Duration
	onReading   ReadingHandler
	logger    *slog.Logger

	line     bytes.Buffer
	overflow bool
	fastEOFs int

	bytesReceived   atomic.Uint64
	linesRead       atomic.Uint64
	readingsApplied atomic.Uint64
	linesDropped    atomic.Uint64
}

func newTelemetryReader(r io.Reader, store *Store, cfg *SerialConfig, logger *slog.Logger) *telemetryReader {
	return &telemetryReader{
		r:           r,
		store:       store,
		maxLength:   cfg.MaxLength,
		readTimeout: cfg.ReadTimeout,
		onReading:   cfg.ReadCallback,
		logger:      logger,
	}
}

// run reads until stop is closed or the link fails. It returns nil when
// stopped and the I/O error otherwise. A read timeout is the point where stop
// is observed.
func (t *telemetryReader) run(stop <-chan struct{}) error {
	buf := make([]byte, readChunkSize)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		start := time.Now()
		n, err := t.r.Read(buf)
		if n > 0 {
			t.fastEOFs = 0
			t.bytesReceived.Add(uint64(n))
			t.consume(buf[:n])
		}
		if err == nil {
			continue
		}
		if isReadTimeout(n, err) {
			if !t.hungUp(n, err, time.Since(start)) {
				continue
			}
			err = errDeviceDisconnected
		}

		// A close issued by Disconnect surfaces as a read error.
		select {
		case <-stop:
			return nil
		default:
		}
		return err
	}
}

// hungUp counts empty EOF reads that came back in under half the read
// timeout and reports when there have been hangupReads of them in a row.
func (t *telemetryReader) hungUp(n int, err error, elapsed time.Duration) bool {
	if n > 0 || !errors.Is(err, io.EOF) || elapsed >= t.readTimeout/2 {
		t.fastEOFs = 0
		return false
	}
	t.fastEOFs++
	return t.fastEOFs >= hangupReads
}

func (t *telemetryReader) consume(data []byte) {
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			t.appendPartial(data)
			return
		}
		t.appendPartial(data[:i])
		t.endLine()
		data = data[i+1:]
	}
}

func (t *telemetryReader) appendPartial(b []byte) {
	if t.overflow {
		return
	}
	if t.line.Len()+len(b) > t.maxLength {
		t.overflow = true
		t.line.Reset()
		return
	}
	t.line.Write(b)
}

func (t *telemetryReader) endLine() {
	defer t.line.Reset()
	if t.overflow {
		t.overflow = false
		t.linesDropped.Add(1)
		t.logger.Debug("dropped oversized telemetry line", "max_length", t.maxLength)
		return
	}

	text := strings.TrimSpace(decodeText(t.line.Bytes()))
	if text == "" {
		return
	}
	t.linesRead.Add(1)

	r, ok := DecodeLine(text)
	if !ok {
		t.linesDropped.Add(1)
		t.logger.Debug("ignored telemetry line", "line", text)
		return
	}
	t.store.Update(r)
	t.readingsApplied.Add(1)
	if t.onReading != nil {
		t.onReading(r)
	}
}
