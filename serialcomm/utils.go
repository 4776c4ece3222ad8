// serialcomm/utils.go
package serialcomm

import (
	"errors"
	"io"
	"strings"

	"github.com/tarm/serial"
	"golang.org/x/text/encoding/unicode"
)

func openSerialPort(port string, cfg *SerialConfig) (Link, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        port,
		Baud:        cfg.BaudRate,
		Parity:      serial.ParityNone,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, err
	}
	// Discard whatever the device sent before we were listening.
	_ = p.Flush()
	return p, nil
}

// decodeText turns raw line bytes into text. Invalid UTF-8 becomes U+FFFD.
func decodeText(b []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}

// isReadTimeout reports whether a read returned because the timeout elapsed
// with no data. tarm/serial reports that as io.EOF on POSIX systems.
func isReadTimeout(n int, err error) bool {
	if n == 0 && errors.Is(err, io.EOF) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
