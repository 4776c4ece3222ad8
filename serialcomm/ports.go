package serialcomm

import (
	"log/slog"

	gxserial "github.com/Gurux/gxserial-go"
)

// getPortNames is replaced in tests.
var getPortNames = gxserial.GetPortNames

// ListPorts returns the serial endpoints currently present. It never fails:
// an enumeration error is logged and yields an empty list. Call it again to
// pick up hot-plugged devices.
func ListPorts() []string {
	names, err := getPortNames()
	if err != nil {
		slog.Warn("list serial ports", "error", err)
		return []string{}
	}
	ports := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		ports = append(ports, n)
	}
	return ports
}

// DefaultPort returns the endpoint a selector should preselect.
func DefaultPort(ports []string) (string, bool) {
	if len(ports) == 0 {
		return "", false
	}
	return ports[0], true
}
