package serialcomm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Telemetry line prefixes sent by the device.
const (
	prefixTemperature = "TEMP:"
	prefixHumidity    = "HUMIDITY:"
	prefixLight       = "LIGHT:"
	prefixFan         = "FAN:"
)

// Encode returns the wire form of cmd: one ASCII line terminated by '\n'.
func Encode(cmd Command) ([]byte, error) {
	switch cmd.Kind {
	case CmdSetTargetTemperature:
		b := strconv.AppendUint([]byte{'T'}, uint64(cmd.Value), 10)
		return append(b, '\n'), nil
	case CmdTurnOffLight:
		return []byte("L\n"), nil
	case CmdTurnOffFan:
		return []byte("F\n"), nil
	case CmdOpenWindow:
		return []byte("O\n"), nil
	case CmdCloseWindow:
		return []byte("C\n"), nil
	case CmdPumpOn:
		return []byte("B\n"), nil
	case CmdPumpOff:
		return []byte("b\n"), nil
	default:
		return nil, fmt.Errorf("encode: unknown command kind %d", int(cmd.Kind))
	}
}

// ParseTargetTemperature validates operator input for the target temperature.
// Only decimal digits are accepted; surrounding whitespace is ignored and
// leading zeros are dropped, so "023" is sent as T23.
func ParseTargetTemperature(s string) (Command, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Command{}, fmt.Errorf("%w: empty temperature", ErrInvalidCommandArgument)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return Command{}, fmt.Errorf("%w: temperature %q is not a non-negative integer", ErrInvalidCommandArgument, s)
		}
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return Command{}, fmt.Errorf("%w: temperature %q: %v", ErrInvalidCommandArgument, s, err)
	}
	return SetTargetTemperature(uint32(v)), nil
}

// ParseCommand parses the wire code of a command, e.g. "L" or "T23".
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "L":
		return TurnOffLight, nil
	case "F":
		return TurnOffFan, nil
	case "O":
		return OpenWindow, nil
	case "C":
		return CloseWindow, nil
	case "B":
		return PumpOn, nil
	case "b":
		return PumpOff, nil
	}
	if rest, ok := strings.CutPrefix(s, "T"); ok {
		return ParseTargetTemperature(rest)
	}
	return Command{}, fmt.Errorf("%w: unknown command %q", ErrInvalidCommandArgument, s)
}

// DecodeLine parses one newline-stripped telemetry line. Lines with an
// unknown prefix or an unparseable value report false.
func DecodeLine(line string) (Reading, bool) {
	switch {
	case strings.HasPrefix(line, prefixTemperature):
		v, ok := parseValue(line[len(prefixTemperature):])
		return Reading{Kind: ReadingTemperature, Value: v}, ok
	case strings.HasPrefix(line, prefixHumidity):
		v, ok := parseValue(line[len(prefixHumidity):])
		return Reading{Kind: ReadingHumidity, Value: v}, ok
	case strings.HasPrefix(line, prefixLight):
		return Reading{Kind: ReadingLight, On: strings.Contains(line[len(prefixLight):], "ON")}, true
	case strings.HasPrefix(line, prefixFan):
		return Reading{Kind: ReadingFan, On: strings.Contains(line[len(prefixFan):], "ON")}, true
	}
	return Reading{}, false
}

// parseValue reads the field up to the next ':' as a finite decimal.
func parseValue(field string) (float64, bool) {
	field, _, _ = strings.Cut(field, ":")
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
