package serialcomm

import (
	"fmt"
	"strconv"
	"time"
)

// CommandKind identifies one of the actuator commands understood by the device.
type CommandKind int

const (
	CmdSetTargetTemperature CommandKind = iota + 1
	CmdTurnOffLight
	CmdTurnOffFan
	CmdOpenWindow
	CmdCloseWindow
	CmdPumpOn
	CmdPumpOff
)

func (k CommandKind) String() string {
	switch k {
	case CmdSetTargetTemperature:
		return "SetTargetTemperature"
	case CmdTurnOffLight:
		return "TurnOffLight"
	case CmdTurnOffFan:
		return "TurnOffFan"
	case CmdOpenWindow:
		return "OpenWindow"
	case CmdCloseWindow:
		return "CloseWindow"
	case CmdPumpOn:
		return "PumpOn"
	case CmdPumpOff:
		return "PumpOff"
	default:
		return "CommandKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Command is a single outbound instruction. Value is only meaningful for
// CmdSetTargetTemperature.
type Command struct {
	Kind  CommandKind
	Value uint32
}

// Fixed commands.
var (
	TurnOffLight = Command{Kind: CmdTurnOffLight}
	TurnOffFan   = Command{Kind: CmdTurnOffFan}
	OpenWindow   = Command{Kind: CmdOpenWindow}
	CloseWindow  = Command{Kind: CmdCloseWindow}
	PumpOn       = Command{Kind: CmdPumpOn}
	PumpOff      = Command{Kind: CmdPumpOff}
)

// SetTargetTemperature builds the target temperature command.
func SetTargetTemperature(value uint32) Command {
	return Command{Kind: CmdSetTargetTemperature, Value: value}
}

func (c Command) String() string {
	if c.Kind == CmdSetTargetTemperature {
		return fmt.Sprintf("%s(%d)", c.Kind, c.Value)
	}
	return c.Kind.String()
}

// ReadingKind identifies which telemetry field a Reading carries.
type ReadingKind int

const (
	ReadingTemperature ReadingKind = iota + 1
	ReadingHumidity
	ReadingLight
	ReadingFan
)

func (k ReadingKind) String() string {
	switch k {
	case ReadingTemperature:
		return "temperature"
	case ReadingHumidity:
		return "humidity"
	case ReadingLight:
		return "light"
	case ReadingFan:
		return "fan"
	default:
		return "ReadingKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Reading is one parsed telemetry line. Value is set for temperature and
// humidity, On for light and fan.
type Reading struct {
	Kind  ReadingKind
	Value float64
	On    bool
}

func (r Reading) String() string {
	switch r.Kind {
	case ReadingTemperature, ReadingHumidity:
		return fmt.Sprintf("%s=%g", r.Kind, r.Value)
	default:
		return fmt.Sprintf("%s=%s", r.Kind, SwitchOf(r.On))
	}
}

// Switch is the reported state of an on/off actuator. The zero value means
// the device has not reported it yet.
type Switch int

const (
	SwitchUnknown Switch = iota
	SwitchOff
	SwitchOn
)

// SwitchOf converts a boolean reading to a Switch.
func SwitchOf(on bool) Switch {
	if on {
		return SwitchOn
	}
	return SwitchOff
}

func (s Switch) String() string {
	switch s {
	case SwitchOn:
		return "ON"
	case SwitchOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is a point-in-time copy of the device state store.
type Snapshot struct {
	Temperature float64
	Humidity    float64
	Fan         Switch
	Light       Switch

	// UpdatedAt is the time of the most recent applied reading, zero before
	// the first one.
	UpdatedAt time.Time
}

// WindowPosition is the last commanded window position.
type WindowPosition int

const (
	WindowClosed WindowPosition = iota
	WindowOpen
)

func (w WindowPosition) String() string {
	if w == WindowOpen {
		return "OPEN"
	}
	return "CLOSED"
}

// Commanded holds what the host last told the device to do. The device does
// not report window or pump state, so this is the only record of them.
type Commanded struct {
	TargetTemperature uint32
	TargetSet         bool
	Window            WindowPosition
	Pump              Switch
}

// Stats are per-connection link counters.
type Stats struct {
	BytesSent       uint64
	BytesReceived   uint64
	LinesRead       uint64
	ReadingsApplied uint64
	LinesDropped    uint64
}
