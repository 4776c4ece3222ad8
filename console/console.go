package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync/atomic"

	"climactl/serialcomm"
)

// controller is what the console drives. *serialcomm.Session satisfies it.
type controller interface {
	serialcomm.Controller
	Port() string
	Commanded() serialcomm.Commanded
	Stats() serialcomm.Stats
	LastError() error
}

type console struct {
	ctl         controller
	out         io.Writer
	defaultPort string
	listPorts   func() []string

	watch atomic.Bool
}

// onReading prints readings while watch mode is on.
func (c *console) onReading(r serialcomm.Reading) {
	if c.watch.Load() {
		fmt.Fprintf(c.out, "  < %s\n", r)
	}
}

// onStateChange reports link transitions. It runs on the session's goroutines
// and only prints.
func (c *console) onStateChange(ch serialcomm.StateChange) {
	switch {
	case ch.Err != nil && errors.Is(ch.Err, serialcomm.ErrLoopTerminated):
		fmt.Fprintf(c.out, "!! link to %s lost: %v\n", ch.Port, errors.Unwrap(ch.Err))
	case ch.To == serialcomm.StateConnected:
		fmt.Fprintf(c.out, "connected to %s\n", ch.Port)
	case ch.To == serialcomm.StateDisconnected && ch.From == serialcomm.StateDisconnecting:
		fmt.Fprintf(c.out, "disconnected from %s\n", ch.Port)
	}
}

// execute runs one input line and reports whether the console should exit.
func (c *console) execute(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "ports", "p":
		c.cmdPorts()

	case "connect", "c":
		c.cmdConnect(args)

	case "disconnect", "d":
		c.report(c.ctl.Disconnect())

	case "status", "s":
		c.cmdStatus()

	case "temp", "t":
		c.cmdTemp(args)

	case "light":
		c.cmdSwitch(args, map[string]serialcomm.Command{"off": serialcomm.TurnOffLight})

	case "fan":
		c.cmdSwitch(args, map[string]serialcomm.Command{"off": serialcomm.TurnOffFan})

	case "window", "w":
		c.cmdSwitch(args, map[string]serialcomm.Command{
			"open":  serialcomm.OpenWindow,
			"close": serialcomm.CloseWindow,
		})

	case "pump":
		c.cmdSwitch(args, map[string]serialcomm.Command{
			"on":  serialcomm.PumpOn,
			"off": serialcomm.PumpOff,
		})

	case "raw":
		c.cmdRaw(args)

	case "watch":
		if c.watch.Load() {
			c.watch.Store(false)
			fmt.Fprintln(c.out, "watch off")
		} else {
			c.watch.Store(true)
			fmt.Fprintln(c.out, "watch on")
		}

	case "stats":
		c.cmdStats()

	case "quit", "exit", "q":
		return true

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `
Climate controller commands:
  Link:
    ports              - List serial ports
    connect [port]     - Open the link (default: SERIAL_PORT or first port)
    disconnect         - Close the link
    status             - Show telemetry and commanded state
    stats              - Show link counters
    watch              - Toggle printing of incoming readings

  Device:
    temp <n>           - Set target temperature (whole degrees)
    light off          - Turn the light off
    fan off            - Turn the fan off
    window open|close  - Open or close the window
    pump on|off        - Switch the pump
    raw <code>         - Send a wire code (L, F, O, C, B, b, T<n>)

  help                 - Show this help
  quit                 - Exit`)
}

func (c *console) cmdPorts() {
	ports := c.listPorts()
	if len(ports) == 0 {
		fmt.Fprintln(c.out, "no serial ports found")
		return
	}
	def, _ := serialcomm.DefaultPort(ports)
	for _, p := range ports {
		marker := "  "
		if p == def {
			marker = "* "
		}
		fmt.Fprintf(c.out, "%s%s\n", marker, p)
	}
}

func (c *console) cmdConnect(args []string) {
	port := c.defaultPort
	if len(args) > 0 {
		port = args[0]
	}
	if port == "" {
		var ok bool
		port, ok = serialcomm.DefaultPort(c.listPorts())
		if !ok {
			fmt.Fprintln(c.out, "no serial ports found; pass one explicitly: connect <port>")
			return
		}
	}
	c.report(c.ctl.Connect(port))
}

func (c *console) cmdStatus() {
	state := c.ctl.State()
	if port := c.ctl.Port(); port != "" {
		fmt.Fprintf(c.out, "Link:        %s (%s)\n", state, port)
	} else {
		fmt.Fprintf(c.out, "Link:        %s\n", state)
	}
	if err := c.ctl.LastError(); err != nil && state == serialcomm.StateDisconnected {
		fmt.Fprintf(c.out, "Last error:  %v\n", err)
	}

	snap := c.ctl.Snapshot()
	cmd := c.ctl.Commanded()
	fmt.Fprintf(c.out, "Temperature: %g °C\n", snap.Temperature)
	fmt.Fprintf(c.out, "Humidity:    %g %%\n", snap.Humidity)
	fmt.Fprintf(c.out, "Fan:         %s\n", snap.Fan)
	fmt.Fprintf(c.out, "Light:       %s\n", snap.Light)
	fmt.Fprintf(c.out, "Window:      %s\n", cmd.Window)
	fmt.Fprintf(c.out, "Pump:        %s\n", cmd.Pump)
	if cmd.TargetSet {
		fmt.Fprintf(c.out, "Target:      %d °C\n", cmd.TargetTemperature)
	}
	if !snap.UpdatedAt.IsZero() {
		fmt.Fprintf(c.out, "Updated:     %s\n", snap.UpdatedAt.Format("15:04:05"))
	}
}

func (c *console) cmdTemp(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "usage: temp <n>")
		return
	}
	cmd, err := serialcomm.ParseTargetTemperature(args[0])
	if err != nil {
		c.report(err)
		return
	}
	c.send(cmd)
}

func (c *console) cmdSwitch(args []string, choices map[string]serialcomm.Command) {
	if len(args) == 1 {
		if cmd, ok := choices[strings.ToLower(args[0])]; ok {
			c.send(cmd)
			return
		}
	}
	opts := make([]string, 0, len(choices))
	for k := range choices {
		opts = append(opts, k)
	}
	slices.Sort(opts)
	fmt.Fprintf(c.out, "expected one of: %s\n", strings.Join(opts, ", "))
}

func (c *console) cmdRaw(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "usage: raw <code>")
		return
	}
	cmd, err := serialcomm.ParseCommand(args[0])
	if err != nil {
		c.report(err)
		return
	}
	c.send(cmd)
}

func (c *console) cmdStats() {
	st := c.ctl.Stats()
	fmt.Fprintf(c.out, "Bytes sent:       %d\n", st.BytesSent)
	fmt.Fprintf(c.out, "Bytes received:   %d\n", st.BytesReceived)
	fmt.Fprintf(c.out, "Lines read:       %d\n", st.LinesRead)
	fmt.Fprintf(c.out, "Readings applied: %d\n", st.ReadingsApplied)
	fmt.Fprintf(c.out, "Lines dropped:    %d\n", st.LinesDropped)
}

func (c *console) send(cmd serialcomm.Command) {
	if err := c.ctl.Send(cmd); err != nil {
		c.report(err)
		return
	}
	fmt.Fprintf(c.out, "sent %s\n", cmd)
}

func (c *console) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, serialcomm.ErrNotConnected):
		fmt.Fprintln(c.out, "not connected (use 'connect')")
	case errors.Is(err, serialcomm.ErrAlreadyConnected):
		fmt.Fprintln(c.out, "already connected (use 'disconnect' first)")
	default:
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
}
