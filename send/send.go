package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"climactl/config"
	"climactl/logging"
	"climactl/serialcomm"
)

var version = "dev"
var appName = "climactl-send"

var (
	port = flag.String("port", "", "Serial port (default: SERIAL_PORT or the first port found)")
	cmds = flag.String("cmd", "", "Comma separated wire codes to send, e.g. T22,O,B")
	wait = flag.Duration("wait", 0, "Keep the link open this long and print the telemetry received")
)

func main() {
	flag.Parse()
	if *cmds == "" {
		flag.PrintDefaults()
		os.Exit(2)
	}

	commands, err := parseCommands(*cmds)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	name := *port
	if name == "" {
		name = cfg.SerialPort
	}
	if name == "" {
		var ok bool
		if name, ok = serialcomm.DefaultPort(serialcomm.ListPorts()); !ok {
			slog.Error("no serial ports found; pass -port")
			os.Exit(1)
		}
	}

	session := serialcomm.NewSession(&serialcomm.SerialConfig{
		BaudRate:    cfg.SerialBaud,
		ReadTimeout: cfg.SerialReadTimeout,
		MaxLength:   cfg.SerialMaxLine,
		Logger:      logger,
	})

	if err := run(session, name, commands, *wait); err != nil {
		slog.Error("send failed", "port", name, "error", err)
		os.Exit(1)
	}
}

func run(session *serialcomm.Session, port string, commands []serialcomm.Command, wait time.Duration) (err error) {
	if err := session.Connect(port); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, session.Disconnect())
	}()

	for _, cmd := range commands {
		if err := session.Send(cmd); err != nil {
			return err
		}
		slog.Info("sent", "command", cmd.String())
	}

	if wait > 0 {
		time.Sleep(wait)
		snap := session.Snapshot()
		slog.Info("telemetry",
			"temperature", snap.Temperature,
			"humidity", snap.Humidity,
			"light", snap.Light.String(),
			"fan", snap.Fan.String(),
			"updated_at", snap.UpdatedAt,
		)
	}
	return nil
}

// parseCommands parses a comma separated list of wire codes.
func parseCommands(s string) ([]serialcomm.Command, error) {
	var out []serialcomm.Command
	for _, code := range strings.Split(s, ",") {
		cmd, err := serialcomm.ParseCommand(code)
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, nil
}
