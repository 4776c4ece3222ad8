// console/main.go
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"climactl/config"
	"climactl/logging"
	"climactl/serialcomm"
)

var version = "dev"
var appName = "climactl-console"

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "climactl> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	// Log lines go through readline so they do not break the prompt.
	logger := logging.NewWithWriter(rl.Stderr(), cfg, version, appName)
	slog.SetDefault(logger)

	c := &console{
		out:         rl.Stdout(),
		defaultPort: cfg.SerialPort,
		listPorts:   serialcomm.ListPorts,
	}
	session := serialcomm.NewSession(&serialcomm.SerialConfig{
		BaudRate:      cfg.SerialBaud,
		ReadTimeout:   cfg.SerialReadTimeout,
		MaxLength:     cfg.SerialMaxLine,
		ReadCallback:  c.onReading,
		StateCallback: c.onStateChange,
		Logger:        logger,
	})
	c.ctl = session

	run(rl, c)

	if err := session.Disconnect(); err != nil {
		slog.Warn("disconnect on exit", "error", err)
	}
}

func run(rl *readline.Instance, c *console) {
	c.printHelp()
	c.cmdPorts()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if !errors.Is(err, io.EOF) {
				slog.Error("read input", "error", err)
			}
			fmt.Fprintln(rl.Stdout(), "Exiting...")
			return
		}

		if c.execute(strings.TrimSpace(line)) {
			fmt.Fprintln(rl.Stdout(), "Exiting...")
			return
		}
	}
}
