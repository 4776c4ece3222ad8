package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"climactl/config"
	"climactl/logging"
	"climactl/mqtt"
	"climactl/serialcomm"
)

var version = "dev"
var appName = "climactl-receive"

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

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	port := cfg.SerialPort
	if port == "" {
		var ok bool
		if port, ok = serialcomm.DefaultPort(serialcomm.ListPorts()); !ok {
			return errors.New("no serial ports found; set SERIAL_PORT")
		}
	}

	var pub publisher
	if cfg.MQTTEnabled() {
		slog.Info("initializing mqtt",
			"mqtt_broker", cfg.MQTTBroker,
			"mqtt_port", cfg.MQTTPort,
			"mqtt_client_id", cfg.MQTTClientID,
		)
		client, err := mqtt.NewClient(cfg, logger)
		if err != nil {
			return err
		}
		defer client.Disconnect()
		go func() {
			// Publishing starts once the broker is reachable; until then
			// snapshots are only logged.
			if err := client.Connect(ctx); err != nil {
				slog.Error("mqtt connect failed", "error", err)
			}
		}()
		pub = client
	}

	m := newMonitor(cfg, logger, pub)
	return m.run(ctx, port)
}
