package main

import (
	"context"
	"log/slog"
	"time"

	"climactl/config"
	"climactl/mqtt"
	"climactl/serialcomm"
)

type publisher interface {
	PublishTelemetry(t mqtt.Telemetry) error
	PublishStatus(s mqtt.Status) error
}

// monitor keeps one device link open, logs its telemetry and mirrors it to
// the broker.
type monitor struct {
	session  *serialcomm.Session
	pub      publisher
	logger   *slog.Logger
	deviceID string
	interval time.Duration

	changes chan serialcomm.StateChange
}

func newMonitor(cfg config.Config, logger *slog.Logger, pub publisher) *monitor {
	return newMonitorWithDialer(cfg, logger, pub, nil)
}

func newMonitorWithDialer(cfg config.Config, logger *slog.Logger, pub publisher, dial serialcomm.Dialer) *monitor {
	m := &monitor{
		pub:      pub,
		logger:   logger,
		deviceID: cfg.DeviceID,
		interval: cfg.PublishInterval,
		changes:  make(chan serialcomm.StateChange, 16),
	}
	m.session = serialcomm.NewSession(&serialcomm.SerialConfig{
		BaudRate:      cfg.SerialBaud,
		ReadTimeout:   cfg.SerialReadTimeout,
		MaxLength:     cfg.SerialMaxLine,
		ReadCallback:  m.onReading,
		StateCallback: m.onStateChange,
		Logger:        logger,
		Dial:          dial,
	})
	return m
}

func (m *monitor) onReading(r serialcomm.Reading) {
	m.logger.Debug("reading", "kind", r.Kind.String(), "value", r.String())
}

// onStateChange must not block the session.
func (m *monitor) onStateChange(c serialcomm.StateChange) {
	select {
	case m.changes <- c:
	default:
		m.logger.Warn("state change dropped", "to", c.To.String())
	}
}

// run connects to port and serves until ctx is done or the link is lost.
func (m *monitor) run(ctx context.Context, port string) error {
	if err := m.session.Connect(port); err != nil {
		m.drainChanges()
		return err
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err := m.session.Disconnect()
			m.drainChanges()
			return err

		case c := <-m.changes:
			m.publishStatus(c)
			if c.To == serialcomm.StateDisconnected && c.Err != nil {
				return c.Err
			}

		case <-ticker.C:
			m.publishSnapshot()
		}
	}
}

func (m *monitor) drainChanges() {
	for {
		select {
		case c := <-m.changes:
			m.publishStatus(c)
		default:
			return
		}
	}
}

func (m *monitor) publishSnapshot() {
	snap := m.session.Snapshot()
	stats := m.session.Stats()
	m.logger.Info("telemetry",
		"temperature", snap.Temperature,
		"humidity", snap.Humidity,
		"light", snap.Light.String(),
		"fan", snap.Fan.String(),
		"updated_at", snap.UpdatedAt,
		"lines_dropped", stats.LinesDropped,
	)
	if m.pub == nil || snap.UpdatedAt.IsZero() {
		return
	}
	t := mqtt.NewTelemetry(m.deviceID, snap, m.session.Commanded())
	if err := m.pub.PublishTelemetry(t); err != nil {
		m.logger.Debug("telemetry not published", "error", err)
	}
}

func (m *monitor) publishStatus(c serialcomm.StateChange) {
	if m.pub == nil {
		return
	}
	if err := m.pub.PublishStatus(mqtt.NewStatus(m.deviceID, c)); err != nil {
		m.logger.Debug("status not published", "error", err)
	}
}
