package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"climactl/config"
	"climactl/serialcomm"
)

const publishTimeout = 5 * time.Second

type Client struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Telemetry is the JSON body published on the telemetry topic. Switch
// fields carry "ON", "OFF" or "UNKNOWN".
type Telemetry struct {
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"timestamp"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
	Temperature float64   `json:"temperature_c"`
	Humidity    float64   `json:"humidity_pct"`
	Light       string    `json:"light"`
	Fan         string    `json:"fan"`

	TargetTemperature *uint32 `json:"target_temperature_c,omitempty"`
	Window            string  `json:"window"`
	Pump              string  `json:"pump"`
}

// Status is the retained link status of a device.
type Status struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state"`
	Port      string    `json:"port,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewTelemetry builds the telemetry body from the device snapshot and the
// commands last written to it.
func NewTelemetry(deviceID string, snap serialcomm.Snapshot, cmd serialcomm.Commanded) Telemetry {
	t := Telemetry{
		DeviceID:    deviceID,
		UpdatedAt:   snap.UpdatedAt,
		Temperature: snap.Temperature,
		Humidity:    snap.Humidity,
		Light:       snap.Light.String(),
		Fan:         snap.Fan.String(),
		Window:      cmd.Window.String(),
		Pump:        cmd.Pump.String(),
	}
	if cmd.TargetSet {
		target := cmd.TargetTemperature
		t.TargetTemperature = &target
	}
	return t
}

// NewStatus builds the status body for a session transition.
func NewStatus(deviceID string, change serialcomm.StateChange) Status {
	s := Status{
		DeviceID: deviceID,
		State:    change.To.String(),
		Port:     change.Port,
	}
	if change.Err != nil {
		s.Error = change.Err.Error()
	}
	return s
}

// TelemetryTopic returns "<prefix>/<device>/telemetry".
func TelemetryTopic(prefix, deviceID string) string {
	return fmt.Sprintf("%s/%s/telemetry", prefix, deviceID)
}

// StatusTopic returns "<prefix>/<device>/status".
func StatusTopic(prefix, deviceID string) string {
	return fmt.Sprintf("%s/%s/status", prefix, deviceID)
}

func NewClient(cfg config.Config, logger *slog.Logger) (*Client, error) {
	if !cfg.MQTTEnabled() {
		return nil, fmt.Errorf("mqtt broker not configured")
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	// Session settings
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// The broker marks the device offline if this process dies.
	will, err := json.Marshal(Status{DeviceID: cfg.DeviceID, State: "offline"})
	if err != nil {
		return nil, fmt.Errorf("marshal will: %w", err)
	}
	opts.SetBinaryWill(StatusTopic(cfg.MQTTTopicPrefix, cfg.DeviceID), will, 1, true)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect establishes connection to the MQTT broker.
// It waits for the initial connection, and respects ctx and Disconnect().
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}

	if c.IsConnected() {
		return nil
	}

	// With ConnectRetry(true) the token may keep retrying internally.
	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

// PublishTelemetry publishes a telemetry body to the device topic.
func (c *Client) PublishTelemetry(telemetry Telemetry) error {
	if telemetry.DeviceID == "" {
		telemetry.DeviceID = c.cfg.DeviceID
	}
	if telemetry.Timestamp.IsZero() {
		telemetry.Timestamp = time.Now()
	}
	topic := TelemetryTopic(c.cfg.MQTTTopicPrefix, telemetry.DeviceID)
	if err := c.publish(topic, false, telemetry); err != nil {
		return fmt.Errorf("publish telemetry: %w", err)
	}
	c.logger.Debug("published telemetry", "topic", topic)
	return nil
}

// PublishStatus publishes the retained link status.
func (c *Client) PublishStatus(status Status) error {
	if status.DeviceID == "" {
		status.DeviceID = c.cfg.DeviceID
	}
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	topic := StatusTopic(c.cfg.MQTTTopicPrefix, status.DeviceID)
	if err := c.publish(topic, true, status); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	c.logger.Debug("published status", "topic", topic, "state", status.State)
	return nil
}

func (c *Client) publish(topic string, retained bool, v any) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	token := c.client.Publish(topic, 1, retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		c.logger.Error("mqtt publish failed", "topic", topic, "error", err)
		return err
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the MQTT connection. It is
// idempotent; after it, Connect returns "client stopped".
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	// Paho quiesces in-flight work for the given ms.
	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
