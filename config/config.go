package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	SerialPort        string
	SerialBaud        int
	SerialReadTimeout time.Duration
	SerialMaxLine     int

	DeviceID string

	// MQTTBroker empty disables publishing.
	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string
	PublishInterval time.Duration
}

// MQTTEnabled reports whether a broker was configured.
func (c Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

// LoadDotEnv loads environment variables from path. Missing files are ignored
// and variables already set in the process win.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	serialPort := strings.TrimSpace(os.Getenv("SERIAL_PORT"))

	serialBaud, err := positiveInt("SERIAL_BAUD", "115200")
	if err != nil {
		return Config{}, err
	}

	readTimeout, err := positiveDuration("SERIAL_READ_TIMEOUT", "1s")
	if err != nil {
		return Config{}, err
	}

	maxLine, err := positiveInt("SERIAL_MAX_LINE", "4096")
	if err != nil {
		return Config{}, err
	}

	deviceID := strings.TrimSpace(os.Getenv("DEVICE_ID"))
	if deviceID == "" {
		deviceID = "greenhouse"
	}
	if strings.ContainsAny(deviceID, "/+#") {
		return Config{}, fmt.Errorf("invalid DEVICE_ID %q: must not contain '/', '+' or '#'", deviceID)
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))

	mqttPort, err := positiveInt("MQTT_PORT", "1883")
	if err != nil {
		return Config{}, err
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "climactl"
	}

	topicPrefix := strings.Trim(strings.TrimSpace(os.Getenv("MQTT_TOPIC_PREFIX")), "/")
	if topicPrefix == "" {
		topicPrefix = "devices"
	}

	publishInterval, err := positiveDuration("PUBLISH_INTERVAL", "5s")
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:            appEnv,
		LogLevel:          level,
		SerialPort:        serialPort,
		SerialBaud:        serialBaud,
		SerialReadTimeout: readTimeout,
		SerialMaxLine:     maxLine,
		DeviceID:          deviceID,
		MQTTBroker:        mqttBroker,
		MQTTPort:          mqttPort,
		MQTTClientID:      mqttClientID,
		MQTTTopicPrefix:   topicPrefix,
		PublishInterval:   publishInterval,
	}, nil
}

func positiveInt(key, def string) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		s = def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func positiveDuration(key, def string) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		s = def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
