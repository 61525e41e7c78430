// Package config loads daemon defaults from the environment and an optional
// .env file. Command-line flags override these values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/sweeney/pir-sensor/internal/gpio"
	"github.com/sweeney/pir-sensor/internal/logic"
	"github.com/sweeney/pir-sensor/internal/logging"
	"github.com/sweeney/pir-sensor/internal/mqtt"
)

// Environment variable names.
const (
	EnvBackend       = "PIR_BACKEND"
	EnvChip          = "PIR_CHIP"
	EnvPin           = "PIR_PIN"
	EnvActiveLow     = "PIR_ACTIVE_LOW"
	EnvPoll          = "PIR_POLL"
	EnvStabilization = "PIR_STABILIZATION"
	EnvCalibration   = "PIR_CALIBRATION"
	EnvName          = "PIR_NAME"
	EnvBroker        = "PIR_BROKER"
	EnvTopicPrefix   = "PIR_TOPIC_PREFIX"
	EnvHeartbeat     = "PIR_HEARTBEAT"
	EnvHTTPAddr      = "PIR_HTTP"
	EnvLogLevel      = "PIR_LOG_LEVEL"
	EnvLogFormat     = "PIR_LOG_FORMAT"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

// Config holds daemon settings.
type Config struct {
	Backend       string
	Chip          string
	Pin           int
	ActiveLow     bool
	Poll          time.Duration
	Stabilization time.Duration
	Calibration   time.Duration
	Name          string
	Broker        string
	TopicPrefix   string
	Heartbeat     time.Duration
	HTTPAddr      string
	LogLevel      string
	LogFormat     string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Backend:       gpio.BackendCdev,
		Chip:          gpio.DefaultChip,
		Pin:           gpio.DefaultPin,
		Poll:          logic.DefaultPollInterval,
		Stabilization: logic.DefaultStabilization,
		Calibration:   logic.DefaultCalibration,
		Name:          "pir",
		Broker:        "tcp://localhost:1883",
		TopicPrefix:   mqtt.DefaultTopicPrefix,
		Heartbeat:     15 * time.Minute,
		HTTPAddr:      ":8080",
		LogLevel:      "info",
		LogFormat:     logging.FormatJSON,
	}
}

// Load reads .env (if present) and PIR_* variables over the defaults.
// Malformed values are reported rather than ignored.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	var errs []error

	cfg.Backend = getEnv(EnvBackend, cfg.Backend)
	cfg.Chip = getEnv(EnvChip, cfg.Chip)
	cfg.Name = getEnv(EnvName, cfg.Name)
	cfg.Broker = getEnv(EnvBroker, cfg.Broker)
	cfg.TopicPrefix = getEnv(EnvTopicPrefix, cfg.TopicPrefix)
	cfg.HTTPAddr = getEnv(EnvHTTPAddr, cfg.HTTPAddr)
	cfg.LogLevel = getEnv(EnvLogLevel, cfg.LogLevel)
	cfg.LogFormat = getEnv(EnvLogFormat, cfg.LogFormat)

	cfg.Pin = intEnv(EnvPin, cfg.Pin, &errs)
	cfg.ActiveLow = boolEnv(EnvActiveLow, cfg.ActiveLow, &errs)
	cfg.Poll = durationEnv(EnvPoll, cfg.Poll, &errs)
	cfg.Stabilization = durationEnv(EnvStabilization, cfg.Stabilization, &errs)
	cfg.Calibration = durationEnv(EnvCalibration, cfg.Calibration, &errs)
	cfg.Heartbeat = durationEnv(EnvHeartbeat, cfg.Heartbeat, &errs)

	return cfg, errors.Join(errs...)
}

// Validate checks that the settings can run a detector.
func (c Config) Validate() error {
	switch {
	case c.Backend != gpio.BackendCdev && c.Backend != gpio.BackendPeriph:
		return fmt.Errorf("%w: backend %q", ErrInvalid, c.Backend)
	case c.Pin < 0:
		return fmt.Errorf("%w: pin %d", ErrInvalid, c.Pin)
	case c.Poll <= 0:
		return fmt.Errorf("%w: poll interval %v", ErrInvalid, c.Poll)
	case c.Stabilization <= 0:
		return fmt.Errorf("%w: stabilization %v", ErrInvalid, c.Stabilization)
	case c.Calibration <= 0:
		return fmt.Errorf("%w: calibration %v", ErrInvalid, c.Calibration)
	case c.Heartbeat < 0:
		return fmt.Errorf("%w: heartbeat %v", ErrInvalid, c.Heartbeat)
	case c.Name == "":
		return fmt.Errorf("%w: empty sensor name", ErrInvalid)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intEnv(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func boolEnv(key string, defaultValue bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return b
}

func durationEnv(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}
