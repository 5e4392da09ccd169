// Package config loads the node configuration from the environment, after
// merging an optional .env file. Every value is validated once at startup.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	LogSQL   bool
	DeviceID string

	HTTPAddr  string
	StaticDir string

	SQLitePath     string
	DBMaxOpenConns int

	SensorDriver       string
	SensorI2CBus       string
	SensorI2CAddr      uint16
	SensorTempOffset   float64
	SensorWarmup       time.Duration
	SensorReadInterval time.Duration
	LoopPollInterval   time.Duration

	GasIndexMin      float64
	GasIndexMax      float64
	AveragingSamples int
	HistorySize      int

	UploadInterval       time.Duration
	UploadMode           string
	UploadTransport      string
	UploadConnectTimeout time.Duration
	UploadRequestTimeout time.Duration

	ThingSpeakURL       string
	ThingSpeakAPIKey    string
	ThingSpeakChannelID int64

	LinkInterface        string
	LinkAssociateCmd     string
	LinkReassociateCmd   string
	LinkSysfsRoot        string
	LinkConnectTimeout   time.Duration
	LinkPollInterval     time.Duration
	ReconnectMaxAttempts int
	ReconnectInterval    time.Duration
	ReconnectSettle      time.Duration
	StartupRequireLink   bool

	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	BLEAdapter  string
	BLEInterval time.Duration
}

// LoadFromEnv reads .env (if present) and the process environment.
func LoadFromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	e := env{getenv: getenv}
	cfg := Config{
		AppEnv:   e.oneOf("APP_ENV", "dev", "dev", "prod"),
		LogSQL:   e.boolean("LOG_SQL", false),
		DeviceID: e.str("DEVICE_ID", "airnode"),

		HTTPAddr:  e.str("HTTP_ADDR", ":8080"),
		StaticDir: e.str("STATIC_DIR", "static"),

		SQLitePath:     e.str("SQLITE_PATH", "data/airnode.db"),
		DBMaxOpenConns: e.integer("DB_MAX_OPEN_CONNS", 1),

		SensorDriver:       e.oneOf("SENSOR_DRIVER", "sen55", "sen55", "simulated"),
		SensorI2CBus:       e.str("SENSOR_I2C_BUS", ""),
		SensorI2CAddr:      e.u16("SENSOR_I2C_ADDR", "0x69"),
		SensorTempOffset:   e.float("SENSOR_TEMP_OFFSET", 0),
		SensorWarmup:       e.duration("SENSOR_WARMUP", 10*time.Second, true),
		SensorReadInterval: e.duration("SENSOR_READ_INTERVAL", time.Second, false),
		LoopPollInterval:   e.duration("LOOP_POLL_INTERVAL", 10*time.Millisecond, false),

		GasIndexMin:      e.float("GAS_INDEX_MIN", 0),
		GasIndexMax:      e.float("GAS_INDEX_MAX", 500),
		AveragingSamples: e.integer("AVERAGING_SAMPLES", 10),
		HistorySize:      e.integer("HISTORY_SIZE", 60),

		UploadInterval:       e.duration("UPLOAD_INTERVAL", 20*time.Second, false),
		UploadMode:           e.oneOf("UPLOAD_MODE", "commit", "commit", "drain"),
		UploadTransport:      e.oneOf("UPLOAD_TRANSPORT", "thingspeak", "thingspeak", "mqtt"),
		UploadConnectTimeout: e.duration("UPLOAD_CONNECT_TIMEOUT", 10*time.Second, false),
		UploadRequestTimeout: e.duration("UPLOAD_REQUEST_TIMEOUT", 10*time.Second, false),

		ThingSpeakURL:       e.str("THINGSPEAK_URL", "http://api.thingspeak.com/update"),
		ThingSpeakAPIKey:    e.str("THINGSPEAK_API_KEY", ""),
		ThingSpeakChannelID: int64(e.integer("THINGSPEAK_CHANNEL_ID", 0)),

		LinkInterface:        e.str("LINK_INTERFACE", "wlan0"),
		LinkAssociateCmd:     e.str("LINK_ASSOCIATE_CMD", ""),
		LinkReassociateCmd:   e.str("LINK_REASSOCIATE_CMD", ""),
		LinkSysfsRoot:        e.str("LINK_SYSFS_ROOT", "/sys/class/net"),
		LinkConnectTimeout:   e.duration("LINK_CONNECT_TIMEOUT", 30*time.Second, false),
		LinkPollInterval:     e.duration("LINK_POLL_INTERVAL", 500*time.Millisecond, false),
		ReconnectMaxAttempts: e.integer("RECONNECT_MAX_ATTEMPTS", 3),
		ReconnectInterval:    e.duration("RECONNECT_INTERVAL", 5*time.Second, true),
		ReconnectSettle:      e.duration("RECONNECT_SETTLE", 3*time.Second, true),
		StartupRequireLink:   e.boolean("STARTUP_REQUIRE_LINK", true),

		MQTTBroker:      e.str("MQTT_BROKER", "localhost"),
		MQTTPort:        e.integer("MQTT_PORT", 1883),
		MQTTClientID:    e.str("MQTT_CLIENT_ID", ""),
		MQTTUsername:    e.str("MQTT_USERNAME", ""),
		MQTTPassword:    e.str("MQTT_PASSWORD", ""),
		MQTTTopicPrefix: e.str("MQTT_TOPIC_PREFIX", "nodes"),

		BLEAdapter:  e.str("BLE_ADAPTER", ""),
		BLEInterval: e.duration("BLE_INTERVAL", time.Second, false),
	}

	level, err := parseLogLevel(e.str("LOG_LEVEL", "info"))
	if err != nil {
		e.errs = append(e.errs, err)
	}
	cfg.LogLevel = level

	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = "airnode-" + uuid.NewString()
	}

	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.AveragingSamples < 1 {
		return fmt.Errorf("AVERAGING_SAMPLES must be >= 1, got %d", c.AveragingSamples)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("HISTORY_SIZE must be >= 1, got %d", c.HistorySize)
	}
	if c.ReconnectMaxAttempts < 1 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be >= 1, got %d", c.ReconnectMaxAttempts)
	}
	if c.GasIndexMin > c.GasIndexMax {
		return fmt.Errorf("GAS_INDEX_MIN %v must be <= GAS_INDEX_MAX %v", c.GasIndexMin, c.GasIndexMax)
	}
	if c.MQTTPort < 1 || c.MQTTPort > 65535 {
		return fmt.Errorf("MQTT_PORT must be 1-65535, got %d", c.MQTTPort)
	}
	if c.UploadTransport == "thingspeak" && c.ThingSpeakAPIKey == "" {
		return errors.New("THINGSPEAK_API_KEY is required when UPLOAD_TRANSPORT=thingspeak")
	}
	return nil
}

// HTTPPort extracts the port of HTTPAddr, or 0.
func (c Config) HTTPPort() uint16 {
	i := strings.LastIndex(c.HTTPAddr, ":")
	if i < 0 {
		return 0
	}
	p, err := strconv.ParseUint(c.HTTPAddr[i+1:], 10, 16)
	if err != nil {
		return 0
	}
	return uint16(p)
}

type env struct {
	getenv func(string) string
	errs   []error
}

func (e *env) str(name, def string) string {
	v := strings.TrimSpace(e.getenv(name))
	if v == "" {
		return def
	}
	return v
}

func (e *env) oneOf(name, def string, allowed ...string) string {
	v := e.str(name, def)
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	e.errs = append(e.errs, fmt.Errorf("invalid %s %q (allowed: %s)", name, v, strings.Join(allowed, ", ")))
	return def
}

func (e *env) integer(name string, def int) int {
	raw := e.str(name, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s %q: %w", name, raw, err))
		return def
	}
	return n
}

func (e *env) u16(name, def string) uint16 {
	raw := e.str(name, def)
	n, err := strconv.ParseUint(raw, 0, 16)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s %q: %w", name, raw, err))
		return 0
	}
	return uint16(n)
}

func (e *env) float(name string, def float64) float64 {
	raw := e.str(name, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s %q: %w", name, raw, err))
		return def
	}
	return f
}

func (e *env) boolean(name string, def bool) bool {
	raw := e.str(name, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s %q: %w", name, raw, err))
		return def
	}
	return b
}

// duration parses a Go duration; zero is accepted only when allowZero is set.
func (e *env) duration(name string, def time.Duration, allowZero bool) time.Duration {
	raw := e.str(name, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s %q: %w", name, raw, err))
		return def
	}
	if d < 0 || (d == 0 && !allowZero) {
		e.errs = append(e.errs, fmt.Errorf("%s must be positive, got %v", name, d))
		return def
	}
	return d
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
