package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from either a duration string
// ("30s") or a bare number of milliseconds (30000), in both JSON and YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalJSON accepts "30s" or 30000 (ms).
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// UnmarshalYAML accepts "30s" or 30000 (ms).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := parseDurationOrMs(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(v) * time.Millisecond)
		return nil
	case int:
		*d = Duration(time.Duration(v) * time.Millisecond)
		return nil
	case int64:
		*d = Duration(time.Duration(v) * time.Millisecond)
		return nil
	case nil:
		*d = 0
		return nil
	default:
		return fmt.Errorf("config: invalid duration value %v", raw)
	}
}

func parseDurationOrMs(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// MQTTConfig holds the MQTT bus driver settings.
type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// RetryConfig controls the persistent outbound retry queue.
type RetryConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Dir defaults to <data-dir>/retryq when empty.
	Dir      string   `json:"dir" yaml:"dir"`
	Interval Duration `json:"interval" yaml:"interval"`
}

// BusConfig selects and configures the cross-instance transport.
type BusConfig struct {
	// Transport is one of "none", "memory", "mqtt".
	Transport string      `json:"transport" yaml:"transport"`
	Topic     string      `json:"topic" yaml:"topic"`
	Retry     RetryConfig `json:"retry" yaml:"retry"`
	MQTT      MQTTConfig  `json:"mqtt" yaml:"mqtt"`
}

// AuthorizeRule binds a channel pattern to a CEL authorization expression.
type AuthorizeRule struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Expr    string `json:"expr" yaml:"expr"`
}

// Config is the top-level configuration loaded from file/env.
type Config struct {
	HTTPAddr     string          `json:"http_addr" yaml:"http_addr"`
	PingInterval Duration        `json:"ping_interval" yaml:"ping_interval"`
	Bus          BusConfig       `json:"bus" yaml:"bus"`
	Authorize    []AuthorizeRule `json:"authorize" yaml:"authorize"`
	LogLevel     string          `json:"log_level" yaml:"log_level"`
	LogFormat    string          `json:"log_format" yaml:"log_format"`
}

// Default returns built-in defaults: HTTP on :8080, keepalive off, no bus.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Bus: BusConfig{
			Transport: "none",
			Topic:     "transmit::broadcast",
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, it returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
