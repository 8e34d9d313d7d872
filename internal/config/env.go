package config

import "os"

// FromEnv overlays TRANSMIT_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("TRANSMIT_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("TRANSMIT_PING_INTERVAL"); v != "" {
		if d, err := parseDurationOrMs(v); err == nil {
			cfg.PingInterval = Duration(d)
		}
	}
	if v := os.Getenv("TRANSMIT_BUS_TRANSPORT"); v != "" {
		cfg.Bus.Transport = v
	}
	if v := os.Getenv("TRANSMIT_BUS_TOPIC"); v != "" {
		cfg.Bus.Topic = v
	}
	if v := os.Getenv("TRANSMIT_BUS_RETRY"); v != "" {
		cfg.Bus.Retry.Enabled = v == "1" || v == "true"
	}
	if v := os.Getenv("TRANSMIT_BUS_RETRY_DIR"); v != "" {
		cfg.Bus.Retry.Dir = v
	}
	if v := os.Getenv("TRANSMIT_MQTT_BROKER"); v != "" {
		cfg.Bus.MQTT.Broker = v
	}
	if v := os.Getenv("TRANSMIT_MQTT_CLIENT_ID"); v != "" {
		cfg.Bus.MQTT.ClientID = v
	}
	if v := os.Getenv("TRANSMIT_MQTT_USERNAME"); v != "" {
		cfg.Bus.MQTT.Username = v
	}
	if v := os.Getenv("TRANSMIT_MQTT_PASSWORD"); v != "" {
		cfg.Bus.MQTT.Password = v
	}
	if v := os.Getenv("TRANSMIT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRANSMIT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}
