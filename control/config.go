// File: control/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime configuration. Values come from defaults, an optional
// "wsreactor" config file, and WSREACTOR_* environment variables, in
// ascending precedence.

package control

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings for a reactor server.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains reactor and listener level settings.
type ServerConfig struct {
	// Addr is the TCP listen address, host:port.
	Addr string `mapstructure:"addr"`
	// MaxEvents caps the events returned by one readiness wait.
	MaxEvents int `mapstructure:"max_events"`
	// WaitTimeoutMillis bounds one readiness wait; the loop re-enters
	// immediately, so this only controls shutdown latency.
	WaitTimeoutMillis int `mapstructure:"wait_timeout_millis"`
	// ReadBufferSize is the per-read scratch buffer size in bytes.
	ReadBufferSize int `mapstructure:"read_buffer_size"`
	// MaxHeaderBytes bounds the header section of inbound HTTP requests.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
	// DirectWrite lets request workers write simple non-keep-alive
	// responses straight to the socket instead of queueing them.
	DirectWrite bool `mapstructure:"direct_write"`
	// ShutdownTimeout bounds the wait for in-flight workers at shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig controls framing limits and the upgrade path.
type WebSocketConfig struct {
	// MaxFramePayload bounds a single inbound frame's payload bytes.
	MaxFramePayload int64 `mapstructure:"max_frame_payload"`
	// SessionCookie names the cookie whose value is resolved to a
	// session during the upgrade.
	SessionCookie string `mapstructure:"session_cookie"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// LoggingConfig controls zap logger level and encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from defaults, an optional config file in the
// working directory or ./config, and the environment.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.max_events", 128)
	v.SetDefault("server.wait_timeout_millis", 100)
	v.SetDefault("server.read_buffer_size", 64<<10)
	v.SetDefault("server.max_header_bytes", 8<<10)
	v.SetDefault("server.direct_write", false)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("websocket.max_frame_payload", 1<<20)
	v.SetDefault("websocket.session_cookie", "session_id")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("wsreactor")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("WSREACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The config file is optional.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the reactor cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr must not be empty")
	}
	if c.Server.MaxEvents <= 0 {
		return fmt.Errorf("config: server.max_events must be positive, got %d", c.Server.MaxEvents)
	}
	if c.Server.WaitTimeoutMillis <= 0 {
		return fmt.Errorf("config: server.wait_timeout_millis must be positive, got %d", c.Server.WaitTimeoutMillis)
	}
	if c.Server.ReadBufferSize <= 0 {
		return fmt.Errorf("config: server.read_buffer_size must be positive, got %d", c.Server.ReadBufferSize)
	}
	if c.Server.MaxHeaderBytes <= 0 {
		return fmt.Errorf("config: server.max_header_bytes must be positive, got %d", c.Server.MaxHeaderBytes)
	}
	if c.WebSocket.MaxFramePayload <= 0 {
		return fmt.Errorf("config: websocket.max_frame_payload must be positive, got %d", c.WebSocket.MaxFramePayload)
	}
	return nil
}

// Default returns the configuration used when no file and no environment
// overrides are present. Handy for tests and examples.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              "0.0.0.0:8080",
			MaxEvents:         128,
			WaitTimeoutMillis: 100,
			ReadBufferSize:    64 << 10,
			MaxHeaderBytes:    8 << 10,
			ShutdownTimeout:   10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			MaxFramePayload: 1 << 20,
			SessionCookie:   "session_id",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
			Endpoint:   "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
