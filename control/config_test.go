package control_test

import (
	"strings"
	"testing"

	"github.com/momentics/wsreactor/control"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := control.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "0.0.0.0:8080" {
		t.Errorf("addr %q", cfg.Server.Addr)
	}
	if cfg.Server.MaxEvents != 128 {
		t.Errorf("max_events %d", cfg.Server.MaxEvents)
	}
	if cfg.Server.MaxHeaderBytes != 8<<10 {
		t.Errorf("max_header_bytes %d", cfg.Server.MaxHeaderBytes)
	}
	if cfg.WebSocket.MaxFramePayload != 1<<20 {
		t.Errorf("max_frame_payload %d", cfg.WebSocket.MaxFramePayload)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level %q", cfg.Logging.Level)
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("WSREACTOR_SERVER_ADDR", "127.0.0.1:9999")
	t.Setenv("WSREACTOR_LOGGING_LEVEL", "debug")
	t.Setenv("WSREACTOR_SERVER_DIRECT_WRITE", "true")

	cfg, err := control.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("addr %q", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level %q", cfg.Logging.Level)
	}
	if !cfg.Server.DirectWrite {
		t.Error("direct_write not overridden")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := control.Default()
	cfg.Server.MaxEvents = 0
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "max_events") {
		t.Errorf("expected max_events error, got %v", err)
	}

	cfg = control.Default()
	cfg.WebSocket.MaxFramePayload = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected max_frame_payload error")
	}
}

func TestNewLoggerLevels(t *testing.T) {
	if _, err := control.NewLogger(control.LoggingConfig{Level: "warn"}); err != nil {
		t.Fatal(err)
	}
	if _, err := control.NewLogger(control.LoggingConfig{Level: "noise"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestMetricsHandlerServes(t *testing.T) {
	m := control.NewMetrics()
	m.AcceptedTotal.Inc()
	if m.Handler() == nil {
		t.Fatal("nil metrics handler")
	}
	// A second instance must not panic on registration.
	_ = control.NewMetrics()
}
