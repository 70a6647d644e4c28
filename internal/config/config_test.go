package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Kiosk.SuccessTimeoutMS != 3000 {
		t.Fatalf("expected 3000ms success timeout, got %d", cfg.Kiosk.SuccessTimeoutMS)
	}
	if cfg.TTS.ResumePolicy != "none" {
		t.Fatalf("expected resume policy none, got %q", cfg.TTS.ResumePolicy)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICEPAY_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOICEPAY_BUS_USERNAME", "alice")
	t.Setenv("VOICEPAY_BUS_PASSWORD", "secret")
	t.Setenv("VOICEPAY_BUS_TLS_INSECURE", "true")
	t.Setenv("VOICEPAY_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("VOICEPAY_NODE_ID", "test-kiosk")
	t.Setenv("VOICEPAY_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("VOICEPAY_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("VOICEPAY_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("VOICEPAY_TTS_RESUME_POLICY", "restart")
	t.Setenv("VOICEPAY_KIOSK_SUCCESS_TIMEOUT_MS", "1500")
	t.Setenv("VOICEPAY_KIOSK_LANGUAGE", "en-US")
	t.Setenv("VOICEPAY_TELEMETRY_TRACE_RATIO", "0.25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-kiosk" {
		t.Fatalf("expected node id override")
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.TTS.ResumePolicy != "restart" {
		t.Fatalf("expected resume policy override")
	}
	if cfg.Kiosk.SuccessTimeoutMS != 1500 {
		t.Fatalf("expected success timeout override, got %d", cfg.Kiosk.SuccessTimeoutMS)
	}
	if cfg.Kiosk.Language != "en-US" {
		t.Fatalf("expected language override, got %q", cfg.Kiosk.Language)
	}
	if cfg.Telemetry.TraceRatio != 0.25 {
		t.Fatalf("expected trace ratio override, got %v", cfg.Telemetry.TraceRatio)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicepay.yaml")
	body := `runtime_name: lobby-kiosk
stt:
  enabled: true
  mode: exec
  command: "recognizer --lang id"
tts:
  enabled: true
  mode: mock
haptics:
  enabled: true
  mode: noop
kiosk:
  success_timeout_ms: 2500
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "lobby-kiosk" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.STT.Command != "recognizer --lang id" {
		t.Fatalf("unexpected stt command %q", cfg.STT.Command)
	}
	if cfg.Kiosk.SuccessTimeoutMS != 2500 {
		t.Fatalf("expected success timeout 2500, got %d", cfg.Kiosk.SuccessTimeoutMS)
	}
	if cfg.Kiosk.GreetingDelayMS != 500 {
		t.Fatalf("expected default greeting delay to survive, got %d", cfg.Kiosk.GreetingDelayMS)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"exec stt without command", func(c *Config) { c.STT.Enabled = true; c.STT.Mode = "exec" }},
		{"unknown tts mode", func(c *Config) { c.TTS.Enabled = true; c.TTS.Mode = "webspeech" }},
		{"bad resume policy", func(c *Config) { c.TTS.ResumePolicy = "resume" }},
		{"bus haptics without bus", func(c *Config) {
			c.Bus.Enabled = false
			c.Haptics.Enabled = true
			c.Haptics.Mode = "bus"
		}},
		{"trace ratio above one", func(c *Config) { c.Telemetry.TraceRatio = 1.5 }},
		{"zero success timeout", func(c *Config) { c.Kiosk.SuccessTimeoutMS = 0 }},
		{"remote transactions without url", func(c *Config) {
			c.Transactions.Mode = "remote"
			c.Transactions.BaseURL = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
