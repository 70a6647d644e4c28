package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`

	// TraceRatio samples presenter and timer traces; voice commands are
	// always traced.
	TraceRatio float64 `yaml:"trace_ratio"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName  string             `yaml:"runtime_name"`
	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Bus          BusConfig          `yaml:"bus"`
	Node         NodeConfig         `yaml:"node"`
	EventStore   EventStoreConfig   `yaml:"event_store"`
	Transactions TransactionsConfig `yaml:"transactions"`
	STT          STTConfig          `yaml:"stt"`
	TTS          TTSConfig          `yaml:"tts"`
	Haptics      HapticsConfig      `yaml:"haptics"`
	Kiosk        KioskConfig        `yaml:"kiosk"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type TransactionsConfig struct {
	Mode    string `yaml:"mode"` // local, remote
	Path    string `yaml:"path"`
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout_ms"`
}

type STTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Mode     string `yaml:"mode"` // mock, bus, exec
	Command  string `yaml:"command"`
	Language string `yaml:"language"`
	Source   string `yaml:"source"`
}

type TTSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Mode         string `yaml:"mode"` // mock, bus, exec
	Command      string `yaml:"command"`
	Voice        string `yaml:"voice"`
	SampleRate   int    `yaml:"sample_rate"`
	Channels     int    `yaml:"channels"`
	ResumePolicy string `yaml:"resume_policy"` // none, restart
	RecordDir    string `yaml:"record_dir"`
	Target       string `yaml:"target"`
}

type HapticsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"` // noop, bus, exec
	Command string `yaml:"command"`
	Target  string `yaml:"target"`
}

type KioskConfig struct {
	Language         string `yaml:"language"`
	SuccessTimeoutMS int    `yaml:"success_timeout_ms"`
	GreetingDelayMS  int    `yaml:"greeting_delay_ms"`
	MerchantID       string `yaml:"merchant_id"`
	MerchantName     string `yaml:"merchant_name"`
	MerchantCity     string `yaml:"merchant_city"`
	QueueSize        int    `yaml:"queue_size"`
}

func Default() Config {
	return Config{
		RuntimeName: "voicepay-kiosk",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
			TraceRatio:     1,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "voicepay-kiosk-1",
			HeartbeatInterval: 5000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/voicepay-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Transactions: TransactionsConfig{
			Mode:    "local",
			Path:    "./data/voicepay-transactions.db",
			BaseURL: "http://localhost:8080",
			Timeout: 5000,
		},
		STT: STTConfig{
			Enabled:  false,
			Mode:     "mock",
			Language: "id-ID",
			Source:   "kiosk",
		},
		TTS: TTSConfig{
			Enabled:      false,
			Mode:         "mock",
			Voice:        "id-ID",
			SampleRate:   22050,
			Channels:     1,
			ResumePolicy: "none",
			Target:       "kiosk",
		},
		Haptics: HapticsConfig{
			Enabled: false,
			Mode:    "noop",
			Target:  "kiosk",
		},
		Kiosk: KioskConfig{
			Language:         "id-ID",
			SuccessTimeoutMS: 3000,
			GreetingDelayMS:  500,
			MerchantID:       "SMARTPAY_001",
			MerchantName:     "VoicePay Merchant",
			MerchantCity:     "Jakarta",
			QueueSize:        64,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOICEPAY_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOICEPAY_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICEPAY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICEPAY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICEPAY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICEPAY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICEPAY_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOICEPAY_TELEMETRY_PROMETHEUS_BIND")
	overrideFloat(&cfg.Telemetry.TraceRatio, "VOICEPAY_TELEMETRY_TRACE_RATIO")
	overrideBool(&cfg.Bus.Enabled, "VOICEPAY_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOICEPAY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICEPAY_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VOICEPAY_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VOICEPAY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICEPAY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICEPAY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICEPAY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICEPAY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICEPAY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "VOICEPAY_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "VOICEPAY_NODE_HEARTBEAT_INTERVAL_MS")
	overrideString(&cfg.EventStore.Path, "VOICEPAY_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VOICEPAY_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VOICEPAY_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "VOICEPAY_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VOICEPAY_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Transactions.Mode, "VOICEPAY_TRANSACTIONS_MODE")
	overrideString(&cfg.Transactions.Path, "VOICEPAY_TRANSACTIONS_PATH")
	overrideString(&cfg.Transactions.BaseURL, "VOICEPAY_TRANSACTIONS_BASE_URL")
	overrideInt(&cfg.Transactions.Timeout, "VOICEPAY_TRANSACTIONS_TIMEOUT_MS")
	overrideBool(&cfg.STT.Enabled, "VOICEPAY_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "VOICEPAY_STT_MODE")
	overrideString(&cfg.STT.Command, "VOICEPAY_STT_COMMAND")
	overrideString(&cfg.STT.Language, "VOICEPAY_STT_LANGUAGE")
	overrideString(&cfg.STT.Source, "VOICEPAY_STT_SOURCE")
	overrideBool(&cfg.TTS.Enabled, "VOICEPAY_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "VOICEPAY_TTS_MODE")
	overrideString(&cfg.TTS.Command, "VOICEPAY_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "VOICEPAY_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "VOICEPAY_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "VOICEPAY_TTS_CHANNELS")
	overrideString(&cfg.TTS.ResumePolicy, "VOICEPAY_TTS_RESUME_POLICY")
	overrideString(&cfg.TTS.RecordDir, "VOICEPAY_TTS_RECORD_DIR")
	overrideString(&cfg.TTS.Target, "VOICEPAY_TTS_TARGET")
	overrideBool(&cfg.Haptics.Enabled, "VOICEPAY_HAPTICS_ENABLED")
	overrideString(&cfg.Haptics.Mode, "VOICEPAY_HAPTICS_MODE")
	overrideString(&cfg.Haptics.Command, "VOICEPAY_HAPTICS_COMMAND")
	overrideString(&cfg.Haptics.Target, "VOICEPAY_HAPTICS_TARGET")
	overrideString(&cfg.Kiosk.Language, "VOICEPAY_KIOSK_LANGUAGE")
	overrideInt(&cfg.Kiosk.SuccessTimeoutMS, "VOICEPAY_KIOSK_SUCCESS_TIMEOUT_MS")
	overrideInt(&cfg.Kiosk.GreetingDelayMS, "VOICEPAY_KIOSK_GREETING_DELAY_MS")
	overrideString(&cfg.Kiosk.MerchantID, "VOICEPAY_KIOSK_MERCHANT_ID")
	overrideString(&cfg.Kiosk.MerchantName, "VOICEPAY_KIOSK_MERCHANT_NAME")
	overrideString(&cfg.Kiosk.MerchantCity, "VOICEPAY_KIOSK_MERCHANT_CITY")
	overrideInt(&cfg.Kiosk.QueueSize, "VOICEPAY_KIOSK_QUEUE_SIZE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Telemetry.TraceRatio < 0 || cfg.Telemetry.TraceRatio > 1 {
		return errors.New("telemetry.trace_ratio must be between 0 and 1")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Transactions.Mode {
	case "local":
		if cfg.Transactions.Path == "" {
			return errors.New("transactions.path must be set when mode=local")
		}
	case "remote":
		if cfg.Transactions.BaseURL == "" {
			return errors.New("transactions.base_url must be set when mode=remote")
		}
	default:
		return errors.New("transactions.mode must be one of local|remote")
	}
	if cfg.STT.Enabled {
		switch cfg.STT.Mode {
		case "mock", "bus", "exec":
		default:
			return errors.New("stt.mode must be one of mock|bus|exec")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
		if cfg.STT.Mode == "bus" && !cfg.Bus.Enabled {
			return errors.New("stt.mode=bus requires bus.enabled")
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "bus", "exec":
		default:
			return errors.New("tts.mode must be one of mock|bus|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.Mode == "bus" && !cfg.Bus.Enabled {
			return errors.New("tts.mode=bus requires bus.enabled")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
	}
	switch cfg.TTS.ResumePolicy {
	case "none", "restart":
	default:
		return errors.New("tts.resume_policy must be one of none|restart")
	}
	if cfg.Haptics.Enabled {
		switch cfg.Haptics.Mode {
		case "noop", "bus", "exec":
		default:
			return errors.New("haptics.mode must be one of noop|bus|exec")
		}
		if cfg.Haptics.Mode == "exec" && cfg.Haptics.Command == "" {
			return errors.New("haptics.command must be set when mode=exec")
		}
		if cfg.Haptics.Mode == "bus" && !cfg.Bus.Enabled {
			return errors.New("haptics.mode=bus requires bus.enabled")
		}
	}
	if cfg.Kiosk.Language == "" {
		return errors.New("kiosk.language must not be empty")
	}
	if cfg.Kiosk.SuccessTimeoutMS <= 0 {
		return errors.New("kiosk.success_timeout_ms must be positive")
	}
	if cfg.Kiosk.GreetingDelayMS < 0 {
		return errors.New("kiosk.greeting_delay_ms must be >= 0")
	}
	if cfg.Kiosk.QueueSize <= 0 {
		return errors.New("kiosk.queue_size must be >= 1")
	}
	return nil
}
