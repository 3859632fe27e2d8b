package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MinChunkDurationMS bounds per-chunk merge overhead in the pipeline.
const MinChunkDurationMS = 100

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	TracesEnabled  bool   `yaml:"traces_enabled"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Audio       AudioConfig      `yaml:"audio"`
	Segmenter   SegmenterConfig  `yaml:"segmenter"`
	STT         STTConfig        `yaml:"stt"`
	Reconciler  ReconcilerConfig `yaml:"reconciler"`
	Session     SessionConfig    `yaml:"session"`
	Actuator    ActuatorConfig   `yaml:"actuator"`
	Hotkey      HotkeyConfig     `yaml:"hotkey"`
	Notify      NotifyConfig     `yaml:"notify"`
	Resources   ResourcesConfig  `yaml:"resources"`
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
	SubjectPrefix  string   `yaml:"subject_prefix"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
	StoreText     bool   `yaml:"store_text"`
}

type AudioConfig struct {
	Source          string `yaml:"source"` // portaudio, wav
	Device          string `yaml:"device"`
	WAVPath         string `yaml:"wav_path"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
}

type SegmenterConfig struct {
	ChunkDurationMS int     `yaml:"chunk_duration_ms"`
	VADMode         string  `yaml:"vad_mode"` // energy, webrtc
	VADThreshold    float64 `yaml:"vad_threshold"`
	VADAggressive   int     `yaml:"vad_aggressiveness"`
}

type STTConfig struct {
	Mode              string `yaml:"mode"` // mock, exec, whisper
	Command           string `yaml:"command"`
	ModelPath         string `yaml:"model_path"`
	Language          string `yaml:"language"`
	Threads           int    `yaml:"threads"`
	WindowMS          int    `yaml:"window_ms"`
	SilenceChunks     int    `yaml:"silence_chunks"`
	DecodeTimeoutMS   int    `yaml:"decode_timeout_ms"`
	FinalizeTimeoutMS int    `yaml:"finalize_timeout_ms"`
	UnloadAfterS      int    `yaml:"unload_after_s"`
}

type ReconcilerConfig struct {
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
}

type SessionConfig struct {
	MinHoldMS       int `yaml:"min_hold_ms"`
	MaxDurationS    int `yaml:"max_duration_s"`
	QueueSize       int `yaml:"queue_size"`
	ActuatorRetries int `yaml:"actuator_retries"`
}

type ActuatorConfig struct {
	Mode              string `yaml:"mode"` // auto, xdotool, wtype, exec, keybd, log
	TypeCommand       string `yaml:"type_command"`
	DeleteCommand     string `yaml:"delete_command"`
	PasteCommand      string `yaml:"paste_command"`
	CharDelayMS       int    `yaml:"char_delay_ms"`
	ClipboardFallback bool   `yaml:"clipboard_fallback"`
	TimeoutMS         int    `yaml:"timeout_ms"`
}

type HotkeyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Chord   string `yaml:"chord"`
}

// ResourcesConfig sets the process usage budgets. A zero limit disables that check.
type ResourcesConfig struct {
	Enabled             bool    `yaml:"enabled"`
	IntervalS           int     `yaml:"interval_s"`
	IdleMaxRSSMB        float64 `yaml:"idle_max_rss_mb"`
	IdleMaxCPUPercent   float64 `yaml:"idle_max_cpu_percent"`
	ActiveMaxCPUPercent float64 `yaml:"active_max_cpu_percent"`
}

type NotifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-dictate",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8089,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPInsecure:   true,
			MetricsEnabled: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "dictation",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/dictation.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   5000,
			StoreText:     true,
		},
		Audio: AudioConfig{
			Source:          "portaudio",
			SampleRate:      16000,
			Channels:        1,
			FramesPerBuffer: 320,
		},
		Segmenter: SegmenterConfig{
			ChunkDurationMS: 1000,
			VADMode:         "energy",
			VADThreshold:    0.5,
			VADAggressive:   2,
		},
		STT: STTConfig{
			Mode:              "mock",
			Language:          "auto",
			Threads:           4,
			WindowMS:          30000,
			SilenceChunks:     2,
			DecodeTimeoutMS:   15000,
			FinalizeTimeoutMS: 5000,
			UnloadAfterS:      300,
		},
		Reconciler: ReconcilerConfig{
			LowConfidenceThreshold: 0.7,
		},
		Session: SessionConfig{
			MinHoldMS:       100,
			MaxDurationS:    60,
			QueueSize:       64,
			ActuatorRetries: 1,
		},
		Actuator: ActuatorConfig{
			Mode:              "auto",
			CharDelayMS:       20,
			ClipboardFallback: true,
			TimeoutMS:         10000,
		},
		Hotkey: HotkeyConfig{
			Enabled: true,
			Chord:   "ctrl+alt+space",
		},
		Notify: NotifyConfig{
			Enabled: true,
			Title:   "Dictation",
		},
		Resources: ResourcesConfig{
			Enabled:             true,
			IntervalS:           60,
			IdleMaxRSSMB:        50,
			IdleMaxCPUPercent:   1,
			ActiveMaxCPUPercent: 20,
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
	overrideString(&cfg.RuntimeName, "DICTATE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "DICTATE_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "DICTATE_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "DICTATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "DICTATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "DICTATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "DICTATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "DICTATE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TracesEnabled, "DICTATE_TELEMETRY_TRACES_ENABLED")
	overrideBool(&cfg.Telemetry.MetricsEnabled, "DICTATE_TELEMETRY_METRICS_ENABLED")
	overrideBool(&cfg.Bus.Enabled, "DICTATE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "DICTATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "DICTATE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "DICTATE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "DICTATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "DICTATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "DICTATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "DICTATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "DICTATE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "DICTATE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "DICTATE_BUS_SUBJECT_PREFIX")
	overrideString(&cfg.EventStore.Path, "DICTATE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "DICTATE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "DICTATE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "DICTATE_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "DICTATE_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.EventStore.StoreText, "DICTATE_EVENT_STORE_STORE_TEXT")
	overrideString(&cfg.Audio.Source, "DICTATE_AUDIO_SOURCE")
	overrideString(&cfg.Audio.Device, "DICTATE_AUDIO_DEVICE")
	overrideString(&cfg.Audio.WAVPath, "DICTATE_AUDIO_WAV_PATH")
	overrideInt(&cfg.Audio.SampleRate, "DICTATE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "DICTATE_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FramesPerBuffer, "DICTATE_AUDIO_FRAMES_PER_BUFFER")
	overrideInt(&cfg.Segmenter.ChunkDurationMS, "DICTATE_SEGMENTER_CHUNK_DURATION_MS")
	overrideString(&cfg.Segmenter.VADMode, "DICTATE_SEGMENTER_VAD_MODE")
	overrideFloat(&cfg.Segmenter.VADThreshold, "DICTATE_SEGMENTER_VAD_THRESHOLD")
	overrideInt(&cfg.Segmenter.VADAggressive, "DICTATE_SEGMENTER_VAD_AGGRESSIVENESS")
	overrideString(&cfg.STT.Mode, "DICTATE_STT_MODE")
	overrideString(&cfg.STT.Command, "DICTATE_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "DICTATE_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "DICTATE_STT_LANGUAGE")
	overrideInt(&cfg.STT.Threads, "DICTATE_STT_THREADS")
	overrideInt(&cfg.STT.WindowMS, "DICTATE_STT_WINDOW_MS")
	overrideInt(&cfg.STT.SilenceChunks, "DICTATE_STT_SILENCE_CHUNKS")
	overrideInt(&cfg.STT.DecodeTimeoutMS, "DICTATE_STT_DECODE_TIMEOUT_MS")
	overrideInt(&cfg.STT.FinalizeTimeoutMS, "DICTATE_STT_FINALIZE_TIMEOUT_MS")
	overrideInt(&cfg.STT.UnloadAfterS, "DICTATE_STT_UNLOAD_AFTER_S")
	overrideFloat(&cfg.Reconciler.LowConfidenceThreshold, "DICTATE_RECONCILER_LOW_CONFIDENCE_THRESHOLD")
	overrideInt(&cfg.Session.MinHoldMS, "DICTATE_SESSION_MIN_HOLD_MS")
	overrideInt(&cfg.Session.MaxDurationS, "DICTATE_SESSION_MAX_DURATION_S")
	overrideInt(&cfg.Session.QueueSize, "DICTATE_SESSION_QUEUE_SIZE")
	overrideInt(&cfg.Session.ActuatorRetries, "DICTATE_SESSION_ACTUATOR_RETRIES")
	overrideString(&cfg.Actuator.Mode, "DICTATE_ACTUATOR_MODE")
	overrideString(&cfg.Actuator.TypeCommand, "DICTATE_ACTUATOR_TYPE_COMMAND")
	overrideString(&cfg.Actuator.DeleteCommand, "DICTATE_ACTUATOR_DELETE_COMMAND")
	overrideString(&cfg.Actuator.PasteCommand, "DICTATE_ACTUATOR_PASTE_COMMAND")
	overrideInt(&cfg.Actuator.CharDelayMS, "DICTATE_ACTUATOR_CHAR_DELAY_MS")
	overrideBool(&cfg.Actuator.ClipboardFallback, "DICTATE_ACTUATOR_CLIPBOARD_FALLBACK")
	overrideInt(&cfg.Actuator.TimeoutMS, "DICTATE_ACTUATOR_TIMEOUT_MS")
	overrideBool(&cfg.Hotkey.Enabled, "DICTATE_HOTKEY_ENABLED")
	overrideString(&cfg.Hotkey.Chord, "DICTATE_HOTKEY_CHORD")
	overrideBool(&cfg.Notify.Enabled, "DICTATE_NOTIFY_ENABLED")
	overrideString(&cfg.Notify.Title, "DICTATE_NOTIFY_TITLE")
	overrideBool(&cfg.Resources.Enabled, "DICTATE_RESOURCES_ENABLED")
	overrideInt(&cfg.Resources.IntervalS, "DICTATE_RESOURCES_INTERVAL_S")
	overrideFloat(&cfg.Resources.IdleMaxRSSMB, "DICTATE_RESOURCES_IDLE_MAX_RSS_MB")
	overrideFloat(&cfg.Resources.IdleMaxCPUPercent, "DICTATE_RESOURCES_IDLE_MAX_CPU_PERCENT")
	overrideFloat(&cfg.Resources.ActiveMaxCPUPercent, "DICTATE_RESOURCES_ACTIVE_MAX_CPU_PERCENT")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty")
		}
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Audio.Source {
	case "portaudio":
	case "wav":
		if cfg.Audio.WAVPath == "" {
			return errors.New("audio.wav_path must be set when source=wav")
		}
	default:
		return errors.New("audio.source must be one of portaudio|wav")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		return errors.New("audio.frames_per_buffer must be positive")
	}
	if cfg.Segmenter.ChunkDurationMS < MinChunkDurationMS {
		return fmt.Errorf("segmenter.chunk_duration_ms must be >= %d", MinChunkDurationMS)
	}
	switch cfg.Segmenter.VADMode {
	case "energy", "webrtc":
	default:
		return errors.New("segmenter.vad_mode must be one of energy|webrtc")
	}
	if cfg.Segmenter.VADThreshold < 0 || cfg.Segmenter.VADThreshold > 1 {
		return errors.New("segmenter.vad_threshold must be between 0.0 and 1.0")
	}
	if cfg.Segmenter.VADAggressive < 0 || cfg.Segmenter.VADAggressive > 3 {
		return errors.New("segmenter.vad_aggressiveness must be between 0 and 3")
	}
	switch cfg.STT.Mode {
	case "mock", "exec", "whisper":
	default:
		return errors.New("stt.mode must be one of mock|exec|whisper")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.Mode == "whisper" && cfg.STT.ModelPath == "" {
		return errors.New("stt.model_path must be set when mode=whisper")
	}
	if cfg.STT.WindowMS < cfg.Segmenter.ChunkDurationMS {
		return errors.New("stt.window_ms must hold at least one chunk")
	}
	if cfg.STT.SilenceChunks < 0 {
		return errors.New("stt.silence_chunks must be >= 0")
	}
	if cfg.STT.DecodeTimeoutMS <= 0 {
		return errors.New("stt.decode_timeout_ms must be positive")
	}
	if cfg.STT.FinalizeTimeoutMS <= 0 {
		return errors.New("stt.finalize_timeout_ms must be positive")
	}
	if cfg.STT.UnloadAfterS < 0 {
		return errors.New("stt.unload_after_s must be >= 0")
	}
	if cfg.Reconciler.LowConfidenceThreshold < 0 || cfg.Reconciler.LowConfidenceThreshold > 1 {
		return errors.New("reconciler.low_confidence_threshold must be between 0.0 and 1.0")
	}
	if cfg.Session.MinHoldMS < 0 {
		return errors.New("session.min_hold_ms must be >= 0")
	}
	if cfg.Session.MaxDurationS <= 0 {
		return errors.New("session.max_duration_s must be positive")
	}
	if cfg.Session.QueueSize <= 0 {
		return errors.New("session.queue_size must be >= 1")
	}
	if cfg.Session.ActuatorRetries < 0 {
		return errors.New("session.actuator_retries must be >= 0")
	}
	switch cfg.Actuator.Mode {
	case "auto", "xdotool", "wtype", "keybd", "log":
	case "exec":
		if cfg.Actuator.TypeCommand == "" || cfg.Actuator.DeleteCommand == "" {
			return errors.New("actuator.type_command and actuator.delete_command must be set when mode=exec")
		}
	default:
		return errors.New("actuator.mode must be one of auto|xdotool|wtype|exec|keybd|log")
	}
	if cfg.Resources.Enabled && cfg.Resources.IntervalS <= 0 {
		return errors.New("resources.interval_s must be positive")
	}
	if cfg.Resources.IdleMaxRSSMB < 0 || cfg.Resources.IdleMaxCPUPercent < 0 || cfg.Resources.ActiveMaxCPUPercent < 0 {
		return errors.New("resources limits must be >= 0")
	}
	if cfg.Actuator.CharDelayMS < 0 {
		return errors.New("actuator.char_delay_ms must be >= 0")
	}
	if cfg.Actuator.TimeoutMS <= 0 {
		return errors.New("actuator.timeout_ms must be positive")
	}
	if cfg.Hotkey.Enabled && strings.TrimSpace(cfg.Hotkey.Chord) == "" {
		return errors.New("hotkey.chord must not be empty when the hotkey is enabled")
	}
	return nil
}
