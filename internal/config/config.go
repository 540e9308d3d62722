// Package config provides the configuration structure for the tts-stream-service.
package config

import (
	"errors"
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-stream-service/internal/backend"
)

// Defaults applied to fields left empty in the project file.
const (
	defaultHost             = "127.0.0.1"
	defaultPort             = 8880
	defaultSampleRate       = 24000
	defaultVoice            = "af_heart"
	defaultTimeoutSeconds   = 300
	defaultModelPath        = "models/kokoro-v1_0.pth"
	defaultWebPlayerDir     = "web"
	defaultVoicesDir        = "voices/v1_0"
	defaultMappingsFile     = "openai_mappings.json"
	defaultTempFileDir      = "api/temp_files"
	defaultMaxTempSizeMB    = 2048
	defaultMaxTempAgeHours  = 1
	defaultMaxTempCount     = 3
	defaultSynthesisSubject = "tts.synthesize.request"
	defaultAudioBucket      = "AUDIO_FILES"
	defaultNATSWorkers      = 4
	maxPort                 = 65535
)

// Validation errors.
var (
	ErrInvalidPort       = errors.New("server port must be between 1 and 65535")
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	ErrServiceURLEmpty   = errors.New("tts_service.service_url cannot be empty")
	ErrTempDirEmpty      = errors.New("temp_files.dir cannot be empty")
	ErrTempLimits        = errors.New("temp_files limits must be positive")
	ErrNATSURLEmpty      = errors.New("nats.url cannot be empty when nats is enabled")
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	WebPlayerDir     string `toml:"web_player_dir"`
	DisableWebPlayer bool   `toml:"disable_web_player"`
}

// Address returns the host:port pair the HTTP server binds to.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WebPlayerRoot returns the directory served under /web/, or "" when the web
// player is disabled.
func (s ServerConfig) WebPlayerRoot() string {
	if s.DisableWebPlayer {
		return ""
	}

	return s.WebPlayerDir
}

// TTSServiceConfig holds the settings of the inference backend.
type TTSServiceConfig struct {
	ServiceURL     string `toml:"service_url"`
	ModelPath      string `toml:"model_path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	SampleRate     int    `toml:"sample_rate"`
	DefaultVoice   string `toml:"default_voice"`
	WarmupText     string `toml:"warmup_text"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir  string `toml:"base_logs_dir"`
	VoicesDir    string `toml:"voices_dir"`
	MappingsFile string `toml:"mappings_file"`
}

// TempFilesConfig bounds the directory holding downloadable copies of generated audio.
type TempFilesConfig struct {
	Dir         string `toml:"dir"`
	MaxSizeMB   int    `toml:"max_temp_dir_size_mb"`
	MaxAgeHours int    `toml:"max_temp_dir_age_hours"`
	MaxCount    int    `toml:"max_temp_dir_count"`
}

// NATSConfig holds the configuration for the optional NATS job worker.
type NATSConfig struct {
	Enabled                bool   `toml:"enabled"`
	URL                    string `toml:"url"`
	SynthesisSubject       string `toml:"synthesis_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	Workers                int    `toml:"workers"`
}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig     `toml:"server"`
	TTS       TTSServiceConfig `toml:"tts_service"`
	Paths     PathsConfig      `toml:"paths"`
	TempFiles TempFilesConfig  `toml:"temp_files"`
	NATS      NATSConfig       `toml:"nats"`
}

// Load loads the configuration for the tts-stream-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with the service defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = defaultHost
	}

	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}

	if c.Server.WebPlayerDir == "" {
		c.Server.WebPlayerDir = defaultWebPlayerDir
	}

	if c.TTS.TimeoutSeconds == 0 {
		c.TTS.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.TTS.SampleRate == 0 {
		c.TTS.SampleRate = defaultSampleRate
	}

	if c.TTS.DefaultVoice == "" {
		c.TTS.DefaultVoice = defaultVoice
	}

	if c.TTS.ModelPath == "" {
		c.TTS.ModelPath = defaultModelPath
	}

	if c.TTS.WarmupText == "" {
		c.TTS.WarmupText = backend.DefaultWarmupText
	}

	c.applyPathDefaults()
	c.applyNATSDefaults()
}

func (c *Config) applyPathDefaults() {
	if c.Paths.VoicesDir == "" {
		c.Paths.VoicesDir = defaultVoicesDir
	}

	if c.Paths.MappingsFile == "" {
		c.Paths.MappingsFile = defaultMappingsFile
	}

	if c.TempFiles.Dir == "" {
		c.TempFiles.Dir = defaultTempFileDir
	}

	if c.TempFiles.MaxSizeMB == 0 {
		c.TempFiles.MaxSizeMB = defaultMaxTempSizeMB
	}

	if c.TempFiles.MaxAgeHours == 0 {
		c.TempFiles.MaxAgeHours = defaultMaxTempAgeHours
	}

	if c.TempFiles.MaxCount == 0 {
		c.TempFiles.MaxCount = defaultMaxTempCount
	}
}

func (c *Config) applyNATSDefaults() {
	if c.NATS.SynthesisSubject == "" {
		c.NATS.SynthesisSubject = defaultSynthesisSubject
	}

	if c.NATS.AudioObjectStoreBucket == "" {
		c.NATS.AudioObjectStoreBucket = defaultAudioBucket
	}

	if c.NATS.Workers == 0 {
		c.NATS.Workers = defaultNATSWorkers
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Server.Port)
	}

	if c.TTS.SampleRate <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleRate, c.TTS.SampleRate)
	}

	if c.TTS.ServiceURL == "" {
		return ErrServiceURLEmpty
	}

	if c.TempFiles.Dir == "" {
		return ErrTempDirEmpty
	}

	if c.TempFiles.MaxSizeMB < 0 || c.TempFiles.MaxAgeHours < 0 || c.TempFiles.MaxCount < 0 {
		return ErrTempLimits
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return ErrNATSURLEmpty
	}

	return nil
}
