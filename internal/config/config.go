package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RequiredSampleRate is the only sample rate the recogniser accepts
const RequiredSampleRate = 16000

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	Decoder     DecoderConfig     `yaml:"decoder"`
	Punctuation PunctuationConfig `yaml:"punctuation"`
	Worker      WorkerConfig      `yaml:"worker"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains HTTP and WebSocket server configuration
type ServerConfig struct {
	Address      string `yaml:"address"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// AudioConfig contains windowing parameters
type AudioConfig struct {
	SampleRate        int     `yaml:"sample_rate"`
	WindowSeconds     float64 `yaml:"window_seconds"`
	OverlapSeconds    float64 `yaml:"overlap_seconds"`
	DecodeParallelism int     `yaml:"decode_parallelism"`
}

// DecoderConfig contains recogniser API configuration
type DecoderConfig struct {
	Provider      string `yaml:"provider"` // http or openai
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// PunctuationConfig contains punctuation model configuration
type PunctuationConfig struct {
	Provider   string `yaml:"provider"` // none, http or openai
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// WorkerConfig contains job queue configuration
type WorkerConfig struct {
	QueueSize      int `yaml:"queue_size"`
	ArchiveTimeout int `yaml:"archive_timeout"` // seconds
	ArchiveBacklog int `yaml:"archive_backlog"`
}

// DiscoveryConfig contains mDNS advertisement configuration
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

// ArchiveConfig contains transcript archive configuration
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills in settings left at their zero value
func (c *Config) ApplyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 60
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 600
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 256 << 20
	}

	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = RequiredSampleRate
	}
	// An explicit window with zero overlap is kept as is
	if c.Audio.WindowSeconds == 0 {
		c.Audio.WindowSeconds = 15
		if c.Audio.OverlapSeconds == 0 {
			c.Audio.OverlapSeconds = 2
		}
	}
	if c.Audio.DecodeParallelism == 0 {
		c.Audio.DecodeParallelism = 1
	}

	if c.Decoder.Provider == "" {
		c.Decoder.Provider = "http"
	}
	if c.Decoder.Timeout == 0 {
		c.Decoder.Timeout = 30
	}
	if c.Decoder.MaxConcurrent == 0 {
		c.Decoder.MaxConcurrent = c.Audio.DecodeParallelism
	}

	if c.Punctuation.Provider == "" {
		c.Punctuation.Provider = "none"
	}
	if c.Punctuation.Timeout == 0 {
		c.Punctuation.Timeout = 30
	}

	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = 1
	}
	if c.Worker.ArchiveTimeout == 0 {
		c.Worker.ArchiveTimeout = 10
	}
	if c.Worker.ArchiveBacklog == 0 {
		c.Worker.ArchiveBacklog = 64
	}

	if c.Discovery.Service == "" {
		c.Discovery.Service = "_subwriter._tcp"
	}
	if c.Discovery.Domain == "" {
		c.Discovery.Domain = "local."
	}

	if c.Archive.MaxConns == 0 {
		c.Archive.MaxConns = 4
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Decoder.Validate(); err != nil {
		return fmt.Errorf("decoder config: %w", err)
	}

	if err := c.Punctuation.Validate(); err != nil {
		return fmt.Errorf("punctuation config: %w", err)
	}

	if err := c.Worker.Validate(); err != nil {
		return fmt.Errorf("worker config: %w", err)
	}

	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", s.ReadTimeout)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	if s.MaxBodyBytes < 1024 {
		return fmt.Errorf("max_body_bytes must be at least 1024 bytes, got %d", s.MaxBodyBytes)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != RequiredSampleRate {
		return fmt.Errorf("sample_rate must be %d Hz, got %d", RequiredSampleRate, a.SampleRate)
	}

	if a.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive, got %f", a.WindowSeconds)
	}

	if a.OverlapSeconds < 0 || a.OverlapSeconds >= a.WindowSeconds {
		return fmt.Errorf("overlap_seconds (%f) must be non-negative and less than window_seconds (%f)",
			a.OverlapSeconds, a.WindowSeconds)
	}

	if a.DecodeParallelism < 1 {
		return fmt.Errorf("decode_parallelism must be at least 1, got %d", a.DecodeParallelism)
	}

	return nil
}

// Validate validates decoder configuration
func (d *DecoderConfig) Validate() error {
	switch d.Provider {
	case "http":
		if d.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http provider")
		}
	case "openai":
		if d.Model == "" {
			return fmt.Errorf("model cannot be empty for the openai provider")
		}
	default:
		return fmt.Errorf("provider must be 'http' or 'openai', got '%s'", d.Provider)
	}

	if d.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", d.Timeout)
	}

	if d.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", d.MaxRetries)
	}

	if d.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", d.MaxConcurrent)
	}

	return nil
}

// Validate validates punctuation configuration
func (p *PunctuationConfig) Validate() error {
	switch p.Provider {
	case "none":
		return nil
	case "http":
		if p.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http provider")
		}
	case "openai":
		if p.Model == "" {
			return fmt.Errorf("model cannot be empty for the openai provider")
		}
	default:
		return fmt.Errorf("provider must be 'none', 'http' or 'openai', got '%s'", p.Provider)
	}

	if p.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", p.Timeout)
	}

	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", p.MaxRetries)
	}

	return nil
}

// Validate validates worker configuration
func (w *WorkerConfig) Validate() error {
	if w.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", w.QueueSize)
	}

	if w.ArchiveTimeout < 1 {
		return fmt.Errorf("archive_timeout must be at least 1 second, got %d", w.ArchiveTimeout)
	}

	if w.ArchiveBacklog < 1 {
		return fmt.Errorf("archive_backlog must be at least 1, got %d", w.ArchiveBacklog)
	}

	return nil
}

// Validate validates archive configuration
func (a *ArchiveConfig) Validate() error {
	if !a.Enabled {
		return nil
	}

	if a.DSN == "" {
		return fmt.Errorf("dsn cannot be empty when the archive is enabled")
	}

	if a.MaxConns < 1 {
		return fmt.Errorf("max_conns must be at least 1, got %d", a.MaxConns)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout or stderr is treated as a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetReadTimeoutDuration returns the read timeout as a time.Duration
func (s *ServerConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetTimeoutDuration returns the decoder timeout as a time.Duration
func (d *DecoderConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// GetTimeoutDuration returns the punctuation timeout as a time.Duration
func (p *PunctuationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// GetArchiveTimeoutDuration returns the archive write timeout as a time.Duration
func (w *WorkerConfig) GetArchiveTimeoutDuration() time.Duration {
	return time.Duration(w.ArchiveTimeout) * time.Second
}
