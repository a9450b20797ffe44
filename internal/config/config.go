package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EndpointEnv overrides transcription.endpoint when set.
const EndpointEnv = "CAPTION_ENDPOINT"

// Config represents the complete client configuration
type Config struct {
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Captions      CaptionsConfig      `yaml:"captions"`
	Source        SourceConfig        `yaml:"source"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// PipelineConfig contains scheduling and buffering parameters
type PipelineConfig struct {
	Mode           string `yaml:"mode"` // live or vod
	TickPeriodMs   int    `yaml:"tick_period_ms"`
	SettleDelayMs  int    `yaml:"settle_delay_ms"`
	RequestTimeout int    `yaml:"request_timeout"` // seconds, 0 disables
	MaxQueued      int    `yaml:"max_queued"`      // 0 means unbounded
	OverflowPolicy string `yaml:"overflow_policy"`
}

// TranscriptionConfig contains transcription backend configuration
type TranscriptionConfig struct {
	Endpoint           string            `yaml:"endpoint"`
	Headers            map[string]string `yaml:"headers"`
	Encoding           string            `yaml:"encoding"` // concat or wav
	SampleRate         int               `yaml:"sample_rate"`
	Channels           int               `yaml:"channels"`
	BitsPerSample      int               `yaml:"bits_per_sample"`
	WriteTimeout       int               `yaml:"write_timeout"` // seconds
	ReconnectInitialMs int               `yaml:"reconnect_initial_ms"`
	ReconnectMaxMs     int               `yaml:"reconnect_max_ms"`
	BreakerFailures    int               `yaml:"breaker_failures"`
	BreakerCooldown    int               `yaml:"breaker_cooldown"` // seconds
	PongWait           int               `yaml:"pong_wait"`        // seconds
}

// CaptionsConfig contains cue grouping and text track options
type CaptionsConfig struct {
	GroupSize int         `yaml:"group_size"`
	Metadata  TrackConfig `yaml:"metadata"`
	Subtitles TrackConfig `yaml:"subtitles"`
}

// TrackConfig describes one text track
type TrackConfig struct {
	Name    string `yaml:"name"`
	Lang    string `yaml:"lang"`
	Initial string `yaml:"initial"`
}

// SourceConfig selects where media comes from
type SourceConfig struct {
	Type            string  `yaml:"type"` // segments or wav
	Path            string  `yaml:"path"`
	SegmentDuration float64 `yaml:"segment_duration"` // seconds
	ChunkDuration   float64 `yaml:"chunk_duration"`   // seconds
	Window          float64 `yaml:"window"`           // seconds, 0 keeps everything
	Realtime        bool    `yaml:"realtime"`
	InitMarker      string  `yaml:"init_marker"`
	SegmentExt      string  `yaml:"segment_ext"`
}

// HTTPConfig contains monitoring API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration. Load overlays the file on it.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Mode:           "live",
			TickPeriodMs:   1000,
			SettleDelayMs:  500,
			RequestTimeout: 30,
			MaxQueued:      0,
			OverflowPolicy: "drop_oldest",
		},
		Transcription: TranscriptionConfig{
			Endpoint:           "ws://localhost:13000/speech-recognition",
			Headers:            map[string]string{"Content-Type": "video/mp4"},
			Encoding:           "concat",
			SampleRate:         16000,
			Channels:           1,
			BitsPerSample:      16,
			WriteTimeout:       10,
			ReconnectInitialMs: 250,
			ReconnectMaxMs:     30000,
			BreakerFailures:    5,
			BreakerCooldown:    30,
			PongWait:           60,
		},
		Captions: CaptionsConfig{
			GroupSize: 10,
			Metadata:  TrackConfig{Initial: "hidden"},
			Subtitles: TrackConfig{
				Name:    "English (auto-generated)",
				Lang:    "en",
				Initial: "showing",
			},
		},
		Source: SourceConfig{
			Type:            "segments",
			Path:            "./segments",
			SegmentDuration: 2,
			ChunkDuration:   1,
			InitMarker:      "init",
			SegmentExt:      ".m4s",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file over the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv applies environment overrides and revalidates
func (c *Config) ApplyEnv() error {
	if endpoint := strings.TrimSpace(os.Getenv(EndpointEnv)); endpoint != "" {
		c.Transcription.Endpoint = endpoint
	}
	return c.Validate()
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Captions.Validate(); err != nil {
		return fmt.Errorf("captions config: %w", err)
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.Mode != "live" && p.Mode != "vod" {
		return fmt.Errorf("mode must be 'live' or 'vod', got '%s'", p.Mode)
	}

	if p.TickPeriodMs < 10 {
		return fmt.Errorf("tick_period_ms must be at least 10, got %d", p.TickPeriodMs)
	}

	if p.SettleDelayMs < 0 {
		return fmt.Errorf("settle_delay_ms cannot be negative, got %d", p.SettleDelayMs)
	}

	if p.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout cannot be negative, got %d", p.RequestTimeout)
	}

	if p.MaxQueued < 0 {
		return fmt.Errorf("max_queued cannot be negative, got %d", p.MaxQueued)
	}

	if p.OverflowPolicy != "drop_oldest" && p.OverflowPolicy != "drop_newest" {
		return fmt.Errorf("overflow_policy must be 'drop_oldest' or 'drop_newest', got '%s'", p.OverflowPolicy)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	u, err := url.Parse(t.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("endpoint scheme must be ws or wss, got '%s'", u.Scheme)
	}

	if t.Encoding != "concat" && t.Encoding != "wav" {
		return fmt.Errorf("encoding must be 'concat' or 'wav', got '%s'", t.Encoding)
	}

	if t.Encoding == "wav" {
		if t.SampleRate < 8000 || t.SampleRate > 48000 {
			return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", t.SampleRate)
		}
		if t.Channels < 1 || t.Channels > 2 {
			return fmt.Errorf("channels must be 1 or 2, got %d", t.Channels)
		}
		if t.BitsPerSample != 16 {
			return fmt.Errorf("bits_per_sample must be 16 for wav encoding, got %d", t.BitsPerSample)
		}
	}

	if t.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", t.WriteTimeout)
	}

	if t.ReconnectInitialMs < 1 {
		return fmt.Errorf("reconnect_initial_ms must be positive, got %d", t.ReconnectInitialMs)
	}

	if t.ReconnectMaxMs < t.ReconnectInitialMs {
		return fmt.Errorf("reconnect_max_ms (%d) must not be less than reconnect_initial_ms (%d)",
			t.ReconnectMaxMs, t.ReconnectInitialMs)
	}

	if t.BreakerFailures < 1 {
		return fmt.Errorf("breaker_failures must be at least 1, got %d", t.BreakerFailures)
	}

	if t.BreakerCooldown < 1 {
		return fmt.Errorf("breaker_cooldown must be at least 1 second, got %d", t.BreakerCooldown)
	}

	if t.PongWait < 1 {
		return fmt.Errorf("pong_wait must be at least 1 second, got %d", t.PongWait)
	}

	return nil
}

// Validate validates captions configuration
func (c *CaptionsConfig) Validate() error {
	if c.GroupSize < 1 {
		return fmt.Errorf("group_size must be at least 1, got %d", c.GroupSize)
	}

	if err := validateTrackMode(c.Metadata.Initial); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}

	if err := validateTrackMode(c.Subtitles.Initial); err != nil {
		return fmt.Errorf("subtitles: %w", err)
	}

	return nil
}

func validateTrackMode(mode string) error {
	switch mode {
	case "hidden", "showing", "disabled":
		return nil
	default:
		return fmt.Errorf("initial must be one of [hidden, showing, disabled], got '%s'", mode)
	}
}

// Validate validates source configuration
func (s *SourceConfig) Validate() error {
	switch s.Type {
	case "segments":
		if s.SegmentDuration <= 0 {
			return fmt.Errorf("segment_duration must be positive, got %f", s.SegmentDuration)
		}
	case "wav":
		if s.ChunkDuration <= 0 {
			return fmt.Errorf("chunk_duration must be positive, got %f", s.ChunkDuration)
		}
	default:
		return fmt.Errorf("type must be 'segments' or 'wav', got '%s'", s.Type)
	}

	if s.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if s.Window < 0 {
		return fmt.Errorf("window cannot be negative, got %f", s.Window)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
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

	// anything other than stdout/stderr is treated as a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetTickPeriod returns the tick period as a time.Duration
func (p *PipelineConfig) GetTickPeriod() time.Duration {
	return time.Duration(p.TickPeriodMs) * time.Millisecond
}

// GetSettleDelay returns the settle delay as a time.Duration
func (p *PipelineConfig) GetSettleDelay() time.Duration {
	return time.Duration(p.SettleDelayMs) * time.Millisecond
}

// GetRequestTimeout returns the request timeout as a time.Duration
func (p *PipelineConfig) GetRequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeout) * time.Second
}

// GetWriteTimeout returns the write timeout as a time.Duration
func (t *TranscriptionConfig) GetWriteTimeout() time.Duration {
	return time.Duration(t.WriteTimeout) * time.Second
}

// GetReconnectInitial returns the first reconnect delay as a time.Duration
func (t *TranscriptionConfig) GetReconnectInitial() time.Duration {
	return time.Duration(t.ReconnectInitialMs) * time.Millisecond
}

// GetReconnectMax returns the reconnect delay cap as a time.Duration
func (t *TranscriptionConfig) GetReconnectMax() time.Duration {
	return time.Duration(t.ReconnectMaxMs) * time.Millisecond
}

// GetBreakerCooldown returns the circuit breaker cooldown as a time.Duration
func (t *TranscriptionConfig) GetBreakerCooldown() time.Duration {
	return time.Duration(t.BreakerCooldown) * time.Second
}

// GetPongWait returns the keepalive deadline as a time.Duration
func (t *TranscriptionConfig) GetPongWait() time.Duration {
	return time.Duration(t.PongWait) * time.Second
}

// GetSegmentDuration returns the segment duration as a time.Duration
func (s *SourceConfig) GetSegmentDuration() time.Duration {
	return time.Duration(s.SegmentDuration * float64(time.Second))
}

// GetChunkDuration returns the WAV chunk duration as a time.Duration
func (s *SourceConfig) GetChunkDuration() time.Duration {
	return time.Duration(s.ChunkDuration * float64(time.Second))
}

// Sanitized returns a copy safe to expose over the monitoring API, with
// header values masked.
func (c *Config) Sanitized() Config {
	out := *c
	out.Transcription.Headers = make(map[string]string, len(c.Transcription.Headers))
	for k, v := range c.Transcription.Headers {
		if strings.EqualFold(k, "Content-Type") {
			out.Transcription.Headers[k] = v
			continue
		}
		out.Transcription.Headers[k] = "***"
	}
	return out
}
