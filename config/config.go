/*
Package config provides the (immutable) configuration of the streamer and listener binaries. All
settings default to the parameters of the reference hardware setup and may be overridden by a YAML
configuration file.
*/
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/fako1024/slimcast/capture"
	"github.com/fako1024/slimcast/ring"
	"gopkg.in/yaml.v3"
)

const (

	// DefaultRemoteAddress denotes the default address of the listener
	DefaultRemoteAddress = "192.168.1.40"

	// DefaultRemotePort denotes the default (UDP) port of the listener
	DefaultRemotePort = 16500

	// DefaultAssociateTimeout denotes the default maximum wait for the network interface
	DefaultAssociateTimeout = 60 * time.Second

	// DefaultSampleRate denotes the default sample rate (in Hz)
	DefaultSampleRate = 96000

	// DefaultBitsPerSample denotes the default sample width
	DefaultBitsPerSample = 16

	// DefaultChannels denotes the default number of channels (left channel only)
	DefaultChannels = 1

	// DefaultToneFrequency denotes the default frequency of the test tone (in Hz)
	DefaultToneFrequency = 440.0

	// DefaultToneAmplitude denotes the default (relative) amplitude of the test tone
	DefaultToneAmplitude = 0.5
)

// Source types
const (
	SourcePCM  = "pcm"
	SourceTone = "tone"
	SourceWAV  = "wav"
	SourceMic  = "mic"
)

// Listener output formats
const (
	OutputRaw = "raw"
	OutputWAV = "wav"
)

// Config denotes the complete configuration
type Config struct {
	Network  NetworkConfig  `yaml:"network"`
	Audio    AudioConfig    `yaml:"audio"`
	Source   SourceConfig   `yaml:"source"`
	Listener ListenerConfig `yaml:"listener"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// NetworkConfig contains the association / link configuration
type NetworkConfig struct {
	Interface        string        `yaml:"interface"`
	AssociateTimeout time.Duration `yaml:"associate_timeout"`
	RemoteAddress    string        `yaml:"remote_address"`
	RemotePort       int           `yaml:"remote_port"`
	DSCP             int           `yaml:"dscp"`
	Priority         int           `yaml:"priority"`
	WriteBuffer      int           `yaml:"write_buffer"`
}

// AudioConfig contains the sample format and buffer geometry
type AudioConfig struct {
	SampleRate     int `yaml:"sample_rate"`
	BitsPerSample  int `yaml:"bits_per_sample"`
	Channels       int `yaml:"channels"`
	BlockSize      int `yaml:"block_size"`      // bytes
	BufferCapacity int `yaml:"buffer_capacity"` // bytes
	WrapMargin     int `yaml:"wrap_margin"`     // bytes
}

// SourceConfig contains the sample source configuration
type SourceConfig struct {
	Type          string        `yaml:"type"`
	Path          string        `yaml:"path"`
	Timeout       time.Duration `yaml:"timeout"` // negative: wait forever
	ToneFrequency float64       `yaml:"tone_frequency"`
	ToneAmplitude float64       `yaml:"tone_amplitude"`
	Paced         bool          `yaml:"paced"`
	Loop          bool          `yaml:"loop"`
}

// ListenerConfig contains the configuration of the listening end
type ListenerConfig struct {
	Listen       string `yaml:"listen"`
	Output       string `yaml:"output"` // file path, "-" for STDOUT
	Format       string `yaml:"format"`
	KernelFilter bool   `yaml:"kernel_filter"`
}

// LoggingConfig contains the logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// MetricsConfig contains the metrics exposition configuration
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty: disabled
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Network: NetworkConfig{
			AssociateTimeout: DefaultAssociateTimeout,
			RemoteAddress:    DefaultRemoteAddress,
			RemotePort:       DefaultRemotePort,
		},
		Audio: AudioConfig{
			SampleRate:     DefaultSampleRate,
			BitsPerSample:  DefaultBitsPerSample,
			Channels:       DefaultChannels,
			BlockSize:      capture.DefaultBlockSize,
			BufferCapacity: ring.DefaultCapacity,
			WrapMargin:     ring.DefaultMargin,
		},
		Source: SourceConfig{
			Type:          SourceMic,
			Timeout:       capture.WaitForever,
			ToneFrequency: DefaultToneFrequency,
			ToneAmplitude: DefaultToneAmplitude,
			Paced:         true,
		},
		Listener: ListenerConfig{
			Listen: fmt.Sprintf(":%d", DefaultRemotePort),
			Output: "-",
			Format: OutputRaw,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "logfmt",
		},
	}
}

// Load reads the configuration file at path, overlaying its contents on the default configuration
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the complete configuration
func (c Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}
	if err := c.Listener.Validate(); err != nil {
		return fmt.Errorf("listener config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	return nil
}

// Validate validates the network configuration
func (n NetworkConfig) Validate() error {
	if n.RemoteAddress == "" {
		return errors.New("remote_address cannot be empty")
	}
	if n.RemotePort < 1 || n.RemotePort > 65535 {
		return fmt.Errorf("remote_port must be between 1 and 65535, got %d", n.RemotePort)
	}
	if n.DSCP < 0 || n.DSCP > 63 {
		return fmt.Errorf("dscp must be between 0 and 63, got %d", n.DSCP)
	}
	if n.Priority < 0 || n.Priority > 6 {
		return fmt.Errorf("priority must be between 0 and 6, got %d", n.Priority)
	}
	if n.WriteBuffer < 0 {
		return fmt.Errorf("write_buffer cannot be negative, got %d", n.WriteBuffer)
	}

	return nil
}

// Validate validates the audio configuration
func (a AudioConfig) Validate() error {
	if err := a.Format().Validate(); err != nil {
		return err
	}
	if a.BufferCapacity <= 0 || a.BufferCapacity%2 != 0 {
		return fmt.Errorf("buffer_capacity must be positive and even, got %d", a.BufferCapacity)
	}
	if a.BufferCapacity%(2*a.Format().FrameSize()) != 0 {
		return fmt.Errorf("buffer_capacity must be a multiple of twice the frame size (%d bytes), got %d", 2*a.Format().FrameSize(), a.BufferCapacity)
	}
	if a.WrapMargin < 1 || a.WrapMargin >= a.BufferCapacity/2 {
		return fmt.Errorf("wrap_margin must be between 1 and %d, got %d", a.BufferCapacity/2-1, a.WrapMargin)
	}
	if a.BlockSize <= 0 || a.BlockSize > a.BufferCapacity/2 {
		return fmt.Errorf("block_size must be between 1 and %d, got %d", a.BufferCapacity/2, a.BlockSize)
	}
	if a.BlockSize%a.Format().FrameSize() != 0 {
		return fmt.Errorf("block_size must be a multiple of the frame size (%d bytes), got %d", a.Format().FrameSize(), a.BlockSize)
	}

	return nil
}

// Format returns the sample format
func (a AudioConfig) Format() capture.Format {
	return capture.Format{
		SampleRate:    a.SampleRate,
		BitsPerSample: a.BitsPerSample,
		Channels:      a.Channels,
	}
}

// SegmentSize returns the size of a segment transmitted to the listener
func (a AudioConfig) SegmentSize() int {
	return a.BufferCapacity / 2
}

// Validate validates the source configuration
func (s SourceConfig) Validate() error {
	switch s.Type {
	case SourcePCM, SourceWAV:
		if s.Path == "" {
			return fmt.Errorf("path required for source type %s", s.Type)
		}
	case SourceTone:
		if s.ToneFrequency <= 0 {
			return fmt.Errorf("tone_frequency must be positive, got %v", s.ToneFrequency)
		}
		if s.ToneAmplitude < 0 || s.ToneAmplitude > 1 {
			return fmt.Errorf("tone_amplitude must be between 0 and 1, got %v", s.ToneAmplitude)
		}
	case SourceMic:
	default:
		return fmt.Errorf("unsupported source type: %q", s.Type)
	}

	return nil
}

// Validate validates the listener configuration
func (l ListenerConfig) Validate() error {
	if _, err := net.ResolveUDPAddr("udp", l.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", l.Listen, err)
	}
	switch l.Format {
	case OutputRaw:
	case OutputWAV:
		if l.Output == "" || l.Output == "-" {
			return errors.New("wav output requires a file path")
		}
	default:
		return fmt.Errorf("unsupported output format: %q", l.Format)
	}

	return nil
}

// Validate validates the logging configuration
func (l LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %q", l.Level)
	}
	switch l.Encoding {
	case "logfmt", "json", "plain":
	default:
		return fmt.Errorf("unsupported log encoding: %q", l.Encoding)
	}

	return nil
}

// Validate validates the metrics configuration
func (m MetricsConfig) Validate() error {
	if m.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		return fmt.Errorf("invalid metrics listen address %q: %w", m.Listen, err)
	}

	return nil
}
