// Package config provides the configuration schema, loader, provider registry
// and file watcher for livescribe.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Default values applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr      = ":9090"
	DefaultMaxDuration     = 60 * time.Second
	DefaultStopTimeout     = 2 * time.Second
	DefaultDialTimeout     = 10 * time.Second
	DefaultQueueSize       = 64
	DefaultSampleRate      = 16000
	DefaultChannels        = 1
	DefaultFramesPerBuffer = 320
	DefaultAudioBackend    = "portaudio"
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Recording RecordingConfig `yaml:"recording"`
	Audio     AudioConfig     `yaml:"audio"`
}

// ServerConfig holds the ops listener and logging settings.
type ServerConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz. "off" disables the
	// listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig selects the transcription backends.
type ProvidersConfig struct {
	// Live is the streaming transcription service used while recording.
	Live ProviderEntry `yaml:"live"`

	// Batch lists one-shot transcription backends in failover order. The
	// first entry is the primary.
	Batch []ProviderEntry `yaml:"batch"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
// Name is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "gemini", "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. A value of the form
	// "${VAR}" is replaced by the environment variable VAR at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values, e.g. "model_path" for
	// whisper-native.
	Options map[string]any `yaml:"options"`
}

// Option returns Options[key] as a string, or "" when absent or not a string.
func (e ProviderEntry) Option(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// RecordingConfig holds the parameters of a live recording.
type RecordingConfig struct {
	// Language is a BCP-47 tag of the spoken language. Empty lets the
	// service detect it.
	Language string `yaml:"language"`

	// MaxDuration ends a recording automatically. Zero selects
	// [DefaultMaxDuration]; a negative value disables the limit.
	MaxDuration time.Duration `yaml:"max_duration"`

	// QueueSize bounds the frame queue between capture and session.
	QueueSize int `yaml:"queue_size"`

	// KeepAudio retains the recorded PCM so it can be re-transcribed in
	// batch after the recording ends.
	KeepAudio bool `yaml:"keep_audio"`

	// StopTimeout bounds the wait for the last transcript deltas on stop.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// DialTimeout bounds the live session handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// AudioConfig configures the capture device.
type AudioConfig struct {
	// Backend selects the registered device backend. Default: portaudio.
	Backend string `yaml:"backend"`

	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`
}

// ApplyDefaults fills zero values with their defaults. A negative
// MaxDuration is kept.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	r := &c.Recording
	if r.MaxDuration == 0 {
		r.MaxDuration = DefaultMaxDuration
	}
	if r.QueueSize == 0 {
		r.QueueSize = DefaultQueueSize
	}
	if r.StopTimeout == 0 {
		r.StopTimeout = DefaultStopTimeout
	}
	if r.DialTimeout == 0 {
		r.DialTimeout = DefaultDialTimeout
	}
	a := &c.Audio
	if a.Backend == "" {
		a.Backend = DefaultAudioBackend
	}
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.Channels == 0 {
		a.Channels = DefaultChannels
	}
	if a.FramesPerBuffer == 0 {
		a.FramesPerBuffer = DefaultFramesPerBuffer
	}
}
