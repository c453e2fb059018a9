package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":  {"gemini", "openai"},
	"batch": {"gemini", "openai", "whisper", "whisper-native"},
	"audio": {"portaudio"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands "${VAR}" secrets,
// applies defaults and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("audio", cfg.Audio.Backend)
	if cfg.Providers.Live.Name == "" {
		slog.Warn("providers.live is not configured; recordings cannot start")
	}

	seen := make(map[string]int, len(cfg.Providers.Batch))
	for i, e := range cfg.Providers.Batch {
		prefix := fmt.Sprintf("providers.batch[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("batch", e.Name)
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.batch[%d]", prefix, e.Name, prev))
		}
		seen[e.Name] = i
		if e.Name == "whisper" && e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for whisper", prefix))
		}
		if e.Name == "whisper-native" && e.Option("model_path") == "" {
			errs = append(errs, fmt.Errorf("%s.options.model_path is required for whisper-native", prefix))
		}
	}

	r := cfg.Recording
	if r.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("recording.queue_size %d must not be negative", r.QueueSize))
	}
	if r.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("recording.stop_timeout %s must not be negative", r.StopTimeout))
	}
	if r.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("recording.dial_timeout %s must not be negative", r.DialTimeout))
	}

	a := cfg.Audio
	if a.SampleRate != 0 && (a.SampleRate < 8000 || a.SampleRate > 192000) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 192000]", a.SampleRate))
	}
	if a.Channels < 0 || a.Channels > 8 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 8]", a.Channels))
	}
	if a.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d must not be negative", a.FramesPerBuffer))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

func expandSecrets(cfg *Config) {
	cfg.Providers.Live.APIKey = expandEnv(cfg.Providers.Live.APIKey)
	for i := range cfg.Providers.Batch {
		cfg.Providers.Batch[i].APIKey = expandEnv(cfg.Providers.Batch[i].APIKey)
	}
}

// expandEnv resolves a whole-value "${VAR}" reference. Other values are
// returned unchanged so literal keys containing '$' survive.
func expandEnv(v string) string {
	if !strings.HasPrefix(v, "${") || !strings.HasSuffix(v, "}") {
		return v
	}
	return os.Getenv(v[2 : len(v)-1])
}
