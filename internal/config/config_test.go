package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/pkg/audio"
	audiomock "github.com/MrWong99/livescribe/pkg/audio/mock"
	"github.com/MrWong99/livescribe/pkg/provider/batch"
	batchmock "github.com/MrWong99/livescribe/pkg/provider/batch/mock"
	"github.com/MrWong99/livescribe/pkg/provider/live"
	livemock "github.com/MrWong99/livescribe/pkg/provider/live/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9191"
  log_level: debug

providers:
  live:
    name: gemini
    api_key: g-test
    model: gemini-live-2.5-flash-preview
  batch:
    - name: gemini
      api_key: g-test
    - name: openai
      api_key: sk-test
      model: whisper-1
    - name: whisper
      base_url: http://localhost:8081
    - name: whisper-native
      options:
        model_path: /models/ggml-base.en.bin

recording:
  language: de
  max_duration: 2m
  queue_size: 32
  keep_audio: true
  stop_timeout: 3s

audio:
  sample_rate: 48000
  channels: 2
  frames_per_buffer: 960
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9191" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.Live.Name != "gemini" || cfg.Providers.Live.APIKey != "g-test" {
		t.Errorf("providers.live = %+v", cfg.Providers.Live)
	}
	if got := len(cfg.Providers.Batch); got != 4 {
		t.Fatalf("len(providers.batch) = %d, want 4", got)
	}
	if got := cfg.Providers.Batch[3].Option("model_path"); got != "/models/ggml-base.en.bin" {
		t.Errorf("whisper-native model_path = %q", got)
	}
	r := cfg.Recording
	if r.Language != "de" || r.MaxDuration != 2*time.Minute || r.QueueSize != 32 || !r.KeepAudio || r.StopTimeout != 3*time.Second {
		t.Errorf("recording = %+v", r)
	}
	if r.DialTimeout != config.DefaultDialTimeout {
		t.Errorf("dial_timeout = %v, want default", r.DialTimeout)
	}
	if a := cfg.Audio; a.SampleRate != 48000 || a.Channels != 2 || a.FramesPerBuffer != 960 || a.Backend != "portaudio" {
		t.Errorf("audio = %+v", a)
	}
}

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")

	if cfg.Server.ListenAddr != config.DefaultListenAddr || cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Recording.MaxDuration != 60*time.Second {
		t.Errorf("max_duration = %v, want 60s", cfg.Recording.MaxDuration)
	}
	if cfg.Recording.QueueSize != config.DefaultQueueSize || cfg.Recording.StopTimeout != config.DefaultStopTimeout {
		t.Errorf("recording = %+v", cfg.Recording)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
}

func TestLoadFromReader_NegativeMaxDurationKept(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "recording:\n  max_duration: -1s\n")
	if cfg.Recording.MaxDuration != -time.Second {
		t.Errorf("max_duration = %v, want -1s (unlimited)", cfg.Recording.MaxDuration)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("recording:\n  max_seconds: 30\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_ExpandsEnvSecrets(t *testing.T) {
	t.Setenv("LIVESCRIBE_TEST_KEY", "from-env")

	cfg := mustLoad(t, `
providers:
  live:
    name: openai
    api_key: ${LIVESCRIBE_TEST_KEY}
  batch:
    - name: openai
      api_key: ${LIVESCRIBE_TEST_KEY}
    - name: gemini
      api_key: literal$key
`)
	if cfg.Providers.Live.APIKey != "from-env" {
		t.Errorf("live api_key = %q, want from-env", cfg.Providers.Live.APIKey)
	}
	if cfg.Providers.Batch[0].APIKey != "from-env" {
		t.Errorf("batch[0] api_key = %q, want from-env", cfg.Providers.Batch[0].APIKey)
	}
	if cfg.Providers.Batch[1].APIKey != "literal$key" {
		t.Errorf("batch[1] api_key = %q, want literal", cfg.Providers.Batch[1].APIKey)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "livescribe.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Recording.Language != "de" {
		t.Errorf("language = %q", cfg.Recording.Language)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// ── validation ────────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad log level", "server:\n  log_level: bananas\n", "server.log_level"},
		{"batch entry without name", "providers:\n  batch:\n    - api_key: x\n", "providers.batch[0].name is required"},
		{"duplicate batch", "providers:\n  batch:\n    - name: gemini\n    - name: gemini\n", "duplicate"},
		{"whisper without url", "providers:\n  batch:\n    - name: whisper\n", "base_url is required"},
		{"native without model", "providers:\n  batch:\n    - name: whisper-native\n", "model_path is required"},
		{"negative queue", "recording:\n  queue_size: -1\n", "recording.queue_size"},
		{"negative stop timeout", "recording:\n  stop_timeout: -1s\n", "recording.stop_timeout"},
		{"sample rate too low", "audio:\n  sample_rate: 100\n", "audio.sample_rate"},
		{"too many channels", "audio:\n  channels: 16\n", "audio.channels"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\naudio:\n  channels: 99\n"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "audio.channels"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

// ── registry ──────────────────────────────────────────────────────────────────

func TestRegistry_CreateLive(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &livemock.Provider{}
	var got config.ProviderEntry
	reg.RegisterLive("mock", func(e config.ProviderEntry) (live.Provider, error) {
		got = e
		return want, nil
	})

	p, err := reg.CreateLive(config.ProviderEntry{Name: "mock", Model: "m1"})
	if err != nil {
		t.Fatalf("CreateLive: %v", err)
	}
	if p != want {
		t.Error("CreateLive returned a different provider")
	}
	if got.Model != "m1" {
		t.Errorf("factory entry model = %q, want m1", got.Model)
	}
}

func TestRegistry_CreateBatch(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterBatch("mock", func(e config.ProviderEntry) (batch.Provider, error) {
		return &batchmock.Provider{ProviderName: e.Name}, nil
	})
	p, err := reg.CreateBatch(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	text, err := p.Transcribe(context.Background(), batch.Request{})
	if err != nil || text != batch.NoSpeechSentinel {
		t.Errorf("Transcribe = %q, %v", text, err)
	}
}

func TestRegistry_CreateAudio(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterAudio("mock", func(config.AudioConfig) (audio.Opener, error) {
		return &audiomock.Opener{}, nil
	})
	if _, err := reg.CreateAudio(config.AudioConfig{Backend: "mock"}); err != nil {
		t.Fatalf("CreateAudio: %v", err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	if _, err := reg.CreateLive(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLive err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateBatch(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateBatch err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateAudio(config.AudioConfig{Backend: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateAudio err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterLive("broken", func(config.ProviderEntry) (live.Provider, error) { return nil, boom })
	if _, err := reg.CreateLive(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
