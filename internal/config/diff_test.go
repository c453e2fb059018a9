package config_test

import (
	"testing"
	"time"

	"github.com/MrWong99/livescribe/internal/config"
)

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, sampleYAML)
	b := mustLoad(t, sampleYAML)
	if d := config.Diff(a, b); d.Changed() {
		t.Errorf("Diff = %+v, want no change", d)
	}
}

func TestDiff_HotFields(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, "recording:\n  max_duration: 60s\n")
	b := mustLoad(t, "server:\n  log_level: warn\nrecording:\n  max_duration: 30s\n")

	d := config.Diff(a, b)
	if !d.MaxDurationChanged || d.NewMaxDuration != 30*time.Second {
		t.Errorf("max duration diff = %v/%v", d.MaxDurationChanged, d.NewMaxDuration)
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level diff = %v/%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("hot-reloadable changes flagged as requiring restart")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	base := mustLoad(t, sampleYAML)
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		section string
	}{
		{"live provider", func(c *config.Config) { c.Providers.Live.Name = "openai" }, "providers.live"},
		{"batch order", func(c *config.Config) {
			c.Providers.Batch[0], c.Providers.Batch[1] = c.Providers.Batch[1], c.Providers.Batch[0]
		}, "providers.batch"},
		{"batch option", func(c *config.Config) {
			c.Providers.Batch[3].Options = map[string]any{"model_path": "/other.bin"}
		}, "providers.batch"},
		{"language", func(c *config.Config) { c.Recording.Language = "en" }, "recording"},
		{"audio", func(c *config.Config) { c.Audio.FramesPerBuffer = 480 }, "audio"},
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, "server.listen_addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := mustLoad(t, sampleYAML)
			tt.mutate(next)
			d := config.Diff(base, next)
			if !d.RestartRequired {
				t.Errorf("Diff = %+v, want RestartRequired", d)
			}
			if len(d.RestartSections) != 1 || d.RestartSections[0] != tt.section {
				t.Errorf("RestartSections = %v, want [%s]", d.RestartSections, tt.section)
			}
			if d.Hot() {
				t.Error("restart-only change reported as hot")
			}
		})
	}
}
