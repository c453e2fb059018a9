package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/livescribe/internal/app"
	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/audio/portaudio"
	"github.com/MrWong99/livescribe/pkg/provider/batch"
	batchgemini "github.com/MrWong99/livescribe/pkg/provider/batch/gemini"
	batchopenai "github.com/MrWong99/livescribe/pkg/provider/batch/openai"
	"github.com/MrWong99/livescribe/pkg/provider/batch/whisper"
	"github.com/MrWong99/livescribe/pkg/provider/live"
	livegemini "github.com/MrWong99/livescribe/pkg/provider/live/gemini"
	liveopenai "github.com/MrWong99/livescribe/pkg/provider/live/openai"
)

// registerBuiltinProviders wires every provider that ships with livescribe
// into reg.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []livegemini.Option
		if entry.Model != "" {
			opts = append(opts, livegemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, livegemini.WithBaseURL(entry.BaseURL))
		}
		return livegemini.New(entry.APIKey, opts...)
	})

	reg.RegisterLive("openai", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []liveopenai.Option
		if entry.Model != "" {
			opts = append(opts, liveopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, liveopenai.WithBaseURL(entry.BaseURL))
		}
		return liveopenai.New(entry.APIKey, opts...)
	})

	// ── Batch ─────────────────────────────────────────────────────────────────

	reg.RegisterBatch("gemini", func(entry config.ProviderEntry) (batch.Provider, error) {
		var opts []batchgemini.Option
		if entry.Model != "" {
			opts = append(opts, batchgemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, batchgemini.WithBaseURL(entry.BaseURL))
		}
		return batchgemini.New(ctx, entry.APIKey, opts...)
	})

	reg.RegisterBatch("openai", func(entry config.ProviderEntry) (batch.Provider, error) {
		var opts []batchopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, batchopenai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.Option("organization"); org != "" {
			opts = append(opts, batchopenai.WithOrganization(org))
		}
		return batchopenai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterBatch("whisper", func(entry config.ProviderEntry) (batch.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterBatch("whisper-native", func(entry config.ProviderEntry) (batch.Provider, error) {
		var opts []whisper.NativeOption
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(entry.Option("model_path"), opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(config.AudioConfig) (audio.Opener, error) {
		return portaudio.New(), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildBatch instantiates the configured batch backends in failover order.
func buildBatch(cfg *config.Config, reg *config.Registry) ([]batch.Provider, error) {
	var out []batch.Provider
	for _, entry := range cfg.Providers.Batch {
		p, err := reg.CreateBatch(entry)
		if err != nil {
			return nil, fmt.Errorf("create batch provider %q: %w", entry.Name, err)
		}
		out = append(out, p)
		slog.Info("provider created", "kind", "batch", "name", entry.Name)
	}
	return out, nil
}

// buildProviders instantiates every provider named in cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	if cfg.Providers.Live.Name == "" {
		return nil, errors.New("providers.live is not configured")
	}
	lp, err := reg.CreateLive(cfg.Providers.Live)
	if err != nil {
		return nil, fmt.Errorf("create live provider %q: %w", cfg.Providers.Live.Name, err)
	}
	slog.Info("provider created", "kind", "live", "name", cfg.Providers.Live.Name)

	bp, err := buildBatch(cfg, reg)
	if err != nil {
		return nil, err
	}

	opener, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio backend %q: %w", cfg.Audio.Backend, err)
	}
	return &app.Providers{Live: lp, Batch: bp, Audio: opener}, nil
}
