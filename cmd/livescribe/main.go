// Command livescribe records speech from the default microphone, streams it
// to a live transcription service and shows the transcript as it grows.
//
// Usage:
//
//	livescribe [-config path]                    interactive recorder
//	livescribe [-config path] transcribe <file>  one-shot batch transcription
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livescribe/internal/app"
	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/recorder"
	"github.com/MrWong99/livescribe/internal/resilience"
	"github.com/MrWong99/livescribe/pkg/provider/batch"
	"github.com/MrWong99/livescribe/pkg/types"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "livescribe.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "livescribe: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "livescribe: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "livescribe",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(sctx)
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	if args := flag.Args(); len(args) > 0 {
		if args[0] != "transcribe" || len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: livescribe [-config path] [transcribe <file>]")
			return 2
		}
		return runTranscribe(ctx, cfg, reg, args[1])
	}

	slog.Info("livescribe starting",
		"version", version,
		"config", *configPath,
		"live", cfg.Providers.Live.Name,
		"max_duration", cfg.Recording.MaxDuration,
	)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return fatal(err)
	}

	application, err := app.New(cfg, providers, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, application.OnConfigChange)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	rec := application.Recorder()
	con := newConsole(rec, os.Stdout)
	if len(providers.Batch) > 0 {
		con.batch = application.TranscribeLast
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return application.Run(gctx)
	})
	g.Go(func() error {
		return tick(gctx, rec)
	})
	if watcher != nil {
		g.Go(func() error {
			reloadOnHangup(gctx, watcher)
			return nil
		})
	}
	g.Go(func() error {
		defer cancel()
		return con.run(gctx, os.Stdin)
	})

	updates, unsubscribe := rec.Subscribe()
	go con.watch(updates)
	defer unsubscribe()

	err = g.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if serr := application.Shutdown(shutdownCtx); serr != nil {
		slog.Error("shutdown error", "err", serr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// tick advances the recording clock once per second.
func tick(ctx context.Context, rec *recorder.Machine) error {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := rec.Tick(ctx, time.Second); err != nil &&
				!errors.Is(err, recorder.ErrStopped) && ctx.Err() == nil {
				slog.Warn("tick failed", "err", err)
			}
		}
	}
}

// reloadOnHangup re-reads the config file on every SIGHUP instead of waiting
// for the next poll.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			d, err := w.Reload()
			if err != nil {
				slog.Warn("config reload failed", "err", err)
				continue
			}
			slog.Info("config reloaded", "hot", d.Hot(), "pending_restart", d.RestartSections)
		}
	}
}

// runTranscribe transcribes one audio file through the batch failover chain.
func runTranscribe(ctx context.Context, cfg *config.Config, reg *config.Registry, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livescribe: %v\n", err)
		return 1
	}
	backends, err := buildBatch(cfg, reg)
	if err != nil {
		return fatal(err)
	}
	if len(backends) == 0 {
		fmt.Fprintln(os.Stderr, "livescribe: providers.batch is empty")
		return 1
	}
	for _, b := range backends {
		if c, ok := b.(io.Closer); ok {
			defer c.Close()
		}
	}

	chain := resilience.NewBatchFallback(backends[0], resilience.FallbackConfig{}, observe.DefaultMetrics())
	for _, b := range backends[1:] {
		chain.AddFallback(b)
	}

	text, err := chain.Transcribe(ctx, batch.Request{
		Audio:       data,
		ContentType: contentType(path),
		Language:    cfg.Recording.Language,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "livescribe: %s\n", types.Reason(err))
		return 1
	}
	fmt.Println(text)
	return 0
}

// contentType guesses the MIME type of an audio file from its extension.
func contentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "audio/wav"
}

// fatal reports a provider construction error. A missing credential is
// reported before any device or network access.
func fatal(err error) int {
	if errors.Is(err, types.ErrCredentialMissing) {
		fmt.Fprintf(os.Stderr, "livescribe: %v; set the provider api_key (e.g. api_key: ${GEMINI_API_KEY})\n", err)
		return 1
	}
	slog.Error("failed to build providers", "err", err)
	return 1
}
