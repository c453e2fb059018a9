// Package app wires the livescribe subsystems into a running application.
//
// New builds the recorder, the batch failover chain and the ops HTTP
// handler from a [config.Config] and a set of already constructed
// [Providers]. Run drives the recorder loop and the ops listener until the
// context is cancelled; Shutdown releases provider resources.
//
// For testing, pass mock providers and disable the listener with
// server.listen_addr "off"; the ops handler is reachable via [App.Handler].
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/health"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/recorder"
	"github.com/MrWong99/livescribe/internal/resilience"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/audio/capture"
	"github.com/MrWong99/livescribe/pkg/provider/batch"
	"github.com/MrWong99/livescribe/pkg/provider/live"
)

// ListenOff disables the ops listener when used as server.listen_addr.
const ListenOff = "off"

var (
	// ErrNoBatchProvider is returned by the batch methods when no batch
	// backend is configured.
	ErrNoBatchProvider = errors.New("app: no batch provider configured")

	// ErrNoAudio is returned by [App.TranscribeLast] when the last recording
	// kept no audio.
	ErrNoAudio = errors.New("app: no recorded audio available")
)

// Providers holds the constructed backends. Populated by main via the config
// registry.
type Providers struct {
	// Live is the streaming transcription service. Required.
	Live live.Provider

	// Batch lists one-shot backends in failover order. May be empty.
	Batch []batch.Provider

	// Audio opens the capture device. Required.
	Audio audio.Opener
}

// App owns the lifetimes of all subsystems.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	machine *recorder.Machine
	batch   *resilience.BatchFallback
	handler http.Handler

	mu       sync.Mutex
	addr     net.Addr
	stopOnce sync.Once
}

// Option is a functional option for [New].
type Option func(*App)

// WithMetrics records to met instead of [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(a *App) { a.metrics = met }
}

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// New wires an App. It does not touch the microphone or the network.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Live == nil {
		return nil, errors.New("app: live provider is required")
	}
	if providers.Audio == nil {
		return nil, errors.New("app: audio backend is required")
	}

	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.machine = recorder.New(providers.Audio, providers.Live, recorder.Config{
		Language:    cfg.Recording.Language,
		MaxDuration: cfg.Recording.MaxDuration,
		StopTimeout: cfg.Recording.StopTimeout,
		DialTimeout: cfg.Recording.DialTimeout,
		Capture: capture.Config{
			SampleRate:      cfg.Audio.SampleRate,
			Channels:        cfg.Audio.Channels,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
			QueueSize:       cfg.Recording.QueueSize,
			KeepAudio:       cfg.Recording.KeepAudio,
		},
	}, recorder.WithMetrics(a.metrics))

	if len(providers.Batch) > 0 {
		a.batch = resilience.NewBatchFallback(providers.Batch[0], resilience.FallbackConfig{}, a.metrics)
		for _, p := range providers.Batch[1:] {
			a.batch.AddFallback(p)
		}
	}

	checks := []health.Checker{
		health.LiveProvider(cfg.Providers.Live.Name),
		health.Recorder(a.machine),
	}
	if a.batch != nil {
		checks = append(checks, health.BatchBackends(a.batch.Health))
	}
	mux := http.NewServeMux()
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	a.handler = observe.Middleware(a.metrics, mux)(mux)

	slog.Info("app wired",
		"live", providers.Live.Name(),
		"batch_backends", len(providers.Batch),
		"max_duration", cfg.Recording.MaxDuration,
	)
	return a, nil
}

// Recorder returns the recording state machine.
func (a *App) Recorder() *recorder.Machine { return a.machine }

// Handler returns the ops HTTP handler serving /metrics, /healthz and
// /readyz.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the bound ops listener address once Run has started it, or
// nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Run starts the recorder loop and the ops listener and blocks until ctx is
// cancelled or either fails.
func (a *App) Run(ctx context.Context) error {
	var ln net.Listener
	if addr := a.cfg.Server.ListenAddr; addr != "" && addr != ListenOff {
		var err error
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", addr, err)
		}
		a.mu.Lock()
		a.addr = ln.Addr()
		a.mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.machine.Run(gctx)
	})

	if ln != nil {
		srv := &http.Server{Handler: a.handler, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			slog.Info("ops listener started", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("app running")
	err := g.Wait()
	if err != nil {
		return err
	}
	return ctx.Err()
}

// OnConfigChange applies the hot fields of a config reload. It is the
// [config.Watcher] callback; sections that need a restart are reported by the
// watcher and never reach it.
func (a *App) OnConfigChange(d config.ConfigDiff) {
	if d.MaxDurationChanged {
		a.machine.SetMaxDuration(d.NewMaxDuration)
		slog.Info("max duration updated, applies to the next recording", "max_duration", d.NewMaxDuration)
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
}

// Transcribe runs a one-shot transcription through the batch failover
// chain. An empty language uses recording.language.
func (a *App) Transcribe(ctx context.Context, req batch.Request) (string, error) {
	if a.batch == nil {
		return "", ErrNoBatchProvider
	}
	if req.Language == "" {
		req.Language = a.cfg.Recording.Language
	}
	ctx, span := observe.StartSpan(ctx, "app.transcribe")
	text, err := a.batch.Transcribe(ctx, req)
	observe.EndSpan(span, err)
	return text, err
}

// TranscribeLast re-transcribes the audio kept from the last finished
// recording. It requires recording.keep_audio.
func (a *App) TranscribeLast(ctx context.Context) (string, error) {
	pcm := a.machine.LastAudio()
	if len(pcm) == 0 {
		return "", ErrNoAudio
	}
	wav, err := audio.EncodeWAV(pcm, audio.LiveSampleRate, audio.LiveChannels)
	if err != nil {
		return "", err
	}
	return a.Transcribe(ctx, batch.Request{Audio: wav, ContentType: "audio/wav"})
}

// Shutdown closes every provider that holds resources. It is safe to call
// more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		var closers []io.Closer
		for _, p := range a.providers.Batch {
			if c, ok := p.(io.Closer); ok {
				closers = append(closers, c)
			}
		}
		if c, ok := a.providers.Live.(io.Closer); ok {
			closers = append(closers, c)
		}
		for i, c := range closers {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
				errs = append(errs, err)
				return
			}
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

// ParseLevel maps a config log level to a slog level. Unknown values map to
// info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
