// Package capture turns an exclusive microphone handle into a bounded stream
// of 16 kHz mono PCM16 frames.
//
// A [Pipeline] is single-use: [Pipeline.Acquire] opens the device, capture
// starts paused, [Pipeline.Resume] and [Pipeline.Pause] gate forwarding at the
// source, and [Pipeline.Release] stops the device and closes the frame channel.
// The sampling callback never blocks; when the consumer falls behind, frames
// are dropped and counted rather than queued without bound.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/types"
)

// Default values applied by [New] for zero-valued [Config] fields.
const (
	DefaultFramesPerBuffer = 1024
	DefaultQueueSize       = 64
)

var (
	// ErrAcquired is returned by [Pipeline.Acquire] when the device is already held.
	ErrAcquired = errors.New("capture: device already acquired")

	// ErrReleased is returned by [Pipeline.Acquire] after [Pipeline.Release].
	ErrReleased = errors.New("capture: pipeline released")
)

// Config holds capture settings.
type Config struct {
	// SampleRate is the rate requested from the device. Frames are converted to
	// [audio.LiveSampleRate] when it differs. Defaults to 16000.
	SampleRate int

	// Channels requested from the device; input is downmixed to mono.
	// Defaults to 1.
	Channels int

	// FramesPerBuffer is the device buffer size in samples per channel.
	FramesPerBuffer int

	// QueueSize bounds the frames channel.
	QueueSize int

	// KeepAudio retains a copy of every forwarded frame so the recording can be
	// re-transcribed later via [Pipeline.Audio].
	KeepAudio bool
}

// Stats is a snapshot of the pipeline's frame counters.
type Stats struct {
	// Captured counts frames produced while forwarding was enabled.
	Captured uint64

	// Dropped counts frames discarded because the channel was full.
	Dropped uint64

	// Suppressed counts callbacks discarded while paused.
	Suppressed uint64
}

// Pipeline owns one microphone handle for the duration of one recording.
type Pipeline struct {
	opener audio.Opener
	cfg    Config
	frames chan audio.AudioFrame
	conv   audio.FormatConverter

	mu       sync.Mutex
	dev      audio.Device
	released bool

	// sendMu guards frames against a send racing the close in Release.
	sendMu sync.Mutex
	closed bool

	forwarding atomic.Bool
	samples    atomic.Int64

	captured   atomic.Uint64
	dropped    atomic.Uint64
	suppressed atomic.Uint64

	keepMu sync.Mutex
	kept   []byte
}

// New creates a Pipeline that will open its device through opener.
func New(opener audio.Opener, cfg Config) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.LiveSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Pipeline{
		opener: opener,
		cfg:    cfg,
		frames: make(chan audio.AudioFrame, cfg.QueueSize),
		conv:   audio.FormatConverter{TargetRate: audio.LiveSampleRate},
	}
}

// Acquire opens and starts the device. Capture begins immediately but no frame
// is forwarded until [Pipeline.Resume]. A refused or missing device is
// reported as an error wrapping [types.ErrPermissionDenied].
func (p *Pipeline) Acquire(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return ErrReleased
	}
	if p.dev != nil {
		return ErrAcquired
	}

	dev, err := p.opener.Open(ctx, audio.DeviceConfig{
		SampleRate:      p.cfg.SampleRate,
		Channels:        p.cfg.Channels,
		FramesPerBuffer: p.cfg.FramesPerBuffer,
	}, p.onSamples)
	if err != nil {
		return permissionError(err)
	}
	if err := dev.Start(); err != nil {
		_ = dev.Close()
		return permissionError(err)
	}
	p.dev = dev
	slog.Debug("capture: device acquired",
		"sampleRate", p.cfg.SampleRate,
		"channels", p.cfg.Channels,
		"framesPerBuffer", p.cfg.FramesPerBuffer,
	)
	return nil
}

// Frames returns the channel of captured frames. It is closed by
// [Pipeline.Release].
func (p *Pipeline) Frames() <-chan audio.AudioFrame {
	return p.frames
}

// Pause stops forwarding. Samples captured while paused are discarded.
func (p *Pipeline) Pause() {
	p.forwarding.Store(false)
}

// Resume (re)enables forwarding starting with the next sampling callback.
func (p *Pipeline) Resume() {
	p.forwarding.Store(true)
}

// Forwarding reports whether frames are currently being forwarded.
func (p *Pipeline) Forwarding() bool {
	return p.forwarding.Load()
}

// Held reports whether the device is currently open.
func (p *Pipeline) Held() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dev != nil && !p.released
}

// Release stops capture, closes the device and closes the frames channel.
// It is idempotent and safe to call on a pipeline that was never acquired.
func (p *Pipeline) Release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	dev := p.dev
	p.dev = nil
	p.mu.Unlock()

	p.forwarding.Store(false)

	var errs []error
	if dev != nil {
		if err := dev.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop: %w", err))
		}
		if err := dev.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
	}

	p.sendMu.Lock()
	p.closed = true
	close(p.frames)
	p.sendMu.Unlock()

	st := p.Stats()
	slog.Debug("capture: device released",
		"captured", st.Captured,
		"dropped", st.Dropped,
		"suppressed", st.Suppressed,
	)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("capture: release: %w", err)
	}
	return nil
}

// Stats returns the current frame counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Captured:   p.captured.Load(),
		Dropped:    p.dropped.Load(),
		Suppressed: p.suppressed.Load(),
	}
}

// Audio returns a copy of the forwarded PCM16 audio at 16 kHz mono. It is
// empty unless [Config.KeepAudio] is set.
func (p *Pipeline) Audio() []byte {
	p.keepMu.Lock()
	defer p.keepMu.Unlock()
	out := make([]byte, len(p.kept))
	copy(out, p.kept)
	return out
}

// onSamples is the device callback. It runs on the backend's audio thread.
func (p *Pipeline) onSamples(in []float32) {
	n := len(in) / p.cfg.Channels
	offset := p.samples.Add(int64(n)) - int64(n)

	if !p.forwarding.Load() {
		p.suppressed.Add(1)
		return
	}

	mono := audio.DownmixFloat(in, p.cfg.Channels)
	frame := p.conv.Convert(audio.EncodeFrame(mono, p.cfg.SampleRate))
	if len(frame.Data) == 0 {
		return
	}
	frame.Timestamp = time.Duration(offset) * time.Second / time.Duration(p.cfg.SampleRate)

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.frames <- frame:
		p.captured.Add(1)
		if p.cfg.KeepAudio {
			p.keepMu.Lock()
			p.kept = append(p.kept, frame.Data...)
			p.keepMu.Unlock()
		}
	default:
		p.dropped.Add(1)
	}
}

// permissionError classifies a device failure as a permission error unless it
// already carries a classification.
func permissionError(err error) error {
	if types.KindOf(err) != types.KindUnknown {
		return err
	}
	return types.NewError(types.KindPermissionDenied, "microphone unavailable", err)
}
