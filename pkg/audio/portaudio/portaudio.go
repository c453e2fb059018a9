// Package portaudio opens the default system microphone through PortAudio.
//
// It requires the PortAudio C library at build and run time. The package
// reference-counts [portaudio.Initialize] so that several opened devices can
// coexist; the library is terminated when the last device closes.
package portaudio

import (
	"context"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/types"
)

// Opener implements [audio.Opener] for the default input device.
type Opener struct{}

// New returns an Opener for the default input device.
func New() *Opener {
	return &Opener{}
}

var (
	initMu   sync.Mutex
	initRefs int
)

func acquireLib() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := pa.Initialize(); err != nil {
			return err
		}
	}
	initRefs++
	return nil
}

func releaseLib() {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		return
	}
	initRefs--
	if initRefs == 0 {
		_ = pa.Terminate()
	}
}

// Open implements [audio.Opener]. onSamples receives interleaved float32
// samples straight from the PortAudio callback thread.
func (o *Opener) Open(ctx context.Context, cfg audio.DeviceConfig, onSamples func([]float32)) (audio.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := acquireLib(); err != nil {
		return nil, types.NewError(types.KindPermissionDenied, "audio subsystem unavailable", err)
	}

	callback := func(in []float32) {
		onSamples(in)
	}
	stream, err := pa.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FramesPerBuffer, callback)
	if err != nil {
		releaseLib()
		return nil, types.NewError(types.KindPermissionDenied, "microphone access refused",
			fmt.Errorf("open default input %dHz/%dch: %w", cfg.SampleRate, cfg.Channels, err))
	}
	return &device{stream: stream}, nil
}

// device wraps a PortAudio stream.
type device struct {
	mu     sync.Mutex
	stream *pa.Stream
	closed bool
}

func (d *device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("portaudio: start: device closed")
	}
	return d.stream.Start()
}

// Stop blocks until the callback thread has finished.
func (d *device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	return d.stream.Stop()
}

func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.stream.Close()
	releaseLib()
	return err
}

var (
	_ audio.Opener = (*Opener)(nil)
	_ audio.Device = (*device)(nil)
)
