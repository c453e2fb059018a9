package audio

import (
	"context"
)

// DeviceConfig describes the stream a caller wants from an input device.
type DeviceConfig struct {
	// SampleRate in Hz. The device may not support every rate; 16000 is
	// requested on the live path and the capture pipeline converts otherwise.
	SampleRate int

	// Channels is the number of interleaved input channels.
	Channels int

	// FramesPerBuffer is the number of samples per channel delivered to each
	// sampling callback. Zero lets the backend choose.
	FramesPerBuffer int
}

// Device is an opened, exclusive handle on an input device.
//
// Start begins invoking the sampling callback that was passed to
// [Opener.Open]. Stop halts it; no callback runs after Stop returns.
// Close releases the device and must be safe to call after Stop.
type Device interface {
	Start() error
	Stop() error
	Close() error
}

// Opener opens input devices. Implementations live in backend packages such
// as audio/portaudio; tests use audio/mock.
//
// onSamples is invoked from the backend's audio thread with interleaved float
// samples in [-1, 1]. The slice is only valid for the duration of the call and
// the callback must not block.
//
// A device that is refused, missing, or already held must be reported as an
// error wrapping [types.ErrPermissionDenied].
type Opener interface {
	Open(ctx context.Context, cfg DeviceConfig, onSamples func([]float32)) (Device, error)
}
