// Package mock provides in-memory mock implementations of the [audio.Opener]
// and [audio.Device] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	opener := &mock.Opener{}
//	p := capture.New(opener, capture.Config{})
//	_ = p.Acquire(ctx)
//	opener.Device().Emit(make([]float32, 320)) // drives one sampling callback
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device]. Samples are pushed into
// the registered callback with [Device.Emit]; Emit is a no-op unless the device
// is started, mirroring a real backend that only calls back while running.
type Device struct {
	mu sync.Mutex

	onSamples func([]float32)
	started   bool
	closed    bool

	// StartError is returned by [Device.Start].
	StartError error

	// StopError is returned by [Device.Stop].
	StopError error

	// CloseError is returned by [Device.Close].
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Start implements [audio.Device].
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartError != nil {
		return d.StartError
	}
	d.started = true
	return nil
}

// Stop implements [audio.Device].
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	d.started = false
	return d.StopError
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.started = false
	d.closed = true
	return d.CloseError
}

// Emit invokes the sampling callback synchronously with samples. It reports
// whether the callback ran.
func (d *Device) Emit(samples []float32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started || d.onSamples == nil {
		return false
	}
	d.onSamples(samples)
	return true
}

// Closed reports whether Close has been called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Started reports whether the device is currently running.
func (d *Device) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// ─── Opener ───────────────────────────────────────────────────────────────────

// Opener is a mock implementation of [audio.Opener].
type Opener struct {
	mu sync.Mutex

	// OpenError is returned by [Opener.Open] when non-nil.
	OpenError error

	// DeviceResult is returned by [Opener.Open]. If nil, a fresh [Device] is
	// allocated on every call.
	DeviceResult *Device

	// OpenCalls records the config passed to each Open call.
	OpenCalls []audio.DeviceConfig

	last *Device
}

// Open implements [audio.Opener].
func (o *Opener) Open(_ context.Context, cfg audio.DeviceConfig, onSamples func([]float32)) (audio.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.OpenCalls = append(o.OpenCalls, cfg)
	if o.OpenError != nil {
		return nil, o.OpenError
	}
	dev := o.DeviceResult
	if dev == nil {
		dev = &Device{}
	}
	dev.mu.Lock()
	dev.onSamples = onSamples
	dev.started = false
	dev.closed = false
	dev.mu.Unlock()
	o.last = dev
	return dev, nil
}

// Device returns the device handed out by the most recent successful Open,
// or nil.
func (o *Opener) Device() *Device {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// CallCountOpen returns how many times Open was called.
func (o *Opener) CallCountOpen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.OpenCalls)
}

var (
	_ audio.Opener = (*Opener)(nil)
	_ audio.Device = (*Device)(nil)
)
