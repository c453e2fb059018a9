package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/batch"
	"github.com/MrWong99/livescribe/pkg/provider/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	live  map[string]func(ProviderEntry) (live.Provider, error)
	batch map[string]func(ProviderEntry) (batch.Provider, error)
	audio map[string]func(AudioConfig) (audio.Opener, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:  make(map[string]func(ProviderEntry) (live.Provider, error)),
		batch: make(map[string]func(ProviderEntry) (batch.Provider, error)),
		audio: make(map[string]func(AudioConfig) (audio.Opener, error)),
	}
}

// RegisterLive registers a live transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterBatch registers a batch transcription provider factory under name.
func (r *Registry) RegisterBatch(name string, factory func(ProviderEntry) (batch.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batch[name] = factory
}

// RegisterAudio registers a capture device backend under name.
func (r *Registry) RegisterAudio(name string, factory func(AudioConfig) (audio.Opener, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateLive instantiates the live provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	r.mu.RLock()
	factory, ok := r.live[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateBatch instantiates the batch provider registered under entry.Name.
func (r *Registry) CreateBatch(entry ProviderEntry) (batch.Provider, error) {
	r.mu.RLock()
	factory, ok := r.batch[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: batch/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio instantiates the device backend registered under cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Opener, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}
