// Package mock provides a test double for [batch.Provider].
//
//	p := &mock.Provider{Text: "hello"}
//	text, _ := p.Transcribe(ctx, batch.Request{Audio: wav})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livescribe/pkg/provider/batch"
)

// Provider is a mock implementation of [batch.Provider]. It is safe for
// concurrent use.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Text is returned by Transcribe. An empty Text yields
	// [batch.NoSpeechSentinel].
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Calls records every request passed to Transcribe.
	Calls []batch.Request
}

// Transcribe records req and returns Text or Err.
func (p *Provider) Transcribe(ctx context.Context, req batch.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.Err != nil {
		return "", p.Err
	}
	return batch.Normalize(p.Text), nil
}

// Name implements [batch.Provider].
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ batch.Provider = (*Provider)(nil)
