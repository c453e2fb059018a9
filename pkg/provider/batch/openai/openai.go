// Package openai implements [batch.Provider] with the OpenAI audio
// transcriptions endpoint.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/provider/batch"
	"github.com/MrWong99/livescribe/pkg/types"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = oai.AudioModelGPT4oTranscribe

var _ batch.Provider = (*Provider)(nil)

// Provider transcribes recordings through the OpenAI API.
type Provider struct {
	client oai.Client
	model  oai.AudioModel
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Provider. If model is empty, [DefaultModel] is used. An
// empty apiKey returns an error wrapping [types.ErrCredentialMissing].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, types.NewError(types.KindCredentialMissing, "openai api key missing", nil)
	}
	if model == "" {
		model = string(DefaultModel)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: oai.AudioModel(model)}, nil
}

// Name implements [batch.Provider].
func (p *Provider) Name() string { return "openai" }

// Model returns the configured transcription model.
func (p *Provider) Model() string { return string(p.model) }

// Transcribe implements [batch.Provider].
func (p *Provider) Transcribe(ctx context.Context, req batch.Request) (string, error) {
	ctx, span := observe.StartSpan(ctx, "batch.openai.transcribe")
	defer span.End()

	contentType := req.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}
	params := oai.AudioTranscriptionNewParams{
		File:        oai.File(bytes.NewReader(req.Audio), "audio"+extension(contentType), contentType),
		Model:       p.model,
		Temperature: oai.Float(0),
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai batch: transcribe: %w", err)
	}
	return batch.Normalize(resp.Text), nil
}

// extension returns a file extension for contentType, defaulting to .wav.
func extension(contentType string) string {
	switch contentType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".wav"
}
