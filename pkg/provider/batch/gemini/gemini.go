// Package gemini implements [batch.Provider] with the Gemini generateContent
// API through the official google.golang.org/genai SDK.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/provider/batch"
	"github.com/MrWong99/livescribe/pkg/types"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

var _ batch.Provider = (*Provider)(nil)

// Provider transcribes recordings with a Gemini model.
type Provider struct {
	client *genai.Client
	model  string
}

type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for [New].
type Option func(*config)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New creates a Provider. An empty apiKey returns an error wrapping
// [types.ErrCredentialMissing].
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, types.NewError(types.KindCredentialMissing, "gemini api key missing", nil)
	}
	cfg := &config{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	if cfg.timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.timeout}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini batch: new client: %w", err)
	}
	return &Provider{client: client, model: cfg.model}, nil
}

// Name implements [batch.Provider].
func (p *Provider) Name() string { return "gemini" }

// Transcribe implements [batch.Provider].
func (p *Provider) Transcribe(ctx context.Context, req batch.Request) (string, error) {
	ctx, span := observe.StartSpan(ctx, "batch.gemini.transcribe")
	defer span.End()

	contentType := req.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText("Transcribe this recording."),
			genai.NewPartFromBytes(req.Audio, contentType),
		}, genai.RoleUser),
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(batch.Instruction(req.Language), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("gemini batch: generate content: %w", err)
	}
	return batch.Normalize(resp.Text()), nil
}
