// Package whisper implements [batch.Provider] on whisper.cpp.
//
// Two backends are provided. [Provider] talks to a running whisper-server
// binary over its REST API (POST /inference, multipart/form-data).
// [NativeProvider] links whisper.cpp through its CGO bindings and runs
// inference in-process.
//
// Both backends decode WAV input to check its energy first: a recording whose
// RMS stays below the silence threshold is answered with
// [batch.NoSpeechSentinel] without running inference.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/batch"
)

const (
	// defaultRMSThreshold is the RMS energy, in 16-bit PCM units, below which
	// a recording is treated as silent. 300 of 32767 is near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage = "en"
	defaultTimeout  = 60 * time.Second
)

var _ batch.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses the model it was
// started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language for requests that carry none.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithHTTPClient replaces the HTTP client. The default has a 60s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements [batch.Provider] backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL (e.g.,
// "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements [batch.Provider].
func (p *Provider) Name() string { return "whisper" }

// Transcribe implements [batch.Provider].
func (p *Provider) Transcribe(ctx context.Context, req batch.Request) (string, error) {
	ctx, span := observe.StartSpan(ctx, "batch.whisper.transcribe")
	defer span.End()

	if isWAV(req.ContentType) {
		samples, _, err := audio.DecodeWAV(req.Audio)
		if err != nil {
			return "", fmt.Errorf("whisper: %w", err)
		}
		if silent(samples) {
			return batch.NoSpeechSentinel, nil
		}
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	text, err := p.infer(ctx, req.Audio, lang)
	if err != nil {
		return "", err
	}
	return batch.Normalize(text), nil
}

// infer POSTs wav to the /inference endpoint as multipart/form-data and
// returns the transcribed text.
func (p *Provider) infer(ctx context.Context, wav []byte, lang string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := map[string]string{
		"language":        lang,
		"model":           p.model,
		"response_format": "json",
		"temperature":     "0",
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// ---- helpers ----------------------------------------------------------------

func isWAV(contentType string) bool {
	switch strings.ToLower(contentType) {
	case "", "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return true
	}
	return false
}

// computeRMS returns the root-mean-square energy of samples in 16-bit PCM
// units (0–32767).
func computeRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) * 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func silent(samples []float32) bool {
	return computeRMS(samples) < defaultRMSThreshold
}
