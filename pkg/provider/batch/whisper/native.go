// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/batch"
)

var _ batch.Provider = (*NativeProvider)(nil)

// NativeProvider implements [batch.Provider] using whisper.cpp in-process.
// The model is loaded once and shared; every call gets its own context.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language for requests that carry
// none. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Name implements [batch.Provider].
func (p *NativeProvider) Name() string { return "whisper-native" }

// Transcribe implements [batch.Provider]. Only WAV input is accepted; it is
// downmixed and resampled to the 16 kHz mono whisper.cpp expects.
func (p *NativeProvider) Transcribe(ctx context.Context, req batch.Request) (string, error) {
	_, span := observe.StartSpan(ctx, "batch.whisper_native.transcribe")
	defer span.End()

	if !isWAV(req.ContentType) {
		return "", fmt.Errorf("whisper: unsupported content type %q", req.ContentType)
	}
	samples, err := loadSamples(req.Audio)
	if err != nil {
		return "", err
	}
	if silent(samples) {
		return batch.NoSpeechSentinel, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	text, err := p.infer(samples, lang)
	if err != nil {
		return "", err
	}
	return batch.Normalize(text), nil
}

// loadSamples decodes a WAV recording to 16 kHz mono float samples.
func loadSamples(wav []byte) ([]float32, error) {
	samples, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if rate != audio.LiveSampleRate {
		pcm := audio.ResampleMono16(audio.EncodePCM16(samples), rate, audio.LiveSampleRate)
		samples = audio.DecodePCM16(pcm)
	}
	return samples, nil
}

// infer runs whisper.cpp on a fresh context and joins the segment texts.
func (p *NativeProvider) infer(samples []float32, lang string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" && text != "[BLANK_AUDIO]" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
