package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/livescribe/internal/resilience"
	"github.com/MrWong99/livescribe/pkg/provider/batch"
	"github.com/MrWong99/livescribe/pkg/provider/batch/mock"
)

func TestBatchFallback_PrimaryAnswers(t *testing.T) {
	t.Parallel()
	primary := &mock.Provider{ProviderName: "gemini", Text: "hello"}
	secondary := &mock.Provider{ProviderName: "whisper", Text: "other"}

	f := resilience.NewBatchFallback(primary, resilience.FallbackConfig{}, nil)
	f.AddFallback(secondary)

	text, err := f.Transcribe(context.Background(), batch.Request{Audio: []byte{1}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q, want hello", text)
	}
	if secondary.CallCount() != 0 {
		t.Error("fallback called although primary succeeded")
	}
}

func TestBatchFallback_FailsOver(t *testing.T) {
	t.Parallel()
	primary := &mock.Provider{ProviderName: "gemini", Err: errors.New("quota exceeded")}
	secondary := &mock.Provider{ProviderName: "whisper", Text: "from whisper"}

	f := resilience.NewBatchFallback(primary, resilience.FallbackConfig{}, nil)
	f.AddFallback(secondary)

	text, err := f.Transcribe(context.Background(), batch.Request{Audio: []byte{1}, Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "from whisper" {
		t.Errorf("text = %q", text)
	}
	if got := secondary.Calls[0].Language; got != "en" {
		t.Errorf("fallback language = %q, want en", got)
	}
}

func TestBatchFallback_ContractViolationFailsOver(t *testing.T) {
	t.Parallel()
	primary := &mock.Provider{ProviderName: "chatty", Text: "Sure, here is the transcription: hi"}
	secondary := &mock.Provider{ProviderName: "whisper", Text: "hi"}

	f := resilience.NewBatchFallback(primary, resilience.FallbackConfig{}, nil)
	f.AddFallback(secondary)

	text, err := f.Transcribe(context.Background(), batch.Request{Audio: []byte{1}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hi" {
		t.Errorf("text = %q, want hi", text)
	}
}

func TestBatchFallback_SilenceIsAValidAnswer(t *testing.T) {
	t.Parallel()
	primary := &mock.Provider{ProviderName: "gemini"}
	f := resilience.NewBatchFallback(primary, resilience.FallbackConfig{}, nil)

	text, err := f.Transcribe(context.Background(), batch.Request{Audio: []byte{0}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != batch.NoSpeechSentinel {
		t.Errorf("text = %q, want %q", text, batch.NoSpeechSentinel)
	}
}

func TestBatchFallback_AllFail(t *testing.T) {
	t.Parallel()
	f := resilience.NewBatchFallback(&mock.Provider{Err: errors.New("down")}, resilience.FallbackConfig{}, nil)
	_, err := f.Transcribe(context.Background(), batch.Request{})
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if f.Name() != "fallback" {
		t.Errorf("Name = %q", f.Name())
	}
	if h := f.Health(); len(h) != 1 || h[0].Name != "mock" {
		t.Errorf("Health = %+v", h)
	}
}
