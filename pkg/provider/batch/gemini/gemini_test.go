package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/livescribe/pkg/provider/batch"
	"github.com/MrWong99/livescribe/pkg/provider/batch/gemini"
	"github.com/MrWong99/livescribe/pkg/types"
)

// generateRequest is the subset of the generateContent body the tests inspect.
type generateRequest struct {
	Contents []struct {
		Parts []struct {
			Text       string `json:"text"`
			InlineData *struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"inlineData"`
		} `json:"parts"`
	} `json:"contents"`
	SystemInstruction *struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"systemInstruction"`
}

// startServer answers generateContent calls with reply and records the last
// request body and path.
func startServer(t *testing.T, reply string) (*httptest.Server, func() (string, generateRequest)) {
	t.Helper()
	var (
		mu   sync.Mutex
		path string
		body generateRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		mu.Lock()
		path = r.URL.Path
		err := json.NewDecoder(r.Body).Decode(&body)
		mu.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": reply}},
				},
				"finishReason": "STOP",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, func() (string, generateRequest) {
		mu.Lock()
		defer mu.Unlock()
		return path, body
	}
}

func TestNew_MissingCredential(t *testing.T) {
	t.Parallel()
	_, err := gemini.New(context.Background(), "")
	if !errors.Is(err, types.ErrCredentialMissing) {
		t.Fatalf("New(\"\") = %v, want ErrCredentialMissing", err)
	}
}

func TestTranscribe_SendsAudioInline(t *testing.T) {
	t.Parallel()
	srv, last := startServer(t, "hello world\n")

	p, err := gemini.New(context.Background(), "test-key", gemini.WithBaseURL(srv.URL), gemini.WithModel("gemini-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "gemini" {
		t.Errorf("Name = %q, want gemini", p.Name())
	}

	audio := []byte("RIFF....WAVE")
	text, err := p.Transcribe(context.Background(), batch.Request{Audio: audio, ContentType: "audio/wav", Language: "fr"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q, want %q", text, "hello world")
	}

	path, req := last()
	if !strings.Contains(path, "models/gemini-test") {
		t.Errorf("path = %q, want model gemini-test", path)
	}
	var found bool
	for _, c := range req.Contents {
		for _, part := range c.Parts {
			if part.InlineData == nil {
				continue
			}
			found = true
			if part.InlineData.MIMEType != "audio/wav" {
				t.Errorf("mimeType = %q, want audio/wav", part.InlineData.MIMEType)
			}
			if got, _ := base64.StdEncoding.DecodeString(part.InlineData.Data); string(got) != string(audio) {
				t.Errorf("inline data = %q, want %q", got, audio)
			}
		}
	}
	if !found {
		t.Error("request carries no inline audio")
	}
	if req.SystemInstruction == nil || len(req.SystemInstruction.Parts) == 0 ||
		!strings.Contains(req.SystemInstruction.Parts[0].Text, `"fr"`) {
		t.Errorf("system instruction does not name the language: %+v", req.SystemInstruction)
	}
}

func TestTranscribe_SilenceYieldsSentinel(t *testing.T) {
	t.Parallel()
	srv, _ := startServer(t, "  ")

	p, err := gemini.New(context.Background(), "test-key", gemini.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := p.Transcribe(context.Background(), batch.Request{Audio: []byte{0, 0}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != batch.NoSpeechSentinel {
		t.Errorf("text = %q, want %q", text, batch.NoSpeechSentinel)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad audio","status":"INVALID_ARGUMENT"}}`))
	}))
	t.Cleanup(srv.Close)

	p, err := gemini.New(context.Background(), "test-key", gemini.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), batch.Request{Audio: []byte{1}}); err == nil {
		t.Fatal("expected error for HTTP 400")
	}
}
