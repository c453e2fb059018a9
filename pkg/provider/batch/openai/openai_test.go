package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/livescribe/pkg/provider/batch"
	"github.com/MrWong99/livescribe/pkg/provider/batch/openai"
	"github.com/MrWong99/livescribe/pkg/types"
)

type upload struct {
	auth     string
	model    string
	language string
	filename string
	audio    []byte
}

func startServer(t *testing.T, reply string) (*httptest.Server, func() upload) {
	t.Helper()
	var (
		mu  sync.Mutex
		got upload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		_ = f.Close()

		mu.Lock()
		got = upload{
			auth:     r.Header.Get("Authorization"),
			model:    r.FormValue("model"),
			language: r.FormValue("language"),
			filename: hdr.Filename,
			audio:    data,
		}
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": reply})
	}))
	t.Cleanup(srv.Close)
	return srv, func() upload {
		mu.Lock()
		defer mu.Unlock()
		return got
	}
}

func TestNew_MissingCredential(t *testing.T) {
	t.Parallel()
	if _, err := openai.New("", ""); !errors.Is(err, types.ErrCredentialMissing) {
		t.Fatalf("New = %v, want ErrCredentialMissing", err)
	}
}

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()
	p, err := openai.New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Model() != string(openai.DefaultModel) {
		t.Errorf("Model = %q, want %q", p.Model(), openai.DefaultModel)
	}
}

func TestTranscribe_UploadsRecording(t *testing.T) {
	t.Parallel()
	srv, last := startServer(t, " Bonjour tout le monde. ")

	p, err := openai.New("sk-test", "whisper-1", openai.WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	audio := []byte("RIFF-fake-wav")
	text, err := p.Transcribe(context.Background(), batch.Request{Audio: audio, ContentType: "audio/wav", Language: "fr"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Bonjour tout le monde." {
		t.Errorf("text = %q", text)
	}

	got := last()
	if got.auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got.auth)
	}
	if got.model != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", got.model)
	}
	if got.language != "fr" {
		t.Errorf("language = %q, want fr", got.language)
	}
	if got.filename != "audio.wav" {
		t.Errorf("filename = %q, want audio.wav", got.filename)
	}
	if string(got.audio) != string(audio) {
		t.Errorf("audio = %q, want %q", got.audio, audio)
	}
}

func TestTranscribe_SilenceYieldsSentinel(t *testing.T) {
	t.Parallel()
	srv, _ := startServer(t, "")

	p, err := openai.New("sk-test", "", openai.WithBaseURL(srv.URL+"/"))
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
