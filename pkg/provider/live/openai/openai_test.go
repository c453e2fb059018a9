package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/live"
	"github.com/MrWong99/livescribe/pkg/provider/live/openai"
	"github.com/MrWong99/livescribe/pkg/types"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// handshake plays the server side of session setup and returns the update.
func handshake(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	writeJSON(t, conn, map[string]any{"type": "transcription_session.created"})
	var update map[string]any
	readJSON(t, conn, &update)
	writeJSON(t, conn, map[string]any{"type": "transcription_session.updated"})
	return update
}

func dial(t *testing.T, srv *httptest.Server) live.Conn {
	t.Helper()
	p, err := openai.New("sk-test", openai.WithBaseURL(wsURL(srv)), openai.WithModel("whisper-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := p.Dial(ctx, live.Config{Language: "de", SampleRate: 16000})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestNew_MissingCredential(t *testing.T) {
	t.Parallel()

	if _, err := openai.New(""); !errors.Is(err, types.ErrCredentialMissing) {
		t.Fatalf("New(\"\") err = %v, want ErrCredentialMissing", err)
	}
}

func TestDial_SessionUpdate(t *testing.T) {
	t.Parallel()

	headers := make(chan http.Header, 1)
	updates := make(chan map[string]any, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		h := r.Header.Clone()
		h.Set("X-Intent", r.URL.Query().Get("intent"))
		headers <- h
		updates <- handshake(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})
	dial(t, srv)

	h := <-headers
	if got := h.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got)
	}
	if got := h.Get("X-Intent"); got != "transcription" {
		t.Errorf("intent = %q, want transcription", got)
	}

	update := <-updates
	if update["type"] != "transcription_session.update" {
		t.Errorf("type = %v", update["type"])
	}
	sess, _ := update["session"].(map[string]any)
	tr, _ := sess["input_audio_transcription"].(map[string]any)
	if tr["model"] != "whisper-1" || tr["language"] != "de" {
		t.Errorf("input_audio_transcription = %v", tr)
	}
	if sess["input_audio_format"] != "pcm16" {
		t.Errorf("input_audio_format = %v", sess["input_audio_format"])
	}
}

func TestDial_ErrorEvent(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)
		writeJSON(t, conn, map[string]any{
			"type":  "error",
			"error": map[string]any{"message": "invalid model"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})
	p, _ := openai.New("sk-test", openai.WithBaseURL(wsURL(srv)))
	_, err := p.Dial(context.Background(), live.Config{SampleRate: 16000})
	if err == nil || !strings.Contains(err.Error(), "invalid model") {
		t.Fatalf("Dial err = %v, want invalid model", err)
	}
}

func TestSendFrame_ResamplesTo24k(t *testing.T) {
	t.Parallel()

	appended := make(chan map[string]any, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		var msg map[string]any
		readJSON(t, conn, &msg)
		appended <- msg
		<-conn.CloseRead(context.Background()).Done()
	})
	conn := dial(t, srv)

	frame := audio.EncodeFrame(make([]float32, 320), audio.LiveSampleRate) // 20 ms
	if err := conn.SendFrame(context.Background(), frame); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}

	msg := <-appended
	if msg["type"] != "input_audio_buffer.append" {
		t.Fatalf("type = %v", msg["type"])
	}
	raw, err := base64.StdEncoding.DecodeString(msg["audio"].(string))
	if err != nil {
		t.Fatalf("decode audio: %v", err)
	}
	if got, want := len(raw), 480*2; got != want {
		t.Errorf("payload = %d bytes, want %d (20 ms at 24 kHz)", got, want)
	}
}

func TestDeltas_OnlyInputTranscription(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		writeJSON(t, conn, map[string]any{"type": "conversation.item.input_audio_transcription.delta", "delta": "Guten"})
		writeJSON(t, conn, map[string]any{"type": "conversation.item.input_audio_transcription.completed", "transcript": "Guten Tag"})
		writeJSON(t, conn, map[string]any{"type": "conversation.item.input_audio_transcription.delta", "delta": " Tag"})
		<-conn.CloseRead(context.Background()).Done()
	})
	conn := dial(t, srv)

	var got []string
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case d := <-conn.Deltas():
			got = append(got, d)
		case <-timeout:
			t.Fatalf("timeout; got %v", got)
		}
	}
	if got[0] != "Guten" || got[1] != " Tag" {
		t.Errorf("deltas = %q, want [Guten  Tag]", got)
	}
}

func TestErrorEventAfterOpen_EndsSession(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		writeJSON(t, conn, map[string]any{"type": "error", "error": map[string]any{"message": "quota exceeded"}})
		<-conn.CloseRead(context.Background()).Done()
	})
	conn := dial(t, srv)

	select {
	case _, ok := <-conn.Deltas():
		if ok {
			t.Fatal("unexpected delta")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Deltas not closed after error event")
	}
	if err := conn.Err(); err == nil || !strings.Contains(err.Error(), "quota") {
		t.Errorf("Err() = %v, want quota error", err)
	}
}
