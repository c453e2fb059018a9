// Package openai implements the live.Provider interface for OpenAI Realtime
// transcription sessions.
//
// A transcription session never generates model responses: the server runs
// voice activity detection over the appended audio buffer and emits
// conversation.item.input_audio_transcription.delta events, which surface as
// transcript deltas. The Realtime API expects 24 kHz PCM16, so 16 kHz frames
// are resampled before they are sent.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/live"
	"github.com/MrWong99/livescribe/pkg/types"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Conn = (*session)(nil)

const (
	defaultModel   = "gpt-4o-transcribe"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// realtimeSampleRate is the only PCM16 rate the Realtime API accepts.
	realtimeSampleRate = 24000

	deltaBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the transcription model, e.g. "gpt-4o-mini-transcribe" or
// "whisper-1".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI Realtime transcription.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime transcription Provider. An empty apiKey
// yields an error wrapping [types.ErrCredentialMissing].
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", types.ErrCredentialMissing)
	}
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements live.Provider.
func (p *Provider) Name() string { return "openai" }

// Dial opens a transcription session, sends transcription_session.update and
// waits for transcription_session.updated.
func (p *Provider) Dial(ctx context.Context, cfg live.Config) (live.Conn, error) {
	wsURL := fmt.Sprintf("%s?intent=transcription", p.baseURL)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		deltas: make(chan string, deltaBuffer),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	update := sessionUpdateMessage{
		Type: "transcription_session.update",
		Session: sessionParams{
			InputAudioFormat: "pcm16",
			InputAudioTranscription: transcriptionParams{
				Model:    p.model,
				Language: cfg.Language,
				Prompt:   live.InstructionFor(cfg),
			},
			TurnDetection: &turnDetection{Type: "server_vad"},
		},
	}
	if err := sess.writeJSON(ctx, update); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}
	if err := sess.awaitUpdated(ctx); err != nil {
		sessCancel()
		conn.Close(websocket.StatusNormalClosure, "setup aborted")
		return nil, err
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	InputAudioFormat        string              `json:"input_audio_format"`
	InputAudioTranscription transcriptionParams `json:"input_audio_transcription"`
	TurnDetection           *turnDetection      `json:"turn_detection,omitempty"`
}

type transcriptionParams struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16 at 24 kHz
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type  string             `json:"type"`
	Delta string             `json:"delta,omitempty"`
	Error *serverErrorDetail `json:"error,omitempty"`
}

func (e *serverEvent) err() error {
	msg := "unknown error"
	if e.Error != nil && e.Error.Message != "" {
		msg = e.Error.Message
	}
	return fmt.Errorf("openai: server error: %s", msg)
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	deltas chan string

	mu     sync.Mutex
	errVal error
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// awaitUpdated reads until the server confirms the session configuration.
// transcription_session.created arrives first and is skipped.
func (s *session) awaitUpdated(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("openai: await session: %w", err)
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "transcription_session.updated":
			return nil
		case "error":
			return evt.err()
		}
	}
}

// receiveLoop reads events and forwards transcription deltas. It owns deltas
// and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.deltas)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(fmt.Errorf("openai: read: %w", err))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		switch evt.Type {
		case "conversation.item.input_audio_transcription.delta":
			if evt.Delta == "" {
				continue
			}
			select {
			case s.deltas <- evt.Delta:
			case <-s.ctx.Done():
				return
			}
		case "error":
			s.setErr(evt.err())
			return
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil && !s.closed {
		s.errVal = err
	}
}

// ── Conn methods ───────────────────────────────────────────────────────────────

// SendFrame resamples the frame to 24 kHz and appends it to the input buffer.
func (s *session) SendFrame(ctx context.Context, frame audio.AudioFrame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return live.ErrClosed
	}
	s.mu.Unlock()

	pcm := audio.ResampleMono16(frame.Data, frame.SampleRate, realtimeSampleRate)
	msg := appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}
	if err := s.writeJSON(ctx, msg); err != nil {
		if s.ctx.Err() != nil {
			return live.ErrClosed
		}
		return err
	}
	return nil
}

// Deltas returns the channel on which transcription deltas arrive.
func (s *session) Deltas() <-chan string { return s.deltas }

// Err returns the first error that terminated the session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
