// Package gemini implements the live.Provider interface for Google's Gemini
// Live API.
//
// It opens a bidirectional WebSocket to the BidiGenerateContent endpoint,
// configures the session for text-only responses with input audio
// transcription enabled, and surfaces serverContent.inputTranscription text as
// transcript deltas. Model turns are ignored: the session is listen-only.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/live"
	"github.com/MrWong99/livescribe/pkg/types"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Conn = (*session)(nil)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	deltaBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Gemini Live Provider. An empty apiKey yields an error
// wrapping [types.ErrCredentialMissing].
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", types.ErrCredentialMissing)
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
func (p *Provider) Name() string { return "gemini" }

// Dial establishes a new Gemini Live session and waits for setupComplete.
func (p *Provider) Dial(ctx context.Context, cfg live.Config) (live.Conn, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, url.QueryEscape(p.apiKey),
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		deltas: make(chan string, deltaBuffer),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.writeJSON(ctx, newSetupMessage(p.model, cfg)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	if err := sess.awaitSetupComplete(ctx); err != nil {
		sessCancel()
		conn.Close(websocket.StatusNormalClosure, "setup aborted")
		return nil, err
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                   string             `json:"model"`
	GenerationConfig        generationConfig   `json:"generationConfig"`
	SystemInstruction       *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription *struct{}          `json:"inputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

func newSetupMessage(model string, cfg live.Config) setupMessage {
	return setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"TEXT"},
			},
			SystemInstruction: &systemInstruction{
				Parts: []part{{Text: live.InstructionFor(cfg)}},
			},
			InputAudioTranscription: &struct{}{},
		},
	}
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) err() error {
	msg := "unknown error"
	if e.Message != "" {
		msg = e.Message
	}
	return fmt.Errorf("gemini: server error %d: %s", e.Code, msg)
}

type serverContent struct {
	TurnComplete       bool           `json:"turnComplete,omitempty"`
	InputTranscription *transcription `json:"inputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	deltas chan string

	mu     sync.Mutex
	errVal error
	done   chan struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// awaitSetupComplete reads until the server acknowledges the setup message.
func (s *session) awaitSetupComplete(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("gemini: await setup: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return msg.Error.err()
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// receiveLoop reads messages from the WebSocket and forwards transcription
// text. It owns deltas and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.deltas)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// If the session context was cancelled, exit cleanly.
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(fmt.Errorf("gemini: read: %w", err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		if msg.Error != nil {
			s.setErr(msg.Error.err())
			return
		}
		if msg.GoAway != nil {
			slog.Debug("gemini: server announced disconnect")
		}
		if sc := msg.ServerContent; sc != nil && sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			select {
			case s.deltas <- sc.InputTranscription.Text:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
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

// SendFrame delivers one PCM16 frame as a realtimeInput media chunk.
func (s *session) SendFrame(ctx context.Context, frame audio.AudioFrame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return live.ErrClosed
	}
	s.mu.Unlock()

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: audio.MIMEType(frame.SampleRate), Data: audio.TransportText(frame)},
			},
		},
	}
	if err := s.writeJSON(ctx, msg); err != nil {
		if s.ctx.Err() != nil {
			return live.ErrClosed
		}
		return err
	}
	return nil
}

// Deltas returns the channel on which transcription text arrives.
func (s *session) Deltas() <-chan string { return s.deltas }

// Err returns the first error that terminated the session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
