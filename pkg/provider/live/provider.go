// Package live defines the Provider interface for real-time transcription
// backends.
//
// A live provider wraps a remote service that accepts a stream of PCM16 audio
// frames over one persistent duplex session and answers with incremental
// transcript deltas. The service is asked to listen only: it must never
// produce spoken or conversational replies, only the transcription of what it
// hears.
//
// Sessions are opened with [Provider.Dial], which returns only after the
// remote side has acknowledged the session configuration. The returned [Conn]
// is the hot path of the live recording pipeline; every method must return
// quickly.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// ErrClosed is returned by [Conn.SendFrame] after the session has ended.
var ErrClosed = errors.New("live: session closed")

// Config is the configuration for one live session.
type Config struct {
	// Language is a BCP-47 tag hinting the spoken language, e.g. "en" or
	// "de-DE". Empty lets the service detect it.
	Language string

	// SampleRate of the frames the caller will send. Always 16000 on the live
	// path; providers that need another rate convert internally.
	SampleRate int

	// Instructions overrides the listen-only system instruction. Empty uses
	// [ListenOnlyInstruction].
	Instructions string
}

// Conn is an acknowledged live transcription session.
//
// Callers must call Close when the session is no longer needed.
type Conn interface {
	// SendFrame delivers one audio frame. Frames must be sent in capture order
	// and must not be sent concurrently from multiple goroutines. Returns
	// [ErrClosed] once the session has ended.
	SendFrame(ctx context.Context, frame audio.AudioFrame) error

	// Deltas returns the channel on which transcript deltas arrive, verbatim
	// and in receipt order. It is closed when the session ends, whether by
	// Close, a transport error, or a close initiated by the service.
	Deltas() <-chan string

	// Err returns the error that ended the session, or nil if it is still
	// running or was closed locally via Close.
	Err() error

	// Close terminates the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any live transcription backend.
type Provider interface {
	// Dial opens a session and blocks until the service acknowledges it or ctx
	// is done. The caller owns the returned Conn.
	Dial(ctx context.Context, cfg Config) (Conn, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// ListenOnlyInstruction returns the system instruction that restricts the
// service to transcription.
func ListenOnlyInstruction(language string) string {
	lang := "the spoken language"
	if language != "" {
		lang = fmt.Sprintf("%q", language)
	}
	return "You are a transcription service. Only listen and transcribe the user's speech in " +
		lang + ". Never reply, never answer questions, never produce spoken output. " +
		"If there is nothing to transcribe, stay silent."
}

// InstructionFor returns cfg.Instructions or the listen-only default.
func InstructionFor(cfg Config) string {
	if cfg.Instructions != "" {
		return cfg.Instructions
	}
	return ListenOnlyInstruction(cfg.Language)
}
