// Package session manages the lifecycle of one live transcription session.
//
// A [Manager] walks Idle → Connecting → Open → Closing → Closed, with Failed
// reachable from Connecting (the dial or handshake failed) and from Open (the
// transport broke or the service closed the session). It never reconnects:
// every failure is reported once through [Handlers.OnError] as a
// [types.ErrConnectionFailure] and the manager stays Failed.
//
// Frames flow in through [Manager.Forward] (or [Manager.SendFrame]) and are
// dropped silently unless the session is Open. Transcript deltas flow out
// through [Manager.Deltas] verbatim and in receipt order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/live"
	"github.com/MrWong99/livescribe/pkg/types"
)

// Reasons reported through [Handlers.OnError].
const (
	ReasonConnectFailed = "failed to connect"
	ReasonInterrupted   = "connection interrupted"
)

// defaultDialTimeout bounds dial plus handshake.
const defaultDialTimeout = 15 * time.Second

// ErrNotIdle is returned by [Manager.Connect] when the manager has already
// been used. A Manager serves exactly one session.
var ErrNotIdle = errors.New("session: manager is not idle")

// State is the connection state of a [Manager].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s is Closed or Failed.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Handlers are the lifecycle callbacks of a [Manager]. They are invoked from
// the manager's goroutines, never while the manager holds its lock, and at
// most once each. Either may be nil.
type Handlers struct {
	// OnOpen fires when the service acknowledged the session.
	OnOpen func()

	// OnError fires when the session could not be opened or was lost. The
	// error wraps [types.ErrConnectionFailure].
	OnError func(error)
}

// Config configures one live session.
type Config struct {
	// Language hint passed to the service.
	Language string

	// SampleRate of outgoing frames. Defaults to [audio.LiveSampleRate].
	SampleRate int

	// DialTimeout bounds dial plus handshake. Defaults to 15s.
	DialTimeout time.Duration
}

// Option is a functional option for [New].
type Option func(*Manager)

// WithMetrics records session metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(mg *Manager) { mg.metrics = m }
}

// Manager owns one live session. All methods are safe for concurrent use.
type Manager struct {
	provider live.Provider
	handlers Handlers
	metrics  *observe.Metrics

	deltas     chan string
	closeOnce  sync.Once
	dialDone   chan struct{}
	createdAt  time.Time
	dropped    atomic.Uint64
	sent       atomic.Uint64
	dropLogged atomic.Bool

	mu         sync.Mutex
	state      State
	conn       live.Conn
	cancelDial context.CancelFunc
	sendErr    error
}

// New creates an idle Manager that will dial through provider.
func New(provider live.Provider, h Handlers, opts ...Option) *Manager {
	m := &Manager{
		provider: provider,
		handlers: h,
		deltas:   make(chan string, 64),
		dialDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CreatedAt returns the time Connect was called, or the zero time.
func (m *Manager) CreatedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createdAt
}

// Dropped returns how many frames were discarded because the session was not
// open.
func (m *Manager) Dropped() uint64 { return m.dropped.Load() }

// Sent returns how many frames were written to the session.
func (m *Manager) Sent() uint64 { return m.sent.Load() }

// Deltas returns the transcript delta channel. It is closed once the session
// reaches a terminal state and every received delta has been delivered.
func (m *Manager) Deltas() <-chan string { return m.deltas }

// Connect moves Idle → Connecting and dials in the background. It returns
// immediately; the outcome is reported through the handlers.
func (m *Manager) Connect(ctx context.Context, cfg Config) error {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.LiveSampleRate
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	m.state = StateConnecting
	m.cancelDial = cancel
	m.createdAt = time.Now()
	m.mu.Unlock()

	go m.dial(dialCtx, cfg)
	return nil
}

// dial runs the handshake and, on success, the delta pump.
func (m *Manager) dial(ctx context.Context, cfg Config) {
	ctx, span := observe.StartSpan(ctx, "session.connect")
	span.SetAttributes(observe.Attr("provider", m.provider.Name()))
	start := time.Now()
	conn, err := m.provider.Dial(ctx, live.Config{
		Language:   cfg.Language,
		SampleRate: cfg.SampleRate,
	})
	observe.EndSpan(span, err)

	m.mu.Lock()
	m.cancelDial()
	if m.state != StateConnecting {
		// Closed while dialling.
		m.state = StateClosed
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		close(m.dialDone)
		m.closeDeltas()
		return
	}
	if err != nil {
		m.state = StateFailed
		m.mu.Unlock()
		close(m.dialDone)
		m.closeDeltas()

		observe.Logger(ctx).Warn("live session failed to connect", "provider", m.provider.Name(), "err", err)
		if m.metrics != nil {
			m.metrics.RecordProviderError(ctx, m.provider.Name(), "live")
		}
		m.notifyError(types.NewError(types.KindConnectionFailure, ReasonConnectFailed, err))
		return
	}
	m.state = StateOpen
	m.conn = conn
	m.mu.Unlock()
	close(m.dialDone)

	slog.Info("live session open", "provider", m.provider.Name(), "latency", time.Since(start))
	if m.metrics != nil {
		bg := context.Background()
		m.metrics.SessionConnectDuration.Record(bg, time.Since(start).Seconds())
		m.metrics.ActiveSessions.Add(bg, 1)
	}

	go m.pump(conn)
	if m.handlers.OnOpen != nil {
		m.handlers.OnOpen()
	}
}

// pump copies deltas from the connection until it ends, then settles the
// terminal state.
func (m *Manager) pump(conn live.Conn) {
	bg := context.Background()
	for d := range conn.Deltas() {
		m.deltas <- d
		if m.metrics != nil {
			m.metrics.TranscriptDeltas.Add(bg, 1)
		}
	}
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(bg, -1)
	}

	m.mu.Lock()
	var cause error
	notify := false
	switch m.state {
	case StateOpen:
		cause = conn.Err()
		m.state = StateFailed
		notify = true
	case StateFailed:
		cause = m.sendErr
		notify = true
	default:
		m.state = StateClosed
	}
	m.mu.Unlock()

	m.closeDeltas()
	if notify {
		if cause == nil {
			cause = errors.New("session ended by service")
		}
		slog.Warn("live session interrupted", "provider", m.provider.Name(), "err", cause)
		if m.metrics != nil {
			m.metrics.RecordProviderError(bg, m.provider.Name(), "live")
		}
		_ = conn.Close()
		m.notifyError(types.NewError(types.KindConnectionFailure, ReasonInterrupted, cause))
	}
}

// SendFrame writes one frame if the session is Open and silently drops it
// otherwise. A write failure marks the session Failed.
func (m *Manager) SendFrame(ctx context.Context, frame audio.AudioFrame) {
	m.mu.Lock()
	if m.state != StateOpen {
		m.mu.Unlock()
		m.drop()
		return
	}
	conn := m.conn
	m.mu.Unlock()

	err := conn.SendFrame(ctx, frame)
	switch {
	case err == nil:
		m.sent.Add(1)
		if m.metrics != nil {
			m.metrics.FramesSent.Add(ctx, 1)
		}
	case errors.Is(err, live.ErrClosed), ctx.Err() != nil:
		m.drop()
	default:
		m.mu.Lock()
		if m.state == StateOpen {
			m.state = StateFailed
			m.sendErr = err
		}
		m.mu.Unlock()
		m.drop()
		// Unblocks the pump, which reports the failure.
		_ = conn.Close()
	}
}

// Forward sends every frame from frames in order until the channel closes or
// ctx is done. It is the session's single writer.
func (m *Manager) Forward(ctx context.Context, frames <-chan audio.AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			m.SendFrame(ctx, f)
		}
	}
}

// Close moves any non-terminal state to Closed. It cancels an in-flight dial
// and waits for it to return, so no connection outlives Close. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	switch m.state {
	case StateIdle:
		m.state = StateClosed
		m.mu.Unlock()
		m.closeDeltas()
		return
	case StateConnecting:
		m.state = StateClosing
		cancel := m.cancelDial
		m.mu.Unlock()
		cancel()
		<-m.dialDone
		return
	case StateOpen:
		m.state = StateClosing
		conn := m.conn
		m.mu.Unlock()
		_ = conn.Close()
		return
	default:
		m.mu.Unlock()
	}
}

func (m *Manager) drop() {
	m.dropped.Add(1)
	if m.metrics != nil {
		m.metrics.RecordFramesDropped(context.Background(), "session", 1)
	}
	if m.dropLogged.CompareAndSwap(false, true) {
		slog.Debug("live session not open, dropping frames")
	}
}

func (m *Manager) closeDeltas() {
	m.closeOnce.Do(func() { close(m.deltas) })
}

func (m *Manager) notifyError(err error) {
	if m.handlers.OnError != nil {
		m.handlers.OnError(err)
	}
}
