package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/session"
	"github.com/MrWong99/livescribe/internal/transcript"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/audio/capture"
	"github.com/MrWong99/livescribe/pkg/provider/live"
	"github.com/MrWong99/livescribe/pkg/types"
)

const (
	// DefaultMaxDuration is used when [Config.MaxDuration] is zero.
	DefaultMaxDuration = 60 * time.Second

	// DefaultStopTimeout bounds how long a stop waits for in-flight deltas.
	DefaultStopTimeout = 2 * time.Second
)

var (
	// ErrBusy is returned by Start while a recording is active.
	ErrBusy = errors.New("recorder: recording already active")

	// ErrInvalidTransition is returned when a command is not valid in the
	// current state.
	ErrInvalidTransition = errors.New("recorder: invalid transition")

	// ErrStopped is returned once the event loop has exited.
	ErrStopped = errors.New("recorder: machine stopped")
)

// Config holds the recording parameters of a [Machine].
type Config struct {
	// Language is the target transcription language.
	Language string

	// MaxDuration is the initial recording limit. Negative disables the limit.
	MaxDuration time.Duration

	// Capture configures the microphone pipeline of every recording.
	Capture capture.Config

	// StopTimeout bounds the wait for the last deltas on stop.
	StopTimeout time.Duration

	// DialTimeout bounds the live session handshake.
	DialTimeout time.Duration
}

// Option is a functional option for [New].
type Option func(*Machine)

// WithMetrics records transitions, frame counters and recording durations to
// met.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Machine) { m.metrics = met }
}

// Machine executes [Transition] against real resources. All state is owned
// by the goroutine running [Machine.Run]; the other methods submit events to
// it and wait for the result.
type Machine struct {
	opener   audio.Opener
	provider live.Provider
	cfg      Config
	metrics  *observe.Metrics
	text     transcript.Accumulator

	events  chan request
	done    chan struct{}
	running atomic.Bool

	mu          sync.Mutex
	status      Status
	maxDuration time.Duration
	lastAudio   []byte
	subs        map[int]chan Status
	nextSub     int
	subsClosed  bool

	// Owned by the event loop.
	ctx context.Context
	cur Status
	gen uint64
	rec *recording
}

// recording holds the resources of one start..stop cycle.
type recording struct {
	gen         uint64
	pipeline    *capture.Pipeline
	session     *session.Manager
	stopForward context.CancelFunc
	pumpDone    chan struct{}

	// mu orders delta delivery against the end of the recording.
	mu      sync.Mutex
	discard bool
}

// deliver appends d to text unless the recording has stopped taking deltas.
// It reports whether d was appended.
func (r *recording) deliver(text *transcript.Accumulator, d string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.discard {
		return false
	}
	if err := text.Append(d); err != nil {
		slog.Debug("recorder: delta after seal dropped", "gen", r.gen)
		return false
	}
	return true
}

// stopDeltas makes every later deliver a no-op. When it returns no delivery
// is in progress.
func (r *recording) stopDeltas() {
	r.mu.Lock()
	r.discard = true
	r.mu.Unlock()
}

func (r *recording) discarding() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discard
}

type request struct {
	ev       Event
	gen      uint64
	internal bool
	reply    chan error
}

// New returns an idle Machine. Call [Machine.Run] to start its event loop.
func New(opener audio.Opener, provider live.Provider, cfg Config, opts ...Option) *Machine {
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	m := &Machine{
		opener:      opener,
		provider:    provider,
		cfg:         cfg,
		events:      make(chan request),
		done:        make(chan struct{}),
		maxDuration: max(cfg.MaxDuration, 0),
		subs:        make(map[int]chan Status),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Run processes events until ctx is cancelled. An active recording is
// cancelled on the way out. Run may only be called once.
func (m *Machine) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("recorder: already running")
	}
	m.ctx = ctx
	defer func() {
		close(m.done)
		m.closeSubscribers()
	}()

	for {
		select {
		case <-ctx.Done():
			if m.rec != nil {
				_ = m.dispatch(Event{Kind: EventCancel})
			}
			return nil
		case req := <-m.events:
			err := m.handle(req)
			if req.reply != nil {
				req.reply <- err
			}
		}
	}
}

// Running reports whether the event loop is active.
func (m *Machine) Running() bool {
	if !m.running.Load() {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Start begins a new recording. It returns once the microphone is held and
// the live session is connecting; the session outcome is reported through
// [Machine.Status]. A refused microphone is returned as an error wrapping
// [types.ErrPermissionDenied] and leaves the machine in StateError.
func (m *Machine) Start(ctx context.Context) error {
	return m.submit(ctx, Event{Kind: EventStart})
}

// Pause suspends forwarding. The session stays open.
func (m *Machine) Pause(ctx context.Context) error {
	return m.submit(ctx, Event{Kind: EventPause})
}

// Resume re-enables forwarding after Pause.
func (m *Machine) Resume(ctx context.Context) error {
	return m.submit(ctx, Event{Kind: EventResume})
}

// Stop completes the recording. It returns after the session is closed, the
// microphone is released and the transcript is sealed.
func (m *Machine) Stop(ctx context.Context) error {
	return m.submit(ctx, Event{Kind: EventStop})
}

// Cancel abandons the recording and discards its transcript. It returns
// after the microphone is released and the session is closed, including a
// session that is still connecting.
func (m *Machine) Cancel(ctx context.Context) error {
	return m.submit(ctx, Event{Kind: EventCancel})
}

// Reset returns a completed or failed recorder to StateIdle and clears the
// last error and transcript.
func (m *Machine) Reset(ctx context.Context) error {
	return m.submit(ctx, Event{Kind: EventReset})
}

// Tick advances the elapsed time by d if a recording is in StateRecording.
// Reaching the maximum duration completes the recording on this tick.
func (m *Machine) Tick(ctx context.Context, d time.Duration) error {
	return m.submit(ctx, Event{Kind: EventTick, Delta: d})
}

// SetMaxDuration changes the limit for the next recording. Zero or negative
// disables the limit.
func (m *Machine) SetMaxDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxDuration = max(d, 0)
}

// MaxDuration returns the limit the next recording will use.
func (m *Machine) MaxDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxDuration
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe returns a channel that receives the current status followed by
// every change. Slow readers miss intermediate values. The channel is closed
// when the event loop exits; after that, Subscribe returns a channel holding
// only the final status, already closed. The returned function unsubscribes
// and closes the channel.
func (m *Machine) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 16)
	m.mu.Lock()
	if m.subsClosed {
		ch <- m.status
		close(ch)
		m.mu.Unlock()
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.status
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// Transcript returns the current transcript text.
func (m *Machine) Transcript() string {
	return m.text.Text()
}

// EditTranscript replaces the transcript with a user edit. It is only
// accepted once the recording has completed or failed.
func (m *Machine) EditTranscript(text string) error {
	return m.text.Set(text)
}

// LastAudio returns the PCM16 16 kHz mono audio of the last finished
// recording. It is empty unless [capture.Config.KeepAudio] is set.
func (m *Machine) LastAudio() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAudio
}

func (m *Machine) submit(ctx context.Context, ev Event) error {
	reply := make(chan error, 1)
	select {
	case m.events <- request{ev: ev, reply: reply}:
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrStopped
	}
}

// post delivers a session event tagged with the recording generation that
// produced it.
func (m *Machine) post(gen uint64, ev Event) {
	select {
	case m.events <- request{ev: ev, gen: gen, internal: true}:
	case <-m.done:
	}
}

func (m *Machine) handle(req request) error {
	if req.internal && (m.rec == nil || req.gen != m.rec.gen) {
		slog.Debug("recorder: ignoring event from superseded session", "event", req.ev.Kind, "gen", req.gen)
		return nil
	}
	ev := req.ev
	if ev.Kind == EventStart {
		ev.MaxDuration = m.MaxDuration()
	}
	return m.dispatch(ev)
}

// dispatch applies one transition and its effects, then publishes the new
// status. A failing effect on the start path is fed back as EventFailure so
// the resources taken so far are released.
func (m *Machine) dispatch(ev Event) error {
	prev := m.cur
	next, effects, ok := Transition(prev, ev)
	if !ok {
		switch ev.Kind {
		case EventStart:
			return ErrBusy
		case EventTick:
			return nil
		}
		return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev.Kind, prev.State)
	}
	m.cur = next

	if err := m.apply(effects, next); err != nil {
		m.publish(prev, next)
		if ferr := m.dispatch(Event{Kind: EventFailure, Err: err}); ferr != nil {
			slog.Error("recorder: failed to unwind after error", "err", ferr)
		}
		return err
	}
	if !next.State.Active() {
		m.rec = nil
	}
	m.publish(prev, next)
	return nil
}

func (m *Machine) publish(prev, next Status) {
	m.mu.Lock()
	m.status = next
	for _, ch := range m.subs {
		select {
		case ch <- next:
		default:
		}
	}
	m.mu.Unlock()

	if prev.State == next.State {
		return
	}
	slog.Debug("recorder: transition", "from", prev.State, "to", next.State)
	if m.metrics != nil {
		ctx := context.Background()
		m.metrics.RecordTransition(ctx, prev.State.String(), next.State.String())
		if next.State == StateCompleted {
			m.metrics.RecordingDuration.Record(ctx, next.Elapsed.Seconds())
		}
	}
}

func (m *Machine) apply(effects []Effect, st Status) error {
	for _, eff := range effects {
		var err error
		switch eff {
		case EffectClearTranscript:
			m.text.Clear()
		case EffectAcquireMic:
			err = m.acquireMic()
		case EffectOpenSession:
			err = m.openSession()
		case EffectStartForwarding:
			m.startForwarding()
		case EffectSuspendForwarding:
			m.rec.pipeline.Pause()
		case EffectResumeForwarding:
			m.rec.pipeline.Resume()
		case EffectCloseSession:
			m.closeSession()
		case EffectReleaseMic:
			m.releaseMic()
		case EffectSealTranscript:
			m.sealTranscript()
		case EffectDiscardTranscript:
			m.rec.stopDeltas()
			m.text.Clear()
		case EffectRecordError:
			slog.Warn("recorder: recording failed", "reason", types.Reason(st.Err), "err", st.Err)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) acquireMic() error {
	m.gen++
	rec := &recording{
		gen:      m.gen,
		pipeline: capture.New(m.opener, m.cfg.Capture),
	}
	m.rec = rec
	return rec.pipeline.Acquire(m.ctx)
}

func (m *Machine) openSession() error {
	rec := m.rec
	gen := rec.gen

	var opts []session.Option
	if m.metrics != nil {
		opts = append(opts, session.WithMetrics(m.metrics))
	}
	rec.session = session.New(m.provider, session.Handlers{
		OnOpen:  func() { m.post(gen, Event{Kind: EventSessionOpen}) },
		OnError: func(err error) { m.post(gen, Event{Kind: EventFailure, Err: err}) },
	}, opts...)

	rec.pumpDone = make(chan struct{})
	go m.pump(rec, rec.session.Deltas())

	err := rec.session.Connect(m.ctx, session.Config{
		Language:    m.cfg.Language,
		SampleRate:  audio.LiveSampleRate,
		DialTimeout: m.cfg.DialTimeout,
	})
	if err != nil {
		return types.NewError(types.KindConnectionFailure, session.ReasonConnectFailed, err)
	}
	return nil
}

// pump appends deltas in receipt order until the session ends. Once the
// recording is over the remaining deltas are drained and dropped.
func (m *Machine) pump(rec *recording, deltas <-chan string) {
	defer close(rec.pumpDone)
	for d := range deltas {
		if rec.discarding() {
			audio.Drain(deltas)
			return
		}
		rec.deliver(&m.text, d)
	}
}

func (m *Machine) startForwarding() {
	rec := m.rec
	ctx, cancel := context.WithCancel(m.ctx)
	rec.stopForward = cancel
	go rec.session.Forward(ctx, rec.pipeline.Frames())
	rec.pipeline.Resume()
}

func (m *Machine) closeSession() {
	rec := m.rec
	if rec.stopForward != nil {
		rec.stopForward()
	}
	if rec.session != nil {
		rec.session.Close()
	}
}

func (m *Machine) releaseMic() {
	rec := m.rec
	if err := rec.pipeline.Release(); err != nil {
		slog.Warn("recorder: microphone release failed", "err", err)
	}
	st := rec.pipeline.Stats()
	if m.metrics != nil {
		ctx := context.Background()
		m.metrics.FramesCaptured.Add(ctx, int64(st.Captured))
		m.metrics.RecordFramesDropped(ctx, "capture", int64(st.Dropped))
	}
	if m.cfg.Capture.KeepAudio {
		pcm := rec.pipeline.Audio()
		m.mu.Lock()
		m.lastAudio = pcm
		m.mu.Unlock()
	}
}

// sealTranscript waits a bounded time for deltas still in flight, then
// closes the transcript to automated writes.
func (m *Machine) sealTranscript() {
	rec := m.rec
	if rec.pumpDone != nil {
		timer := time.NewTimer(m.cfg.StopTimeout)
		select {
		case <-rec.pumpDone:
		case <-timer.C:
			slog.Warn("recorder: transcript still receiving after stop, sealing", "timeout", m.cfg.StopTimeout)
		}
		timer.Stop()
	}
	rec.stopDeltas()
	m.text.Seal()
}

func (m *Machine) closeSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subsClosed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}
