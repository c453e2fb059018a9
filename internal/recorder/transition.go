// Package recorder drives one recording through its lifecycle.
//
// The lifecycle is a pure function, [Transition], from a [Status] and an
// [Event] to the next Status and the ordered list of [Effect]s that must be
// carried out. [Machine] runs that function on a single event-loop goroutine
// and executes the effects against the real microphone, live session and
// transcript.
package recorder

import (
	"fmt"
	"time"
)

// State is the recording state.
type State int

const (
	StateIdle State = iota
	StateProcessing
	StateRecording
	StatePaused
	StateCompleted
	StateError
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Active reports whether the microphone and a live session are held in s.
func (s State) Active() bool {
	return s == StateProcessing || s == StateRecording || s == StatePaused
}

// Status is the observable state of the recorder.
type Status struct {
	State State

	// Elapsed is the time spent in StateRecording during this recording.
	Elapsed time.Duration

	// MaxDuration is the limit fixed when the recording started. Zero means
	// no limit.
	MaxDuration time.Duration

	// Err is the last error. It is kept until the next start or reset.
	Err error
}

// EventKind identifies an [Event].
type EventKind int

const (
	EventStart EventKind = iota
	EventSessionOpen
	EventFailure
	EventPause
	EventResume
	EventStop
	EventCancel
	EventTick
	EventReset
)

// String returns the lower-case name of the event.
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventSessionOpen:
		return "session_open"
	case EventFailure:
		return "failure"
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	case EventStop:
		return "stop"
	case EventCancel:
		return "cancel"
	case EventTick:
		return "tick"
	case EventReset:
		return "reset"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is an input to [Transition].
type Event struct {
	Kind EventKind

	// MaxDuration is read by EventStart.
	MaxDuration time.Duration

	// Delta is read by EventTick.
	Delta time.Duration

	// Err is read by EventFailure. It should already be classified against
	// the pkg/types taxonomy.
	Err error
}

// Effect is a side effect requested by [Transition]. Effects are executed in
// the order they are returned.
type Effect int

const (
	EffectClearTranscript Effect = iota
	EffectAcquireMic
	EffectOpenSession
	EffectStartForwarding
	EffectSuspendForwarding
	EffectResumeForwarding
	EffectCloseSession
	EffectReleaseMic
	EffectSealTranscript
	EffectDiscardTranscript
	EffectRecordError
)

// String returns the lower-case name of the effect.
func (e Effect) String() string {
	switch e {
	case EffectAcquireMic:
		return "acquire_mic"
	case EffectClearTranscript:
		return "clear_transcript"
	case EffectOpenSession:
		return "open_session"
	case EffectStartForwarding:
		return "start_forwarding"
	case EffectSuspendForwarding:
		return "suspend_forwarding"
	case EffectResumeForwarding:
		return "resume_forwarding"
	case EffectCloseSession:
		return "close_session"
	case EffectReleaseMic:
		return "release_mic"
	case EffectSealTranscript:
		return "seal_transcript"
	case EffectDiscardTranscript:
		return "discard_transcript"
	case EffectRecordError:
		return "record_error"
	default:
		return fmt.Sprintf("Effect(%d)", int(e))
	}
}

// finishEffects ends a recording normally.
var finishEffects = []Effect{EffectCloseSession, EffectReleaseMic, EffectSealTranscript}

// Transition computes the next status for ev. The returned bool is false
// when ev is not valid in s.State; s is then returned unchanged with no
// effects.
func Transition(s Status, ev Event) (Status, []Effect, bool) {
	switch ev.Kind {
	case EventStart:
		if s.State.Active() {
			return s, nil, false
		}
		return Status{
			State:       StateProcessing,
			MaxDuration: max(ev.MaxDuration, 0),
		}, []Effect{EffectClearTranscript, EffectAcquireMic, EffectOpenSession}, true

	case EventSessionOpen:
		if s.State != StateProcessing {
			return s, nil, false
		}
		s.State = StateRecording
		return s, []Effect{EffectStartForwarding}, true

	case EventFailure:
		if !s.State.Active() {
			return s, nil, false
		}
		s.State = StateError
		s.Err = ev.Err
		return s, []Effect{EffectCloseSession, EffectReleaseMic, EffectSealTranscript, EffectRecordError}, true

	case EventPause:
		if s.State != StateRecording {
			return s, nil, false
		}
		s.State = StatePaused
		return s, []Effect{EffectSuspendForwarding}, true

	case EventResume:
		if s.State != StatePaused {
			return s, nil, false
		}
		s.State = StateRecording
		return s, []Effect{EffectResumeForwarding}, true

	case EventStop:
		if s.State != StateRecording && s.State != StatePaused {
			return s, nil, false
		}
		s.State = StateCompleted
		return s, finishEffects, true

	case EventCancel:
		if !s.State.Active() {
			return s, nil, false
		}
		return Status{State: StateIdle}, []Effect{EffectCloseSession, EffectReleaseMic, EffectDiscardTranscript}, true

	case EventTick:
		if s.State != StateRecording || ev.Delta <= 0 {
			return s, nil, false
		}
		s.Elapsed += ev.Delta
		if s.MaxDuration > 0 && s.Elapsed >= s.MaxDuration {
			s.State = StateCompleted
			return s, finishEffects, true
		}
		return s, nil, true

	case EventReset:
		if s.State != StateCompleted && s.State != StateError {
			return s, nil, false
		}
		return Status{State: StateIdle}, []Effect{EffectClearTranscript}, true
	}
	return s, nil, false
}
