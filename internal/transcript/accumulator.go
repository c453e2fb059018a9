// Package transcript accumulates the live transcript of one recording.
//
// Deltas from the live session are appended verbatim in arrival order: no
// separator is inserted, no whitespace is trimmed, and no deduplication is
// attempted. When the recording completes the transcript is sealed; from then
// on only whole-text user edits are accepted.
package transcript

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrSealed is returned by [Accumulator.Append] after [Accumulator.Seal].
	ErrSealed = errors.New("transcript: sealed")

	// ErrNotEditable is returned by [Accumulator.Set] before the transcript is
	// sealed.
	ErrNotEditable = errors.New("transcript: not editable while recording")
)

// Accumulator is the transcript buffer. The zero value is an empty, open
// transcript ready for use. All methods are safe for concurrent use.
type Accumulator struct {
	mu     sync.Mutex
	buf    strings.Builder
	sealed bool
	edited bool
	deltas int
}

// Append adds delta verbatim to the end of the transcript.
func (a *Accumulator) Append(delta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return ErrSealed
	}
	a.buf.WriteString(delta)
	a.deltas++
	return nil
}

// Seal closes the transcript for appends. Idempotent.
func (a *Accumulator) Seal() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = true
}

// Set replaces the whole transcript with a user edit. Only allowed once the
// transcript is sealed.
func (a *Accumulator) Set(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.sealed {
		return ErrNotEditable
	}
	a.buf.Reset()
	a.buf.WriteString(text)
	a.edited = true
	return nil
}

// Clear empties the transcript and reopens it for appends.
func (a *Accumulator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.Reset()
	a.sealed = false
	a.edited = false
	a.deltas = 0
}

// Text returns the current transcript.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

// Sealed reports whether the transcript is sealed.
func (a *Accumulator) Sealed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sealed
}

// Edited reports whether the transcript has been replaced by [Accumulator.Set]
// since the last [Accumulator.Clear].
func (a *Accumulator) Edited() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.edited
}

// Deltas returns how many deltas have been appended since the last Clear.
func (a *Accumulator) Deltas() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deltas
}
