package recorder

import (
	"testing"

	"github.com/MrWong99/livescribe/internal/transcript"
)

func TestRecording_NoDeltaLandsAfterDiscard(t *testing.T) {
	t.Parallel()

	for i := range 200 {
		var text transcript.Accumulator
		rec := &recording{gen: uint64(i)}

		start := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			<-start
			for range 50 {
				rec.deliver(&text, "late ")
			}
		}()

		close(start)
		rec.stopDeltas()
		text.Clear()
		<-done

		if got := text.Text(); got != "" {
			t.Fatalf("iteration %d: transcript = %q after discard, want empty", i, got)
		}
	}
}

func TestRecording_DeliverStopsAtSeal(t *testing.T) {
	t.Parallel()
	var text transcript.Accumulator
	rec := &recording{}

	if !rec.deliver(&text, "Hallo") {
		t.Fatal("deliver rejected a delta while recording")
	}
	rec.stopDeltas()
	text.Seal()
	if rec.deliver(&text, " Welt") {
		t.Error("deliver accepted a delta after the recording ended")
	}
	if got := text.Text(); got != "Hallo" {
		t.Errorf("transcript = %q, want %q", got, "Hallo")
	}
}
