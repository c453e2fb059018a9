// Package batch defines the Provider interface for one-shot transcription.
//
// A batch provider receives a complete audio recording and returns its plain
// transcript. The output contract is shared by every backend: the text is the
// spoken words only, without timestamps, speaker labels or conversational
// framing, and a recording without intelligible speech yields exactly
// [NoSpeechSentinel], never an empty string.
//
// Implementations must be safe for concurrent use.
package batch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// NoSpeechSentinel is the transcript of a silent or unintelligible recording.
const NoSpeechSentinel = "[NO_SPEECH]"

// ErrContract is returned by [CheckContract] for text that breaks the output
// contract.
var ErrContract = errors.New("batch: transcript violates output contract")

// Request is one transcription job.
type Request struct {
	// Audio is the encoded recording.
	Audio []byte

	// ContentType is the MIME type of Audio, e.g. "audio/wav".
	ContentType string

	// Language is the BCP-47 language hint. Empty lets the backend detect it.
	Language string
}

// Provider transcribes complete recordings.
type Provider interface {
	// Transcribe returns the transcript of req.Audio under the output
	// contract described in the package documentation.
	Transcribe(ctx context.Context, req Request) (string, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// blankMarkers are the no-speech annotations emitted by common engines.
var blankMarkers = []string{
	"[BLANK_AUDIO]",
	"[SILENCE]",
	"(silence)",
	"[inaudible]",
	"(inaudible)",
	"[no speech]",
	NoSpeechSentinel,
}

// Normalize trims text and maps empty output and engine-specific blank
// markers to [NoSpeechSentinel].
func Normalize(text string) string {
	text = strings.TrimSpace(text)
	rest := text
	for {
		trimmed := rest
		for _, m := range blankMarkers {
			if len(trimmed) >= len(m) && strings.EqualFold(trimmed[:len(m)], m) {
				trimmed = strings.TrimSpace(trimmed[len(m):])
			}
		}
		if trimmed == rest {
			break
		}
		rest = trimmed
	}
	if rest == "" {
		return NoSpeechSentinel
	}
	return text
}

var (
	timestampRe = regexp.MustCompile(`(?m)[\[(]\d{1,2}:\d{2}(:\d{2})?([.,]\d{1,3})?[\])]|\d{1,2}:\d{2}:\d{2}[.,]\d{3}\s*-->|^\s*\d{1,2}:\d{2}:\d{2}\b`)
	speakerRe   = regexp.MustCompile(`(?im)^\s*(speaker[ _]?\d+|speaker [a-z]|spk_?\d+|interviewer|interviewee|narrator)\s*:`)
	framingRe   = regexp.MustCompile(`(?i)^\s*(sure[,!.]|certainly[,!.]|of course[,!.]|here is|here's|below is|the transcription|transcription:|transcript:)`)
)

// CheckContract reports whether text satisfies the output contract. It
// rejects empty text, timestamps, speaker labels and conversational framing.
func CheckContract(text string) error {
	switch {
	case strings.TrimSpace(text) == "":
		return fmt.Errorf("%w: empty transcript", ErrContract)
	case text == NoSpeechSentinel:
		return nil
	case timestampRe.MatchString(text):
		return fmt.Errorf("%w: contains timestamps", ErrContract)
	case speakerRe.MatchString(text):
		return fmt.Errorf("%w: contains speaker labels", ErrContract)
	case framingRe.MatchString(text):
		return fmt.Errorf("%w: contains conversational framing", ErrContract)
	}
	return nil
}

// Instruction is the system prompt for backends driven by a general model.
func Instruction(language string) string {
	var b strings.Builder
	b.WriteString("You are a transcription engine. Transcribe the spoken words in the audio verbatim")
	if language != "" {
		fmt.Fprintf(&b, " in the language %q", language)
	}
	b.WriteString(". Output only the transcript text. Do not add timestamps, speaker labels, " +
		"headings, quotation marks, explanations or any other commentary. ")
	fmt.Fprintf(&b, "If the audio contains no intelligible speech, output exactly %s and nothing else.", NoSpeechSentinel)
	return b.String()
}
