// Package audio holds the audio frame type and the pure helpers that turn
// captured float samples into the PCM16 frames the live transcription path
// sends over the wire.
//
// Everything in this package is synchronous and free of I/O except the WAV
// helpers, which read and write in-memory containers. Capture lives in
// [github.com/MrWong99/livescribe/pkg/audio/capture]; the microphone binding
// lives in [github.com/MrWong99/livescribe/pkg/audio/portaudio].
package audio

import "time"

const (
	// LiveSampleRate is the fixed sample rate of frames on the live path.
	LiveSampleRate = 16000

	// LiveChannels is the fixed channel count of frames on the live path.
	LiveChannels = 1

	// BytesPerSample is the width of one PCM16 sample.
	BytesPerSample = 2
)

// AudioFrame is one time-ordered block of PCM16 little-endian audio.
// Frames are immutable once produced; ownership passes from the capture
// pipeline to the live session on send.
type AudioFrame struct {
	// Data is the PCM16 little-endian payload.
	Data []byte

	// SampleRate in Hz (16000 on the live path).
	SampleRate int

	// Channels is 1 on the live path.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (BytesPerSample * f.Channels)
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
