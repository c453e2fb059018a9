package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/MrWong99/livescribe/pkg/types"
)

// MIMEType returns the media content-type tag for PCM16 at the given rate,
// e.g. "audio/pcm;rate=16000".
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// EncodePCM16 quantises float samples to signed 16-bit little-endian PCM.
// Each sample is clamped to [-1, 1]; negative values scale by 32768 and
// non-negative values by 32767, so -1 maps to -32768 and 1 maps to 32767.
// Scaled values truncate toward zero.
// The output is exactly twice as long as the input.
//
// A NaN sample is malformed input and panics with an error wrapping
// [types.ErrEncoding].
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantise(s)))
	}
	return out
}

// EncodeFrame converts one block of mono float samples captured at
// sampleRate into an [AudioFrame]. Frames bound for the live path must be at
// [LiveSampleRate]; see [FormatConverter] for other device rates.
func EncodeFrame(samples []float32, sampleRate int) AudioFrame {
	return AudioFrame{
		Data:       EncodePCM16(samples),
		SampleRate: sampleRate,
		Channels:   LiveChannels,
	}
}

// TransportText returns the standard padded base64 encoding of the frame's
// payload, ready to embed in a JSON text message.
func TransportText(frame AudioFrame) string {
	return base64.StdEncoding.EncodeToString(frame.Data)
}

// DecodeSample converts one little-endian PCM16 sample back to a float in
// [-1, 1] using the same asymmetric scale as [EncodePCM16].
func DecodeSample(lo, hi byte) float32 {
	v := int16(uint16(lo) | uint16(hi)<<8)
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}

// DecodePCM16 converts a PCM16 little-endian buffer to float samples. A
// trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = DecodeSample(pcm[i*2], pcm[i*2+1])
	}
	return out
}

func quantise(s float32) int16 {
	if math.IsNaN(float64(s)) {
		panic(types.NewError(types.KindEncoding, "NaN audio sample", nil))
	}
	switch {
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	if s < 0 {
		return int16(float64(s) * 32768)
	}
	return int16(float64(s) * 32767)
}
