package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter converts PCM16 frames of any rate and channel count to
// mono at TargetRate. It logs a warning on the first format mismatch and on
// the first misaligned frame. Create one per stream; not designed for shared
// use across goroutines.
type FormatConverter struct {
	TargetRate     int
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to mono at the target rate. If the frame already
// matches, it is returned unchanged (zero allocation). Misaligned frames come
// back with nil Data so the caller can drop them. Conversion order: downmix
// first, then resample, so resampling only ever touches one channel.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	channels := max(frame.Channels, 1)
	if len(frame.Data)%(BytesPerSample*channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: misaligned PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return AudioFrame{SampleRate: c.TargetRate, Channels: 1, Timestamp: frame.Timestamp}
	}

	if frame.SampleRate == c.TargetRate && channels == 1 {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(frame.SampleRate, channels),
			"to", formatString(c.TargetRate, 1),
		)
	})

	pcm := frame.Data
	if channels > 1 {
		pcm = DownmixPCM16(pcm, channels)
	}
	pcm = ResampleMono16(pcm, frame.SampleRate, c.TargetRate)

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.TargetRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}

// DownmixPCM16 averages interleaved PCM16 channels into mono. Uses int32
// arithmetic so the sum cannot overflow.
func DownmixPCM16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * BytesPerSample
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			idx := i*frameBytes + ch*BytesPerSample
			sum += int32(int16(uint16(pcm[idx]) | uint16(pcm[idx+1])<<8))
		}
		avg := sum / int32(channels)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// DownmixFloat averages interleaved float channels into mono.
func DownmixFloat(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
