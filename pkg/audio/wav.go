package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV wraps PCM16 little-endian samples in a RIFF/WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("audio: encode wav: invalid format %dHz/%dch", sampleRate, channels)
	}
	ws := &memWriteSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, 16, channels, 1)

	samples := len(pcm) / BytesPerSample
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, samples),
		SourceBitDepth: 16,
	}
	for i := range samples {
		buf.Data[i] = int(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	return ws.buf, nil
}

// DecodeWAV reads a 16-bit PCM WAV container and returns its samples as mono
// floats in [-1, 1] together with the source sample rate. Multichannel input
// is downmixed.
func DecodeWAV(data []byte) ([]float32, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("audio: decode wav: not a valid WAV file")
	}
	if dec.BitDepth != 16 {
		return nil, 0, fmt.Errorf("audio: decode wav: unsupported bit depth %d", dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode wav: %w", err)
	}

	pcm := make([]byte, len(buf.Data)*BytesPerSample)
	for i, v := range buf.Data {
		s := uint16(int16(v))
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	channels := int(dec.NumChans)
	if channels > 1 {
		pcm = DownmixPCM16(pcm, channels)
	}
	return DecodePCM16(pcm), int(dec.SampleRate), nil
}

// memWriteSeeker is an in-memory io.WriteSeeker. The WAV encoder seeks back
// to patch chunk sizes on Close, which bytes.Buffer cannot do.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, max(end, 2*cap(m.buf)))
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, fmt.Errorf("audio: invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("audio: negative seek position")
	}
	m.pos = int(next)
	return next, nil
}
