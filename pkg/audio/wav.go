package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV encodes normalized mono samples as a 16-bit PCM WAV file.
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	pcm := Float32ToInt16(samples)
	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: close wav: %w", err)
	}
	return nil
}

// ReadWAV decodes a 16, 24 or 32-bit PCM WAV file into mono samples in
// [-1, 1]. Stereo is downmixed. The file's sample rate is returned as is.
func ReadWAV(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("audio: not a PCM wav file")
	}
	switch dec.BitDepth {
	case 16, 24, 32:
	default:
		return nil, 0, fmt.Errorf("audio: unsupported wav bit depth %d", dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: read wav: %w", err)
	}
	ch := buf.Format.NumChannels
	if ch < 1 || ch > 2 {
		return nil, 0, fmt.Errorf("audio: unsupported channel count %d", ch)
	}

	full := float32(int64(1) << (dec.BitDepth - 1))
	out := make([]float32, len(buf.Data)/ch)
	for i := range out {
		var sum int
		for c := range ch {
			sum += buf.Data[i*ch+c]
		}
		out[i] = float32(sum) / float32(ch) / full
	}
	return out, buf.Format.SampleRate, nil
}

// SeekBuffer is an in-memory io.WriteSeeker for building WAV payloads that
// are uploaded rather than written to disk.
type SeekBuffer struct {
	buf []byte
	pos int
}

// Write implements io.Writer.
func (s *SeekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		if end > cap(s.buf) {
			grown := make([]byte, end, max(end, 2*cap(s.buf)))
			copy(grown, s.buf)
			s.buf = grown
		} else {
			s.buf = s.buf[:end]
		}
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

// Seek implements io.Seeker.
func (s *SeekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, fmt.Errorf("audio: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("audio: negative seek position %d", abs)
	}
	s.pos = int(abs)
	return abs, nil
}

// Bytes returns the written content.
func (s *SeekBuffer) Bytes() []byte { return s.buf }

// EncodeWAV is a convenience wrapper returning the WAV file as bytes.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	var sb SeekBuffer
	if err := WriteWAV(&sb, samples, sampleRate); err != nil {
		return nil, err
	}
	return sb.Bytes(), nil
}
