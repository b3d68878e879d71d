package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrOddLength is returned when a PCM16 payload has an odd byte count.
var ErrOddLength = errors.New("audio: odd byte count in PCM16 data")

// DecodePCM16LE decodes little-endian signed 16-bit PCM into samples.
// An odd-length payload is rejected as a whole rather than truncated.
func DecodePCM16LE(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(b))
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out, nil
}

// EncodePCM16LE is the inverse of [DecodePCM16LE].
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Int16ToFloat32 normalizes samples into [-1.0, 1.0) by dividing by 32768.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 converts normalized samples back to int16, clamping values
// outside [-1.0, 1.0].
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32768.0
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// DownmixStereo averages interleaved L/R sample pairs into mono. Uses int32
// arithmetic so the sum cannot overflow. A trailing unpaired sample is
// dropped.
func DownmixStereo(interleaved []int16) []int16 {
	frames := len(interleaved) / 2
	out := make([]int16, frames)
	for i := range frames {
		l := int32(interleaved[i*2])
		r := int32(interleaved[i*2+1])
		out[i] = int16((l + r) / 2)
	}
	return out
}

// DurationOf returns how long n samples last at rate.
func DurationOf(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// SamplesFor returns how many samples cover d at rate.
func SamplesFor(d time.Duration, rate int) int {
	return int(int64(d) * int64(rate) / int64(time.Second))
}
