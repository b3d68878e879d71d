package audio

import "math"

// RMS returns the root-mean-square level of normalized samples. An empty
// slice has level 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Volume maps an RMS level onto a perceptual loudness scale in [0, 1].
//
// Levels below 0.005 are treated as silence. Three linear segments split at
// 0.02 and 0.06 cover quiet, normal and loud speech, and anything at or
// above 0.10 is full volume.
func Volume(rms float64) float64 {
	var v float64
	switch {
	case rms < 0.005:
		v = 0
	case rms < 0.02:
		v = (rms - 0.005) / 0.015 * 0.33
	case rms < 0.06:
		v = 0.33 + (rms-0.02)/0.04*0.33
	case rms < 0.10:
		v = 0.66 + (rms-0.06)/0.04*0.34
	default:
		v = 1
	}
	return min(max(v, 0), 1)
}
