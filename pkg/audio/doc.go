// Package audio holds the sample-level plumbing of the voice pipeline:
// per-connection windowing with a bounded backlog ([Buffer]), level
// measurement ([RMS], [Volume]), PCM16 codecs, stream normalization to
// 16 kHz mono ([Converter]) and WAV encoding for engines that want files.
package audio
