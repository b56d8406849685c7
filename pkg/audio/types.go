// Package audio defines the shared audio types used across the Beaky pipeline.
//
// Frames are the atomic unit of audio transport: captured from the microphone,
// gated by VAD, transcribed by STT, and played through the speaker sink.
package audio

import (
	"math"
	"time"
)

// Frame represents a single frame of audio data flowing through the pipeline.
type Frame struct {
	// PCM audio data, 16-bit little-endian signed samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT input, 22050 for Piper output).
	SampleRate int

	// Channels: 1 for mono (microphone and STT), 2 for stereo output.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// RMS computes the root-mean-square level of the frame's 16-bit PCM data,
// normalised to [0.0, 1.0]. Used by the energy VAD and level meters.
func RMS(pcm []byte) float64 {
	count := len(pcm) / 2
	if count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < count; i++ {
		s := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum/float64(count)) / 32768.0
}

// Float32Mono converts 16-bit little-endian PCM to float32 samples in
// [-1.0, 1.0], downmixing multi-channel input by averaging. This is the
// input format whisper.cpp expects.
func Float32Mono(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / 2 / channels
	out := make([]float32, 0, frames)
	for i := 0; i < frames; i++ {
		var acc float32
		for c := 0; c < channels; c++ {
			idx := (i*channels + c) * 2
			s := int16(pcm[idx]) | int16(pcm[idx+1])<<8
			acc += float32(s) / 32768.0
		}
		out = append(out, acc/float32(channels))
	}
	return out
}
