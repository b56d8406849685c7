// Package stt defines the Provider interface for Speech-to-Text backends.
//
// Unlike streaming dialogue systems, the kiosk transcribes complete utterances:
// the VAD-gated audio ingest delivers a finished PCM segment and the
// orchestrator asks for one authoritative transcript. The Provider interface
// reflects that: a single blocking Transcribe call per utterance.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Request carries one complete utterance of audio to transcribe.
type Request struct {
	// PCM is the utterance audio, 16-bit little-endian signed samples.
	PCM []byte

	// SampleRate is the audio sample rate in Hz. 16000 is whisper-native.
	SampleRate int

	// Channels is the number of audio channels. Implementors downmix
	// multi-channel input internally.
	Channels int

	// Language is the BCP-47 language code for recognition (e.g., "en").
	// Empty means use the provider default.
	Language string
}

// Transcript is the result of transcribing one utterance.
type Transcript struct {
	// Text is the recognised text, whitespace-trimmed. Empty when the
	// audio contained no recognisable speech.
	Text string

	// Language is the language the provider recognised or was configured for.
	Language string

	// AudioDuration is the play time of the transcribed audio.
	AudioDuration time.Duration
}

// Provider is the abstraction over any STT backend.
//
// Transcribe must respect ctx cancellation: a barge-in or shutdown cancels the
// turn context and the call should return ctx.Err() promptly.
type Provider interface {
	// Transcribe converts one utterance of PCM audio into text. An utterance
	// with no recognisable speech returns a Transcript with empty Text and a
	// nil error.
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}
