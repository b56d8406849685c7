// Package tts defines the Provider interface for Text-to-Speech backends.
//
// The speech pipeline splits the LLM stream into sentence chunks and
// synthesises each chunk independently (with bounded lookahead), so the
// Provider contract is per-chunk: one Synthesize call per sentence, returning
// the complete PCM for that sentence. Streaming happens a level above, in the
// pipeline, not inside the provider.
//
// Implementations must be safe for concurrent use; the pipeline issues several
// Synthesize calls in parallel.
package tts

import "context"

// Audio is the synthesised result for one text chunk.
type Audio struct {
	// PCM is raw 16-bit little-endian signed audio.
	PCM []byte

	// SampleRate in Hz of the PCM data.
	SampleRate int

	// Channels of the PCM data. 1 for every current backend.
	Channels int
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts one chunk of text (typically a sentence) into PCM
	// audio. Cancellation of ctx aborts the request; the barge-in path relies
	// on this returning promptly.
	Synthesize(ctx context.Context, text string) (*Audio, error)
}
