// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session maintains its own internal state
// (debounce counters, trailing-silence accumulation) so that multiple
// concurrent audio streams can be processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for the low-latency loop that gates
// utterance capture.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame returns an error if the supplied frame does not match.
	FrameSizeMs int

	// SpeechThreshold is the level above which a frame is classified as
	// speech. For the energy detector this is a normalised RMS level in
	// [0.0, 1.0]. Typical: 0.03.
	SpeechThreshold float64

	// MinSpeechMs is the sustained above-threshold duration required before
	// SpeechStart fires. Debounces coughs and bumps. Typical: 90 ms.
	MinSpeechMs int

	// TrailingSilenceMs is the continuous below-threshold duration after
	// speech that triggers SpeechEnd. Typical: 1500 ms.
	TrailingSilenceMs int
}

// SessionHandle represents an active VAD session for a single audio stream.
// Each session maintains its own detection state; Reset clears this state
// without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. The frame must be raw little-endian PCM at the SampleRate and
	// FrameSizeMs configured when the session was created.
	//
	// Called synchronously in the audio pipeline loop; it must not block.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears all accumulated detection state without closing the
	// session. Use this when a captured segment is abandoned so stale state
	// does not affect the next utterance.
	Reset()

	// Close releases all resources associated with the session. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (e.g., unsupported
	// sample rate, frame size, or threshold out of range).
	NewSession(cfg Config) (SessionHandle, error)
}
