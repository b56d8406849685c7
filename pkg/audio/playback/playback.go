// Package playback provides speaker output sinks for synthesized audio.
//
// A Sink consumes raw PCM and plays it on the device. Flush discards any
// buffered-but-unplayed audio, which is how barge-in silences the speaker
// mid-utterance. The production implementation uses github.com/ebitengine/oto.
package playback

import "context"

// Sink plays 16-bit little-endian PCM audio.
type Sink interface {
	// Write queues PCM for playback. It may block while the device buffer
	// is full; it returns early with ctx.Err() if ctx is cancelled.
	Write(ctx context.Context, pcm []byte) error

	// Drain blocks until everything queued so far has been played, or ctx
	// is cancelled.
	Drain(ctx context.Context) error

	// Flush discards all queued audio immediately. Playback resumes with
	// the next Write.
	Flush()

	// Close stops playback and releases the device.
	Close() error
}
