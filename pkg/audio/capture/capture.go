// Package capture provides microphone input sources for the audio pipeline.
//
// A Source delivers fixed-size PCM frames on a channel. The production
// implementation wraps miniaudio via github.com/gen2brain/malgo; a mock source
// is provided for tests.
package capture

import (
	"context"

	"github.com/beakylabs/beaky/pkg/audio"
)

// Source captures audio from a microphone or other input device.
//
// Implementations must be safe for concurrent use of Frames/Close against a
// running capture callback.
type Source interface {
	// Start begins audio capture. Frames become available on the Frames
	// channel until Close is called or ctx is cancelled.
	Start(ctx context.Context) error

	// Frames returns the channel on which captured frames are delivered.
	// The channel is closed when the source stops. If the consumer falls
	// behind, frames are dropped rather than blocking the device callback.
	Frames() <-chan audio.Frame

	// Err returns the error that terminated capture, or nil. Valid after
	// the Frames channel closes.
	Err() error

	// Close stops capture and releases the device. Safe to call more than
	// once.
	Close() error
}
