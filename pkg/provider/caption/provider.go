// Package caption defines the Captioner interface for image description
// backends.
//
// The orchestrator captures one camera frame per turn and asks for a short
// scene description to ground the conversation ("a person in a red jacket
// holding a coffee cup"). Captioning is best-effort: a failure degrades the
// turn to no scene context, it never fails the turn.
package caption

import "context"

// Captioner produces a one-line description of a JPEG image.
type Captioner interface {
	// Caption describes the image. The returned string is a short plain-text
	// scene summary, whitespace-trimmed. ctx cancellation aborts the request.
	Caption(ctx context.Context, jpeg []byte) (string, error)
}
