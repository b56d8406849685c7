package kiosk

// Phase is the orchestrator's position in the turn cycle. Interruption is a
// cancellation path back to Listening, not a phase of its own.
type Phase int

const (
	Idle Phase = iota
	Listening
	Transcribing
	Perceiving
	Generating
	Speaking
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Transcribing:
		return "transcribing"
	case Perceiving:
		return "perceiving"
	case Generating:
		return "generating"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}
