package turn

// State is the orchestrator's position in the turn-taking cycle. Exactly one
// state holds at any instant.
type State int

const (
	// StateIdle is the state before the first prompt and the held state
	// while the microphone is muted.
	StateIdle State = iota

	// StateAISpeaking means a prompt is being played to the candidate.
	StateAISpeaking

	// StateListening means the candidate holds the floor.
	StateListening

	// StateProcessing means an answer is being transcribed or submitted.
	StateProcessing

	// StateEnded is terminal.
	StateEnded
)

// anyState matches every non-terminal state in the transition table.
const anyState State = -1

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAISpeaking:
		return "ai_speaking"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
