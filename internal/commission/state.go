package commission

// State is a position in the generation state machine. Transitions only move
// forward, apart from self-loops.
type State int

const (
	// StateAwaitingTrigger: prompts are left unanswered until the trigger.
	StateAwaitingTrigger State = iota
	// StateAutomating: every prompt gets an empty line until the final one.
	StateAutomating
	// StateAwaitingFilenamePrompt: the output filename is typed once.
	StateAwaitingFilenamePrompt
	// StateDrainingTail: output is read without answering until EOF.
	StateDrainingTail
	// StateDone: the generator exited after the filename step.
	StateDone
	// StateFailed: the run was aborted; the error says why.
	StateFailed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateAwaitingTrigger:
		return "awaiting_trigger"
	case StateAutomating:
		return "automating"
	case StateAwaitingFilenamePrompt:
		return "awaiting_filename_prompt"
	case StateDrainingTail:
		return "draining_tail"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
