package commission

import (
	"errors"
	"fmt"
)

// Kind classifies generation failures.
type Kind int

const (
	// KindSpawn: the generator could not be started or was not found.
	KindSpawn Kind = iota + 1
	// KindPrematureEOF: the generator exited before reaching the end of
	// its prompt sequence.
	KindPrematureEOF
	// KindStepBudgetExceeded: the prompt sequence never reached a terminal
	// state within the step budget.
	KindStepBudgetExceeded
	// KindFilenamePromptMissing: the filename prompt never appeared. It is
	// reported as a warning only.
	KindFilenamePromptMissing
	// KindPostCheckMissingArtifact: the generator finished but the
	// configuration file does not exist.
	KindPostCheckMissingArtifact
	// KindDeadlineExceeded: the overall generation deadline elapsed.
	KindDeadlineExceeded
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindSpawn:
		return "spawn_error"
	case KindPrematureEOF:
		return "premature_eof"
	case KindStepBudgetExceeded:
		return "step_budget_exceeded"
	case KindFilenamePromptMissing:
		return "filename_prompt_missing"
	case KindPostCheckMissingArtifact:
		return "post_check_missing_artifact"
	case KindDeadlineExceeded:
		return "deadline_exceeded"
	default:
		return "unknown"
	}
}

// GenerationError reports why configuration generation failed.
type GenerationError struct {
	Kind  Kind
	State State
	Step  int
	Err   error
}

// Sentinels for errors.Is. They compare by Kind only.
var (
	ErrSpawn                    = &GenerationError{Kind: KindSpawn}
	ErrPrematureEOF             = &GenerationError{Kind: KindPrematureEOF}
	ErrStepBudgetExceeded       = &GenerationError{Kind: KindStepBudgetExceeded}
	ErrPostCheckMissingArtifact = &GenerationError{Kind: KindPostCheckMissingArtifact}
	ErrDeadlineExceeded         = &GenerationError{Kind: KindDeadlineExceeded}
)

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("commission: %s in state %s at step %d", e.Kind, e.State, e.Step)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Is matches any *GenerationError with the same Kind.
func (e *GenerationError) Is(target error) bool {
	t, ok := target.(*GenerationError)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or 0 if err is not a *GenerationError.
func KindOf(err error) Kind {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return 0
}
