package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTool is returned when the model calls a tool that is
	// not in the offered catalog.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrMaxIterations is returned when a run exhausts its tool-call
	// round budget without the model producing a final answer.
	ErrMaxIterations = errors.New("max iterations reached")

	// ErrNoPendingApproval is returned when a resolution arrives for a
	// conversation with nothing waiting. Duplicate resolutions land
	// here too; callers treat it as a no-op.
	ErrNoPendingApproval = errors.New("no pending approval")

	// ErrApprovalMismatch is returned when a resolution names a
	// different approval id than the one pending.
	ErrApprovalMismatch = errors.New("approval id does not match pending request")

	// ErrInvalidResolution is returned when a resolution carries a
	// result that users cannot produce, such as AutoApproved.
	ErrInvalidResolution = errors.New("invalid approval resolution")
)

// RunPhase names the stage of the agent loop an error came from.
type RunPhase string

const (
	PhaseInit    RunPhase = "init"
	PhaseStream  RunPhase = "stream"
	PhaseTools   RunPhase = "tools"
	PhasePersist RunPhase = "persist"
)

// RunError wraps a failure inside the agent loop with enough context
// to tell which stage and which round it came from.
type RunError struct {
	Phase     RunPhase
	Iteration int
	Cause     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("agent run failed in %s phase (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
}

func (e *RunError) Unwrap() error {
	return e.Cause
}

func newRunError(phase RunPhase, iteration int, cause error) *RunError {
	return &RunError{Phase: phase, Iteration: iteration, Cause: cause}
}
