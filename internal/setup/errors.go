package setup

import (
	"errors"
	"fmt"
)

// Failure kinds. Every StepError wraps exactly one of them, so callers can
// classify with errors.Is.
var (
	ErrDescriptorWrite  = errors.New("descriptor write failed")
	ErrDescriptorDelete = errors.New("descriptor delete failed")
	ErrSupervisorLoad   = errors.New("supervisor load failed")
	ErrSupervisorUnload = errors.New("supervisor unload failed")
	ErrLaunch           = errors.New("launch failed")
)

// StepError is a failed step: which kind, which operation, which file.
type StepError struct {
	Kind error
	Step Step
	Path string
	Err  error
}

func (e *StepError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Step, e.Path, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
