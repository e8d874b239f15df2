package setup

import (
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Step names one side-effecting stage of install or uninstall.
type Step string

const (
	StepWriteAutostart  Step = "write autostart descriptor"
	StepWriteBundle     Step = "write service bundle"
	StepLoadAgent       Step = "load autostart agent"
	StepLaunch          Step = "launch app"
	StepUnloadAgent     Step = "unload autostart agent"
	StepRemoveAutostart Step = "remove autostart descriptor"
	StepRemoveBundle    Step = "remove service bundle"
)

// Outcome is how a step ended.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeSkipped
	OutcomeWarning
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// StepResult records one step of an operation.
type StepResult struct {
	Step    Step
	Outcome Outcome
	Path    string
	Detail  string // why the step was skipped
	Err     *StepError
}

// Report collects the step results of a single install or uninstall run.
// Warnings never abort the run; they are gathered here for the caller.
type Report struct {
	Operation string
	Steps     []StepResult
}

func newReport(op string) *Report {
	return &Report{Operation: op}
}

func (r *Report) ok(step Step, path string) {
	r.Steps = append(r.Steps, StepResult{Step: step, Outcome: OutcomeOK, Path: path})
}

func (r *Report) skip(step Step, path, why string) {
	r.Steps = append(r.Steps, StepResult{Step: step, Outcome: OutcomeSkipped, Path: path, Detail: why})
}

func (r *Report) warn(step Step, kind error, path string, err error) {
	r.Steps = append(r.Steps, StepResult{
		Step:    step,
		Outcome: OutcomeWarning,
		Path:    path,
		Err:     &StepError{Kind: kind, Step: step, Path: path, Err: err},
	})
}

// Result returns the entry for step, if that step was recorded.
func (r *Report) Result(step Step) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Step == step {
			return s, true
		}
	}
	return StepResult{}, false
}

// Warnings returns the steps that failed.
func (r *Report) Warnings() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Outcome == OutcomeWarning {
			out = append(out, s)
		}
	}
	return out
}

// Err combines every step failure, or returns nil when all steps succeeded
// or were skipped.
func (r *Report) Err() error {
	var err error
	for _, s := range r.Steps {
		if s.Err != nil {
			err = multierr.Append(err, s.Err)
		}
	}
	return err
}

// Log writes one entry per step to logger.
func (r *Report) Log(logger *zap.Logger) {
	for _, s := range r.Steps {
		fields := []zap.Field{
			zap.String("operation", r.Operation),
			zap.String("step", string(s.Step)),
			zap.String("path", s.Path),
		}
		switch s.Outcome {
		case OutcomeWarning:
			logger.Warn("step failed", append(fields, zap.Error(s.Err.Err), zap.String("kind", s.Err.Kind.Error()))...)
		case OutcomeSkipped:
			logger.Debug("step skipped", append(fields, zap.String("reason", s.Detail))...)
		default:
			logger.Debug("step done", fields...)
		}
	}
}

// Print renders the report for a person reading the terminal.
func (r *Report) Print(w io.Writer) {
	for _, s := range r.Steps {
		switch s.Outcome {
		case OutcomeOK:
			if s.Path != "" {
				fmt.Fprintf(w, "  ✓ %s → %s\n", s.Step, s.Path)
			} else {
				fmt.Fprintf(w, "  ✓ %s\n", s.Step)
			}
		case OutcomeSkipped:
			fmt.Fprintf(w, "  - %s: skipped (%s)\n", s.Step, s.Detail)
		case OutcomeWarning:
			fmt.Fprintf(w, "  ⚠ Warning: %s\n", s.Err)
		}
	}

	n := len(r.Warnings())
	if n == 0 {
		fmt.Fprintf(w, "\n%s finished.\n", r.Operation)
		return
	}
	fmt.Fprintf(w, "\n%s finished with %d warning(s). The steps above can be retried by running %s again.\n",
		r.Operation, n, r.Operation)
}
