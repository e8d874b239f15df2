package setup

import (
	"context"
	"fmt"
	"io"

	"github.com/techt3/macostranslate/internal/descriptor"
	"github.com/techt3/macostranslate/internal/registrar"
)

// Status is the registration state as found on disk and in launchd.
type Status struct {
	AutostartInstalled bool
	Bundle             registrar.BundleState
	AgentLoaded        bool
	AgentErr           error // set when the supervisor could not be queried
}

// Installed reports whether both registrations are fully present.
func (s Status) Installed() bool {
	return s.AutostartInstalled && s.Bundle == registrar.BundleComplete
}

// Status inspects the current registration. Only filesystem errors are
// returned; a supervisor that cannot be queried is recorded in AgentErr.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	var st Status
	var err error

	st.AutostartInstalled, err = o.registrar.Exists(o.layout.AutostartPath)
	if err != nil {
		return st, fmt.Errorf("checking autostart descriptor: %w", err)
	}
	st.Bundle, err = o.registrar.BundleStateOf(o.layout.BundlePath, descriptor.ManifestFile, descriptor.WorkflowFile)
	if err != nil {
		return st, fmt.Errorf("checking service bundle: %w", err)
	}
	st.AgentLoaded, st.AgentErr = o.supervisor.IsLoaded(ctx, o.opts.Identifier)
	return st, nil
}

// PrintStatus writes st in the same style as Report.Print.
func (o *Orchestrator) PrintStatus(w io.Writer, st Status) {
	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "✗"
	}
	fmt.Fprintf(w, "  %s autostart descriptor %s\n", mark(st.AutostartInstalled), o.layout.AutostartPath)
	fmt.Fprintf(w, "  %s service bundle %s (%s)\n", mark(st.Bundle == registrar.BundleComplete), o.layout.BundlePath, st.Bundle)
	if st.AgentErr != nil {
		fmt.Fprintf(w, "  ? agent %s: %v\n", o.opts.Identifier, st.AgentErr)
	} else {
		fmt.Fprintf(w, "  %s agent %s loaded\n", mark(st.AgentLoaded), o.opts.Identifier)
	}
}
