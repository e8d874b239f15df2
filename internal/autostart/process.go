package autostart

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// processRunning reports whether any process was started from execPath.
// Processes whose executable cannot be read (other users, exited) are skipped.
// Names are compared before executables, which are costly to resolve on darwin.
func processRunning(ctx context.Context, execPath string) (bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, err
	}
	want := canonical(execPath)
	base := filepath.Base(execPath)
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if name, err := p.NameWithContext(ctx); err == nil && !sameName(name, base) {
			continue
		}
		exe, err := p.ExeWithContext(ctx)
		if err != nil || exe == "" {
			continue
		}
		if canonical(exe) == want {
			return true, nil
		}
	}
	return false, nil
}

// sameName matches a process name against an executable's base name. The
// kernel truncates long process names.
func sameName(name, base string) bool {
	if name == "" || name == base {
		return true
	}
	return len(name) >= 15 && strings.HasPrefix(base, name)
}

func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}
