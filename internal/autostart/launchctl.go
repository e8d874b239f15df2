package autostart

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultLaunchctl = "launchctl"
	defaultTimeout   = 5 * time.Second
)

// Output fragments launchctl prints for states the installer treats as
// success.
var (
	alreadyLoaded = []string{"already loaded", "service already bootstrapped"}
	notLoaded     = []string{"could not find specified service", "not loaded", "no such process", "could not find service"}
	ioFailure     = []string{"input/output error"}

	// Legacy load/unload often exit 0 while printing a failure.
	failureMarkers = []string{"failed", "error", "invalid", "no such file"}
)

// Options configures a launchctl Supervisor.
type Options struct {
	// Binary is the launchctl executable. Defaults to "launchctl" on PATH.
	Binary string
	// Timeout bounds every launchctl call and the running-process scan.
	// Defaults to five seconds.
	Timeout time.Duration
	// Runner executes launchctl. Defaults to os/exec.
	Runner Runner
}

// Launchctl implements Supervisor on top of the launchctl command.
type Launchctl struct {
	binary  string
	timeout time.Duration
	runner  Runner
	logger  *zap.Logger

	running func(ctx context.Context, execPath string) (bool, error)
	start   func(execPath string) (int, error)
}

// NewLaunchctl returns a launchctl-backed Supervisor.
func NewLaunchctl(opts Options, logger *zap.Logger) *Launchctl {
	if opts.Binary == "" {
		opts.Binary = defaultLaunchctl
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Runner == nil {
		opts.Runner = execRunner{}
	}
	return &Launchctl{
		binary:  opts.Binary,
		timeout: opts.Timeout,
		runner:  opts.Runner,
		logger:  logger.Named("launchctl"),
		running: processRunning,
		start:   startDetached,
	}
}

func (l *Launchctl) Name() string { return "launchd" }

func (l *Launchctl) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	out, err := l.runner.Run(ctx, l.binary, args...)
	output := strings.TrimSpace(string(out))
	l.logger.Debug("launchctl finished",
		zap.Strings("args", args),
		zap.String("output", output),
		zap.Error(err))
	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("%s %s: timed out after %s", l.binary, strings.Join(args, " "), l.timeout)
	}
	return output, err
}

// Load runs "launchctl load -w". A copy of the job that is already loaded is
// unloaded first, so a rewritten descriptor replaces it.
func (l *Launchctl) Load(ctx context.Context, plistPath string) error {
	if err := l.Unload(ctx, plistPath); err != nil {
		l.logger.Debug("unload before load failed", zap.String("path", plistPath), zap.Error(err))
	}

	out, err := l.run(ctx, "load", "-w", plistPath)
	if containsAny(out, alreadyLoaded) {
		l.logger.Debug("agent already loaded", zap.String("path", plistPath))
		return nil
	}
	if err == nil && !containsAny(out, failureMarkers) {
		return nil
	}
	// launchd on macOS 11 and later reports a loaded job as an I/O error.
	if containsAny(out, ioFailure) {
		if loaded, lerr := l.IsLoaded(ctx, labelOf(plistPath)); lerr == nil && loaded {
			l.logger.Debug("agent already loaded", zap.String("path", plistPath), zap.String("output", out))
			return nil
		}
	}
	return commandError("load", plistPath, out, err)
}

// Unload runs "launchctl unload". An agent that was never loaded is not an
// error.
func (l *Launchctl) Unload(ctx context.Context, plistPath string) error {
	out, err := l.run(ctx, "unload", plistPath)
	if containsAny(out, notLoaded) {
		l.logger.Debug("agent was not loaded", zap.String("path", plistPath))
		return nil
	}
	if err != nil {
		return commandError("unload", plistPath, out, err)
	}
	if containsAny(out, failureMarkers) {
		return commandError("unload", plistPath, out, nil)
	}
	return nil
}

// IsLoaded queries the per-user GUI domain for label.
func (l *Launchctl) IsLoaded(ctx context.Context, label string) (bool, error) {
	uid, err := currentUID()
	if err != nil {
		return false, err
	}
	target := fmt.Sprintf("gui/%d/%s", uid, label)
	out, err := l.run(ctx, "print", target)
	if err == nil {
		return true, nil
	}
	if containsAny(out, notLoaded) {
		return false, nil
	}
	return false, commandError("print", target, out, err)
}

// Launch starts execPath in its own session unless it is already running.
// The process scan is bounded by the supervisor timeout.
func (l *Launchctl) Launch(ctx context.Context, execPath string) error {
	scanCtx, cancel := context.WithTimeout(ctx, l.timeout)
	running, err := l.running(scanCtx, execPath)
	cancel()
	if err != nil {
		l.logger.Debug("process scan failed, launching anyway", zap.Error(err))
	}
	if running {
		l.logger.Info("app already running, not launching again", zap.String("path", execPath))
		return nil
	}
	pid, err := l.start(execPath)
	if err != nil {
		return fmt.Errorf("starting %s: %w", execPath, err)
	}
	l.logger.Info("app launched", zap.String("path", execPath), zap.Int("pid", pid))
	return nil
}

// labelOf derives the job label from a descriptor named <label>.plist.
func labelOf(plistPath string) string {
	return strings.TrimSuffix(filepath.Base(plistPath), ".plist")
}

func commandError(verb, target, output string, err error) error {
	msg := fmt.Sprintf("launchctl %s %s", verb, target)
	if output != "" {
		msg += ": " + output
	}
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s", msg)
}

func containsAny(s string, fragments []string) bool {
	s = strings.ToLower(s)
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}
