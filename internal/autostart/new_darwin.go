//go:build darwin

package autostart

import "go.uber.org/zap"

// New returns the launchd supervisor.
func New(opts Options, logger *zap.Logger) Supervisor {
	return NewLaunchctl(opts, logger)
}
