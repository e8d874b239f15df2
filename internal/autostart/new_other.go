//go:build !darwin

package autostart

import "go.uber.org/zap"

// New returns a supervisor that reports ErrUnsupported; launchd only exists
// on macOS.
func New(_ Options, logger *zap.Logger) Supervisor {
	logger.Named("launchctl").Debug("launchd not available on this platform")
	return Unsupported()
}
