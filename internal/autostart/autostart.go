// Package autostart drives the host service supervisor (launchd on macOS):
// loading and unloading the login agent and starting the app detached.
// Every call reports failure as an error value; none of them panic or exit.
package autostart

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by every Supervisor call on hosts without launchd.
var ErrUnsupported = errors.New("service supervisor not available on this platform")

// Supervisor is the host service manager as seen by the installer.
type Supervisor interface {
	// Load asks the supervisor to load the agent described by plistPath.
	// An agent that is already loaded counts as success.
	Load(ctx context.Context, plistPath string) error
	// Unload removes the agent described by plistPath from the running
	// session. An agent that is not loaded counts as success.
	Unload(ctx context.Context, plistPath string) error
	// IsLoaded reports whether an agent with the given label is loaded.
	IsLoaded(ctx context.Context, label string) (bool, error)
	// Launch starts execPath once, detached from the caller. If the
	// executable is already running nothing is started.
	Launch(ctx context.Context, execPath string) error
	// Name identifies the supervisor in logs.
	Name() string
}

type unsupported struct{}

// Unsupported returns a Supervisor whose every call fails with ErrUnsupported.
func Unsupported() Supervisor { return unsupported{} }

func (unsupported) Load(context.Context, string) error { return ErrUnsupported }
func (unsupported) Unload(context.Context, string) error { return ErrUnsupported }
func (unsupported) IsLoaded(context.Context, string) (bool, error) { return false, ErrUnsupported }
func (unsupported) Launch(context.Context, string) error { return ErrUnsupported }
func (unsupported) Name() string { return "none" }
