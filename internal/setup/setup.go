// Package setup sequences the registration steps performed when the app is
// installed or removed. Each step runs even if an earlier one failed; the
// outcome of every step is collected in a Report.
package setup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/techt3/macostranslate/internal/autostart"
	"github.com/techt3/macostranslate/internal/descriptor"
	"github.com/techt3/macostranslate/internal/registrar"
)

// Registrar is the filesystem side of registration.
type Registrar interface {
	Exists(path string) (bool, error)
	WriteDescriptor(path string, content []byte) error
	DeleteDescriptor(path string) error
	WriteBundle(dir string, files map[string][]byte) error
	DeleteBundle(dir string) error
	BundleStateOf(dir string, names ...string) (registrar.BundleState, error)
}

// Options describes what to register.
type Options struct {
	Identifier string // launchd label, e.g. pl.com.t3.macostranslate
	ExecPath   string // absolute path of the installed executable
	AppName    string // bundle name; defaults to the executable's file name
	MenuLabel  string // Services menu title; defaults to "Open <AppName>"

	Load   bool // load the agent into the running session after writing it
	Launch bool // start the app once after install

	BundleRetries int
	RetryDelay    time.Duration
}

// Orchestrator runs install and uninstall for one app and one user.
type Orchestrator struct {
	opts       Options
	layout     Layout
	registrar  Registrar
	supervisor autostart.Supervisor
	logger     *zap.Logger
}

// New validates opts against home and returns an Orchestrator.
func New(opts Options, home string, reg Registrar, sup autostart.Supervisor, logger *zap.Logger) (*Orchestrator, error) {
	if opts.AppName == "" {
		opts.AppName = AppNameFromExec(opts.ExecPath)
	}
	if opts.MenuLabel == "" {
		opts.MenuLabel = descriptor.MenuLabel(opts.AppName)
	}
	if opts.BundleRetries < 0 {
		opts.BundleRetries = 0
	}
	layout, err := ResolveLayout(home, opts.Identifier, opts.AppName)
	if err != nil {
		return nil, fmt.Errorf("resolving install layout: %w", err)
	}
	return &Orchestrator{
		opts:       opts,
		layout:     layout,
		registrar:  reg,
		supervisor: sup,
		logger:     logger.Named("setup"),
	}, nil
}

// Layout returns the resolved artifact paths.
func (o *Orchestrator) Layout() Layout { return o.layout }

// Install writes both descriptors, loads the agent and launches the app.
// It always runs to the end; failures are returned as warnings in the Report.
func (o *Orchestrator) Install(ctx context.Context) *Report {
	rep := newReport("install")
	o.logger.Info("installing",
		zap.String("identifier", o.opts.Identifier),
		zap.String("exec_path", o.opts.ExecPath),
		zap.String("home", o.layout.Home))

	agentWritten := o.writeAutostart(rep)
	o.writeBundle(ctx, rep)

	loaded := false
	switch {
	case !o.opts.Load:
		rep.skip(StepLoadAgent, o.layout.AutostartPath, "disabled")
	case !agentWritten:
		rep.skip(StepLoadAgent, o.layout.AutostartPath, "autostart descriptor was not written")
	default:
		if err := o.supervisor.Load(ctx, o.layout.AutostartPath); err != nil {
			rep.warn(StepLoadAgent, ErrSupervisorLoad, o.layout.AutostartPath, err)
		} else {
			rep.ok(StepLoadAgent, o.layout.AutostartPath)
			loaded = true
		}
	}

	// The agent runs at load, so launchd has already started the app.
	switch {
	case !o.opts.Launch:
		rep.skip(StepLaunch, o.opts.ExecPath, "disabled")
	case loaded:
		rep.skip(StepLaunch, o.opts.ExecPath, "started by "+o.supervisor.Name()+" at load")
	default:
		if err := o.supervisor.Launch(ctx, o.opts.ExecPath); err != nil {
			rep.warn(StepLaunch, ErrLaunch, o.opts.ExecPath, err)
		} else {
			rep.ok(StepLaunch, o.opts.ExecPath)
		}
	}

	rep.Log(o.logger)
	return rep
}

func (o *Orchestrator) writeAutostart(rep *Report) bool {
	path := o.layout.AutostartPath
	content, err := descriptor.Autostart(o.opts.Identifier, o.opts.ExecPath)
	if err != nil {
		rep.warn(StepWriteAutostart, ErrDescriptorWrite, path, err)
		return false
	}
	if err := o.registrar.WriteDescriptor(path, content); err != nil {
		rep.warn(StepWriteAutostart, ErrDescriptorWrite, path, err)
		return false
	}
	rep.ok(StepWriteAutostart, path)
	return true
}

func (o *Orchestrator) writeBundle(ctx context.Context, rep *Report) {
	dir := o.layout.BundlePath
	files, err := descriptor.Bundle(o.opts.MenuLabel, o.opts.ExecPath)
	if err != nil {
		rep.warn(StepWriteBundle, ErrDescriptorWrite, dir, err)
		return
	}

	expBackoff := backoff.NewExponentialBackOff()
	if o.opts.RetryDelay > 0 {
		expBackoff.InitialInterval = o.opts.RetryDelay
		expBackoff.MaxInterval = 10 * o.opts.RetryDelay
	}
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := o.registrar.WriteBundle(dir, files)
		if errors.Is(err, registrar.ErrOutsideRoot) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(o.opts.BundleRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			o.logger.Debug("bundle write failed, retrying",
				zap.Int("attempt", attempt), zap.Duration("next", next), zap.Error(err))
		}),
	)
	if err != nil {
		o.dropPartialBundle(dir)
		rep.warn(StepWriteBundle, ErrDescriptorWrite, dir, err)
		return
	}
	rep.ok(StepWriteBundle, dir)
}

// dropPartialBundle removes a bundle left with only some of its files, such
// as one created by an older installer that was interrupted.
func (o *Orchestrator) dropPartialBundle(dir string) {
	state, err := o.registrar.BundleStateOf(dir, descriptor.ManifestFile, descriptor.WorkflowFile)
	if err != nil || state != registrar.BundleInconsistent {
		return
	}
	if err := o.registrar.DeleteBundle(dir); err != nil {
		o.logger.Warn("could not remove incomplete bundle", zap.String("path", dir), zap.Error(err))
	}
}

// Uninstall unloads and removes the agent descriptor and removes the service
// bundle. Artifacts that are already absent are skipped, so uninstalling
// twice, or without a prior install, changes nothing and reports no warnings.
func (o *Orchestrator) Uninstall(ctx context.Context) *Report {
	rep := newReport("uninstall")
	o.logger.Info("uninstalling",
		zap.String("identifier", o.opts.Identifier),
		zap.String("home", o.layout.Home))

	plist := o.layout.AutostartPath
	exists, err := o.registrar.Exists(plist)
	switch {
	case err != nil:
		rep.warn(StepRemoveAutostart, ErrDescriptorDelete, plist, err)
	case !exists:
		rep.skip(StepUnloadAgent, plist, "not installed")
		rep.skip(StepRemoveAutostart, plist, "not installed")
	default:
		if err := o.supervisor.Unload(ctx, plist); err != nil {
			rep.warn(StepUnloadAgent, ErrSupervisorUnload, plist, err)
		} else {
			rep.ok(StepUnloadAgent, plist)
		}
		if err := o.registrar.DeleteDescriptor(plist); err != nil {
			rep.warn(StepRemoveAutostart, ErrDescriptorDelete, plist, err)
		} else {
			rep.ok(StepRemoveAutostart, plist)
		}
	}

	dir := o.layout.BundlePath
	exists, err = o.registrar.Exists(dir)
	switch {
	case err != nil:
		rep.warn(StepRemoveBundle, ErrDescriptorDelete, dir, err)
	case !exists:
		rep.skip(StepRemoveBundle, dir, "not installed")
	default:
		if err := o.registrar.DeleteBundle(dir); err != nil {
			rep.warn(StepRemoveBundle, ErrDescriptorDelete, dir, err)
		} else {
			rep.ok(StepRemoveBundle, dir)
		}
	}

	rep.Log(o.logger)
	return rep
}
