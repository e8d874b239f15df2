// Package main is the entry point for macostranslate-setup, which registers
// the macostranslate menubar app with launchd and the Services menu when the
// package is installed, and removes both registrations on uninstall.
//
// install and uninstall always exit 0: a failed registration step is printed
// as a warning but never fails the package operation that called us.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/techt3/macostranslate/internal/autostart"
	"github.com/techt3/macostranslate/internal/config"
	"github.com/techt3/macostranslate/internal/descriptor"
	"github.com/techt3/macostranslate/internal/registrar"
	"github.com/techt3/macostranslate/internal/setup"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("macostranslate-setup", pflag.ContinueOnError)
	flags.SetOutput(stderr)

	var cli config.CLIOverrides
	configPath := flags.StringP("config", "c", "", "Path to configuration file (default: search standard locations)")
	flags.StringVarP(&cli.ExecPath, "exec", "e", "", "Absolute path of the installed executable")
	flags.StringVar(&cli.Identifier, "identifier", "", "launchd label of the autostart agent")
	flags.StringVar(&cli.AppName, "app-name", "", "Name of the Services bundle (default: executable file name)")
	flags.StringVar(&cli.Home, "home", "", "Home directory to register under (default: current user)")
	flags.StringVar(&cli.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	noLoad := flags.Bool("no-load", false, "Write the autostart descriptor without loading it")
	noLaunch := flags.Bool("no-launch", false, "Do not start the app after install")
	showVersion := flags.Bool("version", false, "Show version and exit")
	flags.Usage = func() { usage(stderr, flags) }

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVersion {
		fmt.Fprintf(stdout, "macostranslate-setup %s\n", version)
		return 0
	}
	if flags.NArg() != 1 {
		usage(stderr, flags)
		return 2
	}
	command := flags.Arg(0)

	if flags.Changed("no-load") {
		load := !*noLoad
		cli.Load = &load
	}
	if flags.Changed("no-launch") {
		launch := !*noLaunch
		cli.Launch = &launch
	}

	var cfg *config.Config
	var err error
	if flags.Changed("config") {
		cfg, err = config.LoadLayered(cli, embeddedConfig, *configPath)
	} else {
		cfg, err = config.LoadLayered(cli, embeddedConfig)
	}
	if err == nil {
		err = cfg.Validate()
	}

	switch command {
	case "install", "uninstall":
		return runLifecycle(command, cfg, err, stdout, stderr)
	case "status":
		if err != nil {
			fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
			return 1
		}
		return runStatus(cfg, stdout, stderr)
	case "render":
		if err != nil {
			fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
			return 1
		}
		return runRender(cfg, stdout, stderr)
	case "config-init":
		if err != nil {
			fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
			return 1
		}
		return runConfigInit(cfg, *configPath, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		usage(stderr, flags)
		return 2
	}
}

func usage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintln(w, "Usage: macostranslate-setup [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  install      register autostart and the keyboard shortcut service")
	fmt.Fprintln(w, "  uninstall    remove both registrations")
	fmt.Fprintln(w, "  status       show what is currently registered")
	fmt.Fprintln(w, "  render       print the descriptors without writing them")
	fmt.Fprintln(w, "  config-init  write the effective configuration to a file")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, flags.FlagUsages())
}

// runLifecycle never returns a failure code: the caller is a package manager
// and registration is a convenience on top of the installed binary.
func runLifecycle(command string, cfg *config.Config, cfgErr error, stdout, stderr io.Writer) int {
	if cfgErr != nil {
		fmt.Fprintf(stderr, "⚠ Warning: skipping %s, configuration is invalid: %v\n", command, cfgErr)
		return 0
	}
	logger := initLogger(cfg, stderr)
	defer logger.Sync()

	if err := setup.CheckUser(); err != nil {
		logger.Warn("refusing per-user registration", zap.Error(err))
		fmt.Fprintf(stderr, "⚠ Warning: skipping %s: %v\n", command, err)
		return 0
	}

	orch, err := newOrchestrator(cfg, logger)
	if err != nil {
		logger.Warn("cannot prepare registration", zap.Error(err))
		fmt.Fprintf(stderr, "⚠ Warning: skipping %s: %v\n", command, err)
		return 0
	}

	ctx := context.Background()
	var rep *setup.Report
	if command == "install" {
		fmt.Fprintf(stdout, "Registering %s...\n", cfg.App.ExecPath)
		rep = orch.Install(ctx)
	} else {
		fmt.Fprintf(stdout, "Removing registrations for %s...\n", cfg.App.Identifier)
		rep = orch.Uninstall(ctx)
	}
	rep.Print(stdout)
	return 0
}

func runStatus(cfg *config.Config, stdout, stderr io.Writer) int {
	logger := initLogger(cfg, stderr)
	defer logger.Sync()

	orch, err := newOrchestrator(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	st, err := orch.Status(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	orch.PrintStatus(stdout, st)
	if st.Installed() {
		fmt.Fprintln(stdout, "\nInstalled.")
	} else {
		fmt.Fprintln(stdout, "\nNot installed.")
	}
	return 0
}

func runRender(cfg *config.Config, stdout, stderr io.Writer) int {
	name := cfg.App.Name
	if name == "" {
		name = setup.AppNameFromExec(cfg.App.ExecPath)
	}
	label := cfg.App.MenuLabel
	if label == "" {
		label = descriptor.MenuLabel(name)
	}

	agent, err := descriptor.Autostart(cfg.App.Identifier, cfg.App.ExecPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	bundle, err := descriptor.Bundle(label, cfg.App.ExecPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "==> LaunchAgents/%s.plist\n%s\n", cfg.App.Identifier, agent)
	for _, file := range []string{descriptor.ManifestFile, descriptor.WorkflowFile} {
		fmt.Fprintf(stdout, "==> Services/%s.workflow/%s\n%s\n", name, file, bundle[file])
	}
	return 0
}

func runConfigInit(cfg *config.Config, path string, stdout, stderr io.Writer) int {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		path = filepath.Join(home, ".macostranslate", "setup.yaml")
	}
	if err := config.WriteConfig(cfg, path); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "  ✓ Written config → %s\n", path)
	return 0
}

func newOrchestrator(cfg *config.Config, logger *zap.Logger) (*setup.Orchestrator, error) {
	home, err := cfg.ResolveHome()
	if err != nil {
		return nil, err
	}
	reg, err := registrar.New(home, logger)
	if err != nil {
		return nil, err
	}
	sup := autostart.New(autostart.Options{
		Binary:  cfg.Supervisor.Launchctl,
		Timeout: cfg.Supervisor.Timeout.Duration,
	}, logger)

	return setup.New(setup.Options{
		Identifier:    cfg.App.Identifier,
		ExecPath:      cfg.App.ExecPath,
		AppName:       cfg.App.Name,
		MenuLabel:     cfg.App.MenuLabel,
		Load:          cfg.Install.Load,
		Launch:        cfg.Install.Launch,
		BundleRetries: cfg.Install.BundleRetries,
		RetryDelay:    cfg.Install.RetryDelay.Duration,
	}, home, reg, sup, logger)
}

// initLogger creates a zap logger based on the configuration.
// It writes human-readable output to console and optionally JSON to a log file.
func initLogger(cfg *config.Config, console io.Writer) *zap.Logger {
	var level zapcore.Level
	switch cfg.Logging.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.WarnLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(console),
		level,
	)

	cores := []zapcore.Core{consoleCore}

	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			fileCore := zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			)
			cores = append(cores, fileCore)
		}
	}

	return zap.New(zapcore.NewTee(cores...)).Named("macostranslate-setup")
}
