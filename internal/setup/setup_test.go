package setup

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"howett.net/plist"

	"github.com/techt3/macostranslate/internal/autostart"
	"github.com/techt3/macostranslate/internal/descriptor"
	"github.com/techt3/macostranslate/internal/registrar"
)

// fakeSupervisor records calls and returns the results of its hooks.
type fakeSupervisor struct {
	loads, unloads, launches []string

	loadFn   func(path string) error
	unloadFn func(path string) error
	launchFn func(path string) error
	loadedFn func(label string) (bool, error)
}

func (f *fakeSupervisor) Load(_ context.Context, path string) error {
	f.loads = append(f.loads, path)
	if f.loadFn != nil {
		return f.loadFn(path)
	}
	return nil
}

func (f *fakeSupervisor) Unload(_ context.Context, path string) error {
	f.unloads = append(f.unloads, path)
	if f.unloadFn != nil {
		return f.unloadFn(path)
	}
	return nil
}

func (f *fakeSupervisor) IsLoaded(_ context.Context, label string) (bool, error) {
	if f.loadedFn != nil {
		return f.loadedFn(label)
	}
	return len(f.loads) > len(f.unloads), nil
}

func (f *fakeSupervisor) Launch(_ context.Context, path string) error {
	f.launches = append(f.launches, path)
	if f.launchFn != nil {
		return f.launchFn(path)
	}
	return nil
}

func (f *fakeSupervisor) Name() string { return "fake" }

// flakyRegistrar fails the first failBundle WriteBundle calls; -1 fails all.
type flakyRegistrar struct {
	*registrar.Registrar
	failBundle   int
	bundleWrites int
}

func (f *flakyRegistrar) WriteBundle(dir string, files map[string][]byte) error {
	f.bundleWrites++
	if f.failBundle < 0 || f.bundleWrites <= f.failBundle {
		return errors.New("no space left on device")
	}
	return f.Registrar.WriteBundle(dir, files)
}

const (
	testIdentifier = "pl.com.t3.app"
	testExecPath   = "/usr/local/bin/app"
)

type fixture struct {
	home string
	reg  *registrar.Registrar
	sup  *fakeSupervisor
	logs *observer.ObservedLogs
	orch *Orchestrator
}

func defaultOptions() Options {
	return Options{
		Identifier:    testIdentifier,
		ExecPath:      testExecPath,
		Load:          true,
		Launch:        true,
		BundleRetries: 2,
		RetryDelay:    time.Millisecond,
	}
}

func newFixture(t *testing.T, opts Options, wrap func(*registrar.Registrar) Registrar) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	home := t.TempDir()
	reg, err := registrar.New(home, logger)
	require.NoError(t, err)

	var r Registrar = reg
	if wrap != nil {
		r = wrap(reg)
	}
	sup := &fakeSupervisor{}
	orch, err := New(opts, reg.Root(), r, sup, logger)
	require.NoError(t, err)

	return &fixture{home: reg.Root(), reg: reg, sup: sup, logs: logs, orch: orch}
}

// snapshot maps every regular file under root to its content.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		files[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

func outcome(t *testing.T, rep *Report, step Step) Outcome {
	t.Helper()
	res, ok := rep.Result(step)
	require.True(t, ok, "step %q missing from report", step)
	return res.Outcome
}

func TestInstall_WritesDescriptors(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)

	rep := f.orch.Install(context.Background())
	require.NoError(t, rep.Err())

	plistPath := filepath.Join(f.home, "Library", "LaunchAgents", "pl.com.t3.app.plist")
	data, err := os.ReadFile(plistPath)
	require.NoError(t, err)
	var agent struct {
		Label            string   `plist:"Label"`
		ProgramArguments []string `plist:"ProgramArguments"`
	}
	_, err = plist.Unmarshal(data, &agent)
	require.NoError(t, err)
	assert.Equal(t, testIdentifier, agent.Label)
	assert.Equal(t, []string{testExecPath}, agent.ProgramArguments)

	bundle := filepath.Join(f.home, "Library", "Services", "app.workflow")
	assert.FileExists(t, filepath.Join(bundle, "Contents", "Info.plist"))
	assert.FileExists(t, filepath.Join(bundle, "Contents", "document.wflow"))

	assert.Equal(t, []string{plistPath}, f.sup.loads)
	for _, step := range []Step{StepWriteAutostart, StepWriteBundle, StepLoadAgent} {
		assert.Equal(t, OutcomeOK, outcome(t, rep, step), step)
	}

	// RunAtLoad starts the app, so it is not launched a second time.
	assert.Empty(t, f.sup.launches)
	assert.Equal(t, OutcomeSkipped, outcome(t, rep, StepLaunch))
}

func TestInstall_LaunchesWhenLoadDisabled(t *testing.T) {
	opts := defaultOptions()
	opts.Load = false
	f := newFixture(t, opts, nil)

	rep := f.orch.Install(context.Background())
	require.NoError(t, rep.Err())
	assert.Equal(t, []string{testExecPath}, f.sup.launches)
	assert.Equal(t, OutcomeOK, outcome(t, rep, StepLaunch))
}

// modernLaunchd mimics launchctl on macOS 11 and later for a single job.
type modernLaunchd struct {
	loaded     bool
	denyUnload bool
	loads      int
}

func (m *modernLaunchd) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	exit := errors.New("exit status 5")
	switch args[0] {
	case "load":
		if m.loaded {
			return []byte("Load failed: 5: Input/output error"), exit
		}
		m.loaded = true
		m.loads++
	case "unload":
		if m.denyUnload {
			return []byte("Unload failed: 1: Operation not permitted"), exit
		}
		if !m.loaded {
			return []byte("Unload failed: 5: Input/output error"), exit
		}
		m.loaded = false
	case "print":
		if !m.loaded {
			return []byte(`Could not find service "pl.com.t3.app" in domain for port`), exit
		}
	}
	return nil, nil
}

func TestInstall_TwiceWithModernLaunchctl(t *testing.T) {
	tests := []struct {
		name       string
		denyUnload bool
		wantLoads  int
	}{
		{"reloads the job", false, 2},
		{"keeps the loaded job", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := t.TempDir()
			reg, err := registrar.New(home, zap.NewNop())
			require.NoError(t, err)
			launchd := &modernLaunchd{denyUnload: tt.denyUnload}
			sup := autostart.NewLaunchctl(autostart.Options{Timeout: time.Second, Runner: launchd}, zap.NewNop())

			opts := defaultOptions()
			opts.Launch = false
			orch, err := New(opts, reg.Root(), reg, sup, zap.NewNop())
			require.NoError(t, err)

			for i := 0; i < 2; i++ {
				rep := orch.Install(context.Background())
				require.NoError(t, rep.Err(), "install %d", i+1)
				assert.Equal(t, OutcomeOK, outcome(t, rep, StepLoadAgent))
			}
			assert.True(t, launchd.loaded)
			assert.Equal(t, tt.wantLoads, launchd.loads)
		})
	}
}

func TestInstall_Idempotent(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)

	require.NoError(t, f.orch.Install(context.Background()).Err())
	first := snapshot(t, f.home)

	require.NoError(t, f.orch.Install(context.Background()).Err())
	assert.Equal(t, first, snapshot(t, f.home))

	entries, err := os.ReadDir(filepath.Join(f.home, "Library", "Services"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "app.workflow", entries[0].Name())
}

func TestUninstall_NeverInstalled(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)

	rep := f.orch.Uninstall(context.Background())
	require.NoError(t, rep.Err())
	assert.Empty(t, rep.Warnings())

	entries, err := os.ReadDir(f.home)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, f.sup.unloads)
}

func TestInstallUninstall_RoundTrip(t *testing.T) {
	paths := []string{"/usr/local/bin/app", "/Applications/Q&A <beta>/it's app", "/opt/homebrew/bin/macostranslate"}
	for _, execPath := range paths {
		t.Run(execPath, func(t *testing.T) {
			opts := defaultOptions()
			opts.ExecPath = execPath
			f := newFixture(t, opts, nil)
			before := snapshot(t, f.home)

			require.NoError(t, f.orch.Install(context.Background()).Err())
			require.NoError(t, f.orch.Uninstall(context.Background()).Err())

			assert.Equal(t, before, snapshot(t, f.home))
			assert.NoFileExists(t, f.orch.Layout().AutostartPath)
			assert.NoDirExists(t, f.orch.Layout().BundlePath)

			leftovers, err := os.ReadDir(f.orch.Layout().ServicesDir)
			require.NoError(t, err)
			assert.Empty(t, leftovers)
		})
	}
}

func TestUninstall_SecondCallIsNoop(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)
	require.NoError(t, f.orch.Install(context.Background()).Err())

	rep := f.orch.Uninstall(context.Background())
	require.NoError(t, rep.Err())
	assert.Equal(t, OutcomeOK, outcome(t, rep, StepRemoveAutostart))
	assert.Equal(t, OutcomeOK, outcome(t, rep, StepRemoveBundle))
	before := snapshot(t, f.home)

	rep = f.orch.Uninstall(context.Background())
	require.NoError(t, rep.Err())
	for _, s := range rep.Steps {
		assert.Equal(t, OutcomeSkipped, s.Outcome, s.Step)
	}
	assert.Len(t, f.sup.unloads, 1)
	assert.Equal(t, before, snapshot(t, f.home))
}

func TestInstall_SupervisorAlwaysFails(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)
	f.sup.loadFn = func(string) error { return errors.New("launchctl: Load failed: 5: Input/output error") }
	f.sup.launchFn = func(string) error { return errors.New("permission denied") }

	rep := f.orch.Install(context.Background())

	assert.FileExists(t, f.orch.Layout().AutostartPath)
	assert.FileExists(t, filepath.Join(f.orch.Layout().BundlePath, descriptor.ManifestFile))
	assert.FileExists(t, filepath.Join(f.orch.Layout().BundlePath, descriptor.WorkflowFile))

	assert.Equal(t, OutcomeOK, outcome(t, rep, StepWriteAutostart))
	assert.Equal(t, OutcomeOK, outcome(t, rep, StepWriteBundle))
	assert.Equal(t, OutcomeWarning, outcome(t, rep, StepLoadAgent))
	assert.Equal(t, OutcomeWarning, outcome(t, rep, StepLaunch))

	err := rep.Err()
	assert.ErrorIs(t, err, ErrSupervisorLoad)
	assert.ErrorIs(t, err, ErrLaunch)
	assert.NotErrorIs(t, err, ErrDescriptorWrite)

	assert.Equal(t, 2, f.logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestInstall_AutostartWriteFailureContinues(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)
	// A file where the LaunchAgents directory should be blocks the write.
	require.NoError(t, os.MkdirAll(filepath.Join(f.home, "Library"), 0o755))
	require.NoError(t, os.WriteFile(f.orch.Layout().LaunchAgentsDir, []byte("x"), 0o644))

	rep := f.orch.Install(context.Background())

	assert.Equal(t, OutcomeWarning, outcome(t, rep, StepWriteAutostart))
	assert.Equal(t, OutcomeOK, outcome(t, rep, StepWriteBundle))
	assert.Equal(t, OutcomeSkipped, outcome(t, rep, StepLoadAgent))
	assert.Equal(t, OutcomeOK, outcome(t, rep, StepLaunch))
	assert.ErrorIs(t, rep.Err(), ErrDescriptorWrite)
	assert.Empty(t, f.sup.loads)

	res, _ := rep.Result(StepWriteAutostart)
	assert.Contains(t, res.Err.Error(), f.orch.Layout().AutostartPath)
}

func TestInstall_BundleRetried(t *testing.T) {
	var flaky *flakyRegistrar
	f := newFixture(t, defaultOptions(), func(r *registrar.Registrar) Registrar {
		flaky = &flakyRegistrar{Registrar: r, failBundle: 1}
		return flaky
	})

	rep := f.orch.Install(context.Background())
	require.NoError(t, rep.Err())
	assert.Equal(t, 2, flaky.bundleWrites)
	assert.DirExists(t, f.orch.Layout().BundlePath)
}

func TestInstall_BundleNeverHalfWritten(t *testing.T) {
	var flaky *flakyRegistrar
	f := newFixture(t, defaultOptions(), func(r *registrar.Registrar) Registrar {
		flaky = &flakyRegistrar{Registrar: r, failBundle: -1}
		return flaky
	})
	// Leftover from an interrupted older install: manifest only.
	manifest := filepath.Join(f.orch.Layout().BundlePath, descriptor.ManifestFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(manifest), 0o755))
	require.NoError(t, os.WriteFile(manifest, []byte("partial"), 0o644))

	rep := f.orch.Install(context.Background())

	assert.Equal(t, 3, flaky.bundleWrites)
	assert.Equal(t, OutcomeWarning, outcome(t, rep, StepWriteBundle))
	assert.ErrorIs(t, rep.Err(), ErrDescriptorWrite)
	assert.NoDirExists(t, f.orch.Layout().BundlePath)
	assert.Equal(t, OutcomeOK, outcome(t, rep, StepWriteAutostart))
	assert.Equal(t, OutcomeOK, outcome(t, rep, StepLoadAgent))
}

func TestInstall_StepsDisabled(t *testing.T) {
	opts := defaultOptions()
	opts.Load = false
	opts.Launch = false
	f := newFixture(t, opts, nil)

	rep := f.orch.Install(context.Background())
	require.NoError(t, rep.Err())
	assert.Equal(t, OutcomeSkipped, outcome(t, rep, StepLoadAgent))
	assert.Equal(t, OutcomeSkipped, outcome(t, rep, StepLaunch))
	assert.Empty(t, f.sup.loads)
	assert.Empty(t, f.sup.launches)
}

func TestInstall_InvalidExecPath(t *testing.T) {
	opts := defaultOptions()
	opts.ExecPath = "relative/app"
	f := newFixture(t, opts, nil)

	rep := f.orch.Install(context.Background())

	assert.Equal(t, OutcomeWarning, outcome(t, rep, StepWriteAutostart))
	assert.Equal(t, OutcomeWarning, outcome(t, rep, StepWriteBundle))
	assert.Equal(t, OutcomeSkipped, outcome(t, rep, StepLoadAgent))
	assert.ErrorIs(t, rep.Err(), descriptor.ErrInvalidInput)
	assert.Empty(t, snapshot(t, f.home))
}

func TestUninstall_UnloadFailureStillRemoves(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)
	require.NoError(t, f.orch.Install(context.Background()).Err())
	f.sup.unloadFn = func(string) error { return errors.New("launchctl unload: Operation not permitted") }

	rep := f.orch.Uninstall(context.Background())

	assert.Equal(t, OutcomeWarning, outcome(t, rep, StepUnloadAgent))
	assert.Equal(t, OutcomeOK, outcome(t, rep, StepRemoveAutostart))
	assert.Equal(t, OutcomeOK, outcome(t, rep, StepRemoveBundle))
	assert.ErrorIs(t, rep.Err(), ErrSupervisorUnload)
	assert.NoFileExists(t, f.orch.Layout().AutostartPath)
}

func TestNew_RejectsUnsafeNames(t *testing.T) {
	reg, err := registrar.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	for _, opts := range []Options{
		{Identifier: "../../evil", ExecPath: testExecPath},
		{Identifier: testIdentifier, ExecPath: testExecPath, AppName: "../app"},
		{Identifier: testIdentifier, ExecPath: testExecPath, AppName: ".."},
		{Identifier: "", ExecPath: testExecPath},
	} {
		_, err := New(opts, reg.Root(), reg, &fakeSupervisor{}, zap.NewNop())
		assert.Error(t, err, "%+v", opts)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)

	st, err := f.orch.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Installed())
	assert.Equal(t, registrar.BundleAbsent, st.Bundle)

	require.NoError(t, f.orch.Install(context.Background()).Err())
	st, err = f.orch.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Installed())
	assert.True(t, st.AgentLoaded)

	require.NoError(t, os.Remove(filepath.Join(f.orch.Layout().BundlePath, descriptor.WorkflowFile)))
	st, err = f.orch.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, registrar.BundleInconsistent, st.Bundle)
	assert.False(t, st.Installed())

	var buf bytes.Buffer
	f.orch.PrintStatus(&buf, st)
	assert.Contains(t, buf.String(), "inconsistent")
}

func TestReport_Print(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)
	f.sup.loadFn = func(string) error { return errors.New("boom") }

	var buf bytes.Buffer
	f.orch.Install(context.Background()).Print(&buf)

	out := buf.String()
	assert.Contains(t, out, "⚠ Warning: load autostart agent ("+f.orch.Layout().AutostartPath+"): boom")
	assert.Contains(t, out, "✓ write service bundle → "+f.orch.Layout().BundlePath)
	assert.Contains(t, out, "install finished with 1 warning(s)")
}
