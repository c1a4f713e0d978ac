package provision_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Sris945/agentrunner/internal/model"
	"github.com/Sris945/agentrunner/internal/provision"
	"github.com/stretchr/testify/require"
)

// fakeExec records invocations and materializes the venv interpreter on
// "-m venv" so a second Ensure sees an existing environment.
type fakeExec struct {
	mx       sync.Mutex
	calls    [][]string
	creates  int
	installs int
	fail     map[string]struct {
		out []byte
		err error
	}
}

func (f *fakeExec) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	step := ""
	switch {
	case len(args) >= 2 && args[1] == "venv":
		step = provision.StepCreate
		f.creates++
	case len(args) >= 2 && args[1] == "pip":
		step = provision.StepInstall
		f.installs++
	}
	if fail, ok := f.fail[step]; ok {
		return fail.out, fail.err
	}
	if step == provision.StepCreate {
		venv := args[len(args)-1]
		bin := filepath.Join(venv, "bin")
		if err := os.MkdirAll(bin, 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(bin, "python"), []byte("#!/bin/sh\n"), 0o755); err != nil {
			return nil, err
		}
	}
	return []byte("ok"), nil
}

func (f *fakeExec) failing(step string, out string, err error) *fakeExec {
	if f.fail == nil {
		f.fail = make(map[string]struct {
			out []byte
			err error
		})
	}
	f.fail[step] = struct {
		out []byte
		err error
	}{[]byte(out), err}
	return f
}

func newProvisioner(e provision.Executor) *provision.Provisioner {
	return provision.New(model.Python{
		Interpreter:  "python3",
		Venv:         ".venv",
		Requirements: "requirements.txt",
	}).WithExecutor(e).WithGOOS("linux")
}

func TestEnsure(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	fake := &fakeExec{}
	p := newProvisioner(fake)

	var statuses []string
	status := func(_ context.Context, msg string) { statuses = append(statuses, msg) }

	env, err := p.Ensure(t.Context(), home, status)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".venv", "bin", "python"), env.Python)
	require.Equal(t, home, env.Dir)
	require.Equal(t, []string{
		provision.StatusCreating,
		provision.StatusInstalling,
		provision.StatusReady,
	}, statuses)

	require.Equal(t, []string{"python3", "-m", "venv", filepath.Join(home, ".venv")}, fake.calls[0])
	install := fake.calls[1]
	require.Equal(t, env.Python, install[0])
	require.Equal(t, filepath.Join(home, "requirements.txt"), install[len(install)-1])

	t.Run("second call reuses environment", func(t *testing.T) {
		statuses = nil
		env2, err := p.Ensure(t.Context(), home, status)
		require.NoError(t, err)
		require.Equal(t, env, env2)
		require.Equal(t, 1, fake.creates)
		require.Equal(t, 2, fake.installs)
		require.Equal(t, []string{provision.StatusInstalling, provision.StatusReady}, statuses)
	})
}

func TestEnsure_NilStatus(t *testing.T) {
	t.Parallel()
	_, err := newProvisioner(&fakeExec{}).Ensure(t.Context(), t.TempDir(), nil)
	require.NoError(t, err)
}

func TestPython(t *testing.T) {
	t.Parallel()
	p := provision.New(model.Python{Venv: ".venv"})
	require.Equal(t,
		filepath.Join("home", ".venv", "Scripts", "python.exe"),
		p.WithGOOS("windows").Python("home"))
	require.Equal(t,
		filepath.Join("home", ".venv", "bin", "python"),
		p.WithGOOS("linux").Python("home"))

	abs := filepath.Join(t.TempDir(), "env")
	p = provision.New(model.Python{Venv: abs}).WithGOOS("darwin")
	require.Equal(t, filepath.Join(abs, "bin", "python"), p.Python("ignored"))
}

func TestEnsure_Failures(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		step     string
		out      string
		err      error
		cause    model.SetupCause
	}{
		{
			"interpreter not on path",
			provision.StepCreate,
			"",
			&exec.Error{Name: "python3", Err: exec.ErrNotFound},
			model.CauseInterpreterMissing,
		},
		{
			"venv module missing",
			provision.StepCreate,
			"The virtual environment was not created successfully because ensurepip is not\navailable. On Debian/Ubuntu systems, you need to install the python3-venv package",
			errors.New("exit status 1"),
			model.CauseVenvUnavailable,
		},
		{
			"requirements missing",
			provision.StepInstall,
			"ERROR: Could not open requirements file: [Errno 2] No such file or directory: 'requirements.txt'",
			errors.New("exit status 1"),
			model.CauseManifestMissing,
		},
		{
			"unknown install error",
			provision.StepInstall,
			"ERROR: network is unreachable",
			errors.New("exit status 1"),
			model.CauseUnknown,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			fake := (&fakeExec{}).failing(tt.step, tt.out, tt.err)
			var statuses []string
			_, err := newProvisioner(fake).Ensure(t.Context(), t.TempDir(), func(_ context.Context, msg string) {
				statuses = append(statuses, msg)
			})
			require.Error(t, err)

			var setupErr *model.EnvironmentSetupError
			require.ErrorAs(t, err, &setupErr)
			require.Equal(t, tt.step, setupErr.Step)
			require.Equal(t, tt.cause, setupErr.Cause)
			require.Equal(t, strings.TrimSpace(tt.out), setupErr.Output)
			require.ErrorIs(t, err, tt.err)
			require.NotContains(t, statuses, provision.StatusReady)
		})
	}
}
