package service_test

import (
	"bytes"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/Sris945/agentrunner/internal/service"
	"github.com/stretchr/testify/require"
)

func lookSh(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func collect(p *service.Process) (stdout, stderr string) {
	var out, errOut bytes.Buffer
	for c := range p.Chunks() {
		switch c.Stream {
		case service.Stdout:
			out.Write(c.Data)
		case service.Stderr:
			errOut.Write(c.Data)
		}
	}
	return out.String(), errOut.String()
}

func TestRunner(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	runner := service.NewRunner()
	t.Cleanup(runner.Close)
	t.Run("not yet started", func(t *testing.T) {
		res := runner.LastResult()
		require.ErrorIs(t, res.Err, service.ErrJobNotStarted)
	})

	cmd := service.Command{
		Path: sh,
		Args: []string{"-c", "echo stdout; echo stderr 1>&2; exit 3"},
		Env:  []string{"LC_ALL=C", "SECRET=value"},
	}
	ctx := t.Context()

	var p *service.Process
	t.Run("start", func(t *testing.T) {
		var err error
		p, err = runner.Start(ctx, cmd)
		require.NoError(t, err)
		require.ErrorIs(t, runner.LastResult().Err, service.ErrJobInProgress)
	})
	t.Run("in progress", func(t *testing.T) {
		_, err := runner.Start(ctx, cmd)
		require.Error(t, err)
		require.ErrorIs(t, err, service.ErrJobInProgress)
	})
	t.Run("wait", func(t *testing.T) {
		stdout, stderr := collect(p)
		res := p.Wait()
		require.Equal(t, "stdout\n", stdout)
		require.Equal(t, "stderr\n", stderr)
		require.Equal(t, sh, res.Path)
		require.Equal(t, cmd.Args, res.Args)
		require.Equal(t, []string{"LC_ALL", "SECRET"}, res.EnvKeys)
		require.NotZero(t, res.Started)
		require.NotZero(t, res.Stopped)
		require.Equal(t, 3, res.ExitCode())
		require.False(t, res.Cancelled)
		var exitErr *exec.ExitError
		require.ErrorAs(t, res.Err, &exitErr)
		require.Equal(t, res.ExitCode(), runner.LastResult().ExitCode())
	})
	t.Run("exec error", func(t *testing.T) {
		noCmd := service.Command{
			Path: "does not exist",
		}
		_, err := runner.Start(ctx, noCmd)
		require.Error(t, err)
		var execErr *exec.Error
		require.ErrorAs(t, err, &execErr)
		require.Equal(t, noCmd.Path, execErr.Name)
		require.ErrorIs(t, runner.LastResult().Err, exec.ErrNotFound)
	})
	t.Run("start again", func(t *testing.T) {
		p, err := runner.Start(ctx, service.Command{Path: sh, Args: []string{"-c", "true"}})
		require.NoError(t, err)
		require.Zero(t, p.Wait().ExitCode())
	})
}

func TestRunner_LineAligned(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	p, err := service.NewRunner().Start(t.Context(), service.Command{
		Path: sh,
		Args: []string{"-c", `printf '{"type":'; sleep 0.1; printf '"progress"}\nnext'`},
	})
	require.NoError(t, err)

	var chunks []string
	for c := range p.Chunks() {
		chunks = append(chunks, string(c.Data))
	}
	require.Equal(t, []string{`{"type":"progress"}` + "\n", "next"}, chunks)
	require.Zero(t, p.Wait().ExitCode())
}

func TestRunner_BreakEarly(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	p, err := service.NewRunner().Start(t.Context(), service.Command{
		Path: sh,
		Args: []string{"-c", `i=0; while [ $i -lt 2000 ]; do echo "line $i"; i=$((i+1)); done`},
	})
	require.NoError(t, err)
	for c := range p.Chunks() {
		require.True(t, strings.HasPrefix(string(c.Data), "line 0\n"))
		break
	}
	res := p.Wait()
	require.Zero(t, res.ExitCode())
	require.False(t, res.Cancelled)
}

func TestRunner_Cancel(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	var testCases = []struct {
		scenario  string
		script    string
		killAfter time.Duration
		code      int
	}{
		{
			"graceful",
			`trap 'echo bye; exit 0' TERM; echo ready; while :; do sleep 0.05; done`,
			0,
			0,
		},
		{
			"nonzero after term",
			`trap 'exit 2' TERM; echo ready; while :; do sleep 0.05; done`,
			0,
			2,
		},
		{
			"ignored term with kill escalation",
			`trap '' TERM; echo ready; while :; do sleep 0.05; done`,
			200 * time.Millisecond,
			-1,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			p, err := service.NewRunner().Start(t.Context(), service.Command{
				Path:      sh,
				Args:      []string{"-c", tt.script},
				KillAfter: tt.killAfter,
			})
			require.NoError(t, err)

			for c := range p.Chunks() {
				if strings.Contains(string(c.Data), "ready") {
					p.Cancel()
					p.Cancel()
				}
			}
			res := p.Wait()
			require.True(t, res.Cancelled)
			require.Equal(t, tt.code, res.ExitCode())
		})
	}
}
