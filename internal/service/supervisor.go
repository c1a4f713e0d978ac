package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/Sris945/agentrunner/internal/model"
	"github.com/Sris945/agentrunner/internal/outcome"
)

// ChunkFunc receives every chunk of output in arrival order.
type ChunkFunc func(ctx context.Context, c Chunk)

// Supervisor launches the agent script inside a provisioned environment.
type Supervisor struct {
	runner    *Runner
	script    string
	killAfter time.Duration
}

func NewSupervisor(runner *Runner, cfg model.Agent) (*Supervisor, error) {
	killAfter, err := cfg.KillDelay()
	if err != nil {
		return nil, fmt.Errorf("parsing agent.kill_after: %w", err)
	}
	return &Supervisor{
		runner:    runner,
		script:    cfg.Script,
		killAfter: killAfter,
	}, nil
}

// Command assembles the process invocation for req. A relative script path
// is resolved against the environment directory.
func (s *Supervisor) Command(env model.Environment, req model.JobRequest) Command {
	script := s.script
	if !filepath.IsAbs(script) {
		script = filepath.Join(env.Dir, script)
	}
	return Command{
		Path:      env.Python,
		Args:      append([]string{script}, req.Args()...),
		Env:       req.Environ(nil),
		Dir:       env.Dir,
		KillAfter: s.killAfter,
	}
}

// Run validates credentials, spawns the agent and drains its output through
// onChunk. It returns once the process has exited.
//
// The returned error is *model.ConfigurationError when nothing was spawned,
// the exec error when spawning failed, or *model.ProcessExitError for a
// Failed outcome. A Cancelled outcome is not an error.
func (s *Supervisor) Run(ctx context.Context, env model.Environment, req model.JobRequest, onChunk ChunkFunc) (model.Outcome, Result, error) {
	if err := req.Credentials.Validate(); err != nil {
		return model.Outcome{}, Result{}, err
	}

	p, err := s.runner.Start(ctx, s.Command(env, req))
	if err != nil {
		if !errors.Is(err, ErrJobInProgress) {
			err = fmt.Errorf("starting agent: %w", err)
		}
		return model.Outcome{}, s.runner.LastResult(), err
	}

	for c := range p.Chunks() {
		if onChunk != nil {
			onChunk(ctx, c)
		}
	}
	res := p.Wait()

	if res.State == nil {
		return model.Outcome{}, res, fmt.Errorf("waiting for agent: %w", res.Err)
	}
	var exitErr *exec.ExitError
	// a cancelled process exiting with status 0 reports the context error
	if res.Err != nil && !errors.As(res.Err, &exitErr) && !errors.Is(res.Err, context.Canceled) && !errors.Is(res.Err, context.DeadlineExceeded) {
		slog.WarnContext(ctx, "agent output was not fully read", "error", res.Err)
	}

	out := outcome.Classify(res.ExitCode(), res.Cancelled)
	return out, res, out.Err()
}
