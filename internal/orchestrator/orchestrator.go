// Package orchestrator runs one agent invocation end to end: provisioning,
// supervision, progress reporting and outcome notification.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Sris945/agentrunner/internal/joblog"
	"github.com/Sris945/agentrunner/internal/log"
	"github.com/Sris945/agentrunner/internal/model"
	"github.com/Sris945/agentrunner/internal/outcome"
	"github.com/Sris945/agentrunner/internal/progress"
	"github.com/Sris945/agentrunner/internal/provision"
	"github.com/Sris945/agentrunner/internal/service"
)

// Host is the interactive surface receiving notifications.
// Implementations must be safe to call from a single goroutine at a time;
// the orchestrator never calls them concurrently.
type Host interface {
	Progress(ctx context.Context, msg string)
	Info(ctx context.Context, msg string)
	Error(ctx context.Context, msg string)
}

type Provisioner interface {
	Ensure(ctx context.Context, home string, status provision.StatusFunc) (model.Environment, error)
}

type Supervisor interface {
	Run(ctx context.Context, env model.Environment, req model.JobRequest, onChunk service.ChunkFunc) (model.Outcome, service.Result, error)
}

// History records invocations. Failures are logged, never fatal.
type History interface {
	Start(ctx context.Context, uuid string, req model.JobRequest) error
	Finish(ctx context.Context, uuid string, out model.Outcome) error
}

type Orchestrator struct {
	mx          sync.Mutex
	home        string
	provisioner Provisioner
	supervisor  Supervisor
	sink        *joblog.Sink
	host        Host
	history     History
	newID       func() string
}

func New(home string, provisioner Provisioner, supervisor Supervisor, sink *joblog.Sink, host Host) *Orchestrator {
	return &Orchestrator{
		home:        home,
		provisioner: provisioner,
		supervisor:  supervisor,
		sink:        sink,
		host:        host,
		newID:       uuid.NewString,
	}
}

func (o *Orchestrator) WithHistory(h History) *Orchestrator {
	o.history = h
	return o
}

// WithIDs overrides the invocation id generator. Useful for tests.
func (o *Orchestrator) WithIDs(newID func() string) *Orchestrator {
	o.newID = newID
	return o
}

// Setup only provisions the environment.
func (o *Orchestrator) Setup(ctx context.Context) (model.Environment, error) {
	if !o.mx.TryLock() {
		return model.Environment{}, service.ErrJobInProgress
	}
	defer o.mx.Unlock()
	return o.provision(ctx)
}

func (o *Orchestrator) provision(ctx context.Context) (model.Environment, error) {
	env, err := o.provisioner.Ensure(ctx, o.home, o.host.Progress)
	if err == nil {
		return env, nil
	}
	if ctx.Err() != nil {
		return model.Environment{}, fmt.Errorf("provisioning interrupted: %w", context.Cause(ctx))
	}
	var setupErr *model.EnvironmentSetupError
	if errors.As(err, &setupErr) {
		slog.ErrorContext(ctx, "environment setup failed",
			"step", setupErr.Step,
			"cause", setupErr.Cause.String(),
			"output", setupErr.Output,
			"error", setupErr.Err,
		)
		o.host.Error(ctx, setupErr.Hint())
		return model.Environment{}, err
	}
	o.host.Error(ctx, "Failed to set up the Python environment: "+err.Error())
	return model.Environment{}, err
}

// Run executes a single invocation. The returned error is
// service.ErrJobInProgress, *model.ConfigurationError,
// *model.EnvironmentSetupError, a launch error or *model.ProcessExitError.
// A cancelled job returns a Cancelled outcome and no error.
func (o *Orchestrator) Run(ctx context.Context, req model.JobRequest) (model.Outcome, error) {
	if !o.mx.TryLock() {
		return model.Outcome{}, service.ErrJobInProgress
	}
	defer o.mx.Unlock()

	id := o.newID()
	ctx = log.ContextAttrs(ctx, slog.String("invocation", id))
	slog.InfoContext(ctx, "invocation started", "project_dir", req.ProjectDir)

	if err := req.Credentials.Validate(); err != nil {
		slog.ErrorContext(ctx, "invalid configuration", "error", err)
		o.host.Error(ctx, "Please configure your watsonx credentials: "+err.Error())
		return model.Outcome{}, err
	}

	if err := o.sink.Reset(id); err != nil {
		slog.WarnContext(ctx, "job log unavailable", "error", err)
	}

	env, err := o.provision(ctx)
	if err != nil && ctx.Err() == nil {
		return model.Outcome{}, err
	}
	if ctx.Err() != nil {
		return o.cancelled(ctx), nil
	}

	o.recordStart(ctx, id, req)

	var stderrSeen bool
	onChunk := func(ctx context.Context, c service.Chunk) {
		if c.Stream == service.Stderr {
			if err := o.sink.WriteError(c.Data); err != nil {
				slog.WarnContext(ctx, "writing job log", "error", err)
			}
			slog.ErrorContext(ctx, "agent stderr", "output", string(c.Data))
			if !stderrSeen {
				stderrSeen = true
				o.host.Error(ctx, o.stderrNotice())
			}
			return
		}
		if _, err := o.sink.Write(c.Data); err != nil {
			slog.WarnContext(ctx, "writing job log", "error", err)
		}
		for _, ev := range progress.Parse(c.Data) {
			o.host.Progress(ctx, ev.String())
		}
	}

	out, res, err := o.supervisor.Run(ctx, env, req, onChunk)
	var exitErr *model.ProcessExitError
	if err != nil && !errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			out := o.cancelled(ctx)
			o.recordFinish(ctx, id, out)
			return out, nil
		}
		slog.ErrorContext(ctx, "agent could not be run", "error", err)
		o.host.Error(ctx, "Failed to start the agent: "+err.Error())
		o.recordFinish(ctx, id, model.Outcome{Kind: model.Failed, Code: -1, Message: err.Error()})
		return model.Outcome{}, err
	}

	slog.InfoContext(ctx, "invocation finished",
		"outcome", out.Kind.String(),
		"exit_code", res.ExitCode(),
		"duration", res.Stopped.Sub(res.Started),
	)
	o.notify(ctx, out)
	o.recordFinish(ctx, id, out)
	return out, err
}

// cancelled reports a job cancelled before the agent produced an exit status.
func (o *Orchestrator) cancelled(ctx context.Context) model.Outcome {
	out := outcome.Classify(-1, true)
	slog.InfoContext(ctx, "invocation cancelled before the agent ran")
	o.notify(ctx, out)
	return out
}

func (o *Orchestrator) stderrNotice() string {
	if path := o.sink.Path(); path != "" {
		return "The agent reported errors. See the full log at " + path
	}
	return "The agent reported errors."
}

func (o *Orchestrator) notify(ctx context.Context, out model.Outcome) {
	switch out.Kind {
	case model.Succeeded:
		o.host.Info(ctx, "Agent "+out.Message+".")
	case model.Cancelled:
		o.host.Info(ctx, "The "+out.Message+".")
	default:
		msg := fmt.Sprintf("Agent failed: %s (exit code %d).", out.Classification, out.Code)
		if path := o.sink.Path(); path != "" {
			msg += " See " + path
		}
		o.host.Error(ctx, msg)
	}
}

func (o *Orchestrator) recordStart(ctx context.Context, id string, req model.JobRequest) {
	if o.history == nil {
		return
	}
	if err := o.history.Start(ctx, id, req); err != nil {
		slog.WarnContext(ctx, "recording invocation start", "error", err)
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, id string, out model.Outcome) {
	if o.history == nil {
		return
	}
	// the job context may already be cancelled
	ctx = context.WithoutCancel(ctx)
	if err := o.history.Finish(ctx, id, out); err != nil {
		slog.WarnContext(ctx, "recording invocation outcome", "error", err)
	}
}
