// Package provision prepares the isolated Python environment the agent runs in.
//
// Ensure is idempotent: the virtual environment is created only when its
// interpreter is missing, while the dependency manifest is installed on every
// call so a drifted environment gets corrected.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/Sris945/agentrunner/internal/model"
)

const (
	StepCreate  = "create"
	StepInstall = "install"
)

const (
	StatusCreating   = "Creating environment..."
	StatusInstalling = "Installing dependencies..."
	StatusReady      = "Environment ready."
)

// StatusFunc receives human readable status as each step starts.
type StatusFunc func(ctx context.Context, msg string)

// Executor runs a command to completion and returns its combined output.
type Executor interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

func (f ExecutorFunc) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	return f(ctx, dir, name, args...)
}

// OSExecutor runs commands with os/exec.
type OSExecutor struct{}

func (OSExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- interpreter and manifest come from the local configuration
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

type Provisioner struct {
	interpreter  string
	venv         string
	requirements string
	goos         string
	exec         Executor
}

func New(cfg model.Python) *Provisioner {
	return &Provisioner{
		interpreter:  cfg.Interpreter,
		venv:         cfg.Venv,
		requirements: cfg.Requirements,
		goos:         runtime.GOOS,
		exec:         OSExecutor{},
	}
}

// WithExecutor replaces the command executor. Useful for tests.
func (p *Provisioner) WithExecutor(e Executor) *Provisioner {
	p.exec = e
	return p
}

// WithGOOS overrides the platform used to locate the venv interpreter.
func (p *Provisioner) WithGOOS(goos string) *Provisioner {
	p.goos = goos
	return p
}

// Python returns the expected venv interpreter path inside home.
func (p *Provisioner) Python(home string) string {
	venv := p.venv
	if !filepath.IsAbs(venv) {
		venv = filepath.Join(home, venv)
	}
	if p.goos == "windows" {
		return filepath.Join(venv, "Scripts", "python.exe")
	}
	return filepath.Join(venv, "bin", "python")
}

// Ensure makes sure the environment in home exists and has all dependencies
// installed. Failures are returned as *model.EnvironmentSetupError.
func (p *Provisioner) Ensure(ctx context.Context, home string, status StatusFunc) (model.Environment, error) {
	if status == nil {
		status = func(context.Context, string) {}
	}
	python := p.Python(home)

	if !isFile(python) {
		status(ctx, StatusCreating)
		venv := filepath.Dir(filepath.Dir(python))
		slog.DebugContext(ctx, "creating virtual environment", "interpreter", p.interpreter, "venv", venv)
		out, err := p.exec.Run(ctx, home, p.interpreter, "-m", "venv", venv)
		if err != nil {
			return model.Environment{}, setupError(StepCreate, p.interpreter, out, err)
		}
	} else {
		slog.DebugContext(ctx, "virtual environment exists", "python", python)
	}

	status(ctx, StatusInstalling)
	manifest := p.requirements
	if !filepath.IsAbs(manifest) {
		manifest = filepath.Join(home, manifest)
	}
	out, err := p.exec.Run(ctx, home, python, "-m", "pip", "install", "--disable-pip-version-check", "-r", manifest)
	if err != nil {
		return model.Environment{}, setupError(StepInstall, python, out, err)
	}

	status(ctx, StatusReady)
	return model.Environment{Python: python, Dir: home}, nil
}

var (
	reNotFound = regexp.MustCompile(`(?i)not found|no such file or directory|is not recognized|cannot find the file`)
	reNoVenv   = regexp.MustCompile(`(?i)no module named venv|ensurepip is not available|python3(\.\d+)?-venv|virtual environment was not created`)
	reManifest = regexp.MustCompile(`(?i)could not open requirements file|invalid requirement|requirements\.txt|no matching distribution|resolutionimpossible`)
)

// setupError refines the failure cause from the failing step and its output.
func setupError(step, command string, output []byte, err error) *model.EnvironmentSetupError {
	text := string(output) + "\n" + err.Error()
	cause := model.CauseUnknown

	var execErr *exec.Error
	launchFailed := errors.As(err, &execErr) || errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)

	switch step {
	case StepCreate:
		switch {
		case launchFailed:
			cause = model.CauseInterpreterMissing
		case reNoVenv.MatchString(text):
			cause = model.CauseVenvUnavailable
		case reNotFound.MatchString(text):
			cause = model.CauseInterpreterMissing
		}
	case StepInstall:
		switch {
		case launchFailed:
			// the venv interpreter vanished or is broken
			cause = model.CauseInterpreterMissing
		case reManifest.MatchString(text):
			cause = model.CauseManifestMissing
		case strings.Contains(strings.ToLower(text), "no module named pip"):
			cause = model.CauseVenvUnavailable
		}
	}

	return &model.EnvironmentSetupError{
		Step:    step,
		Command: filepath.Base(command),
		Cause:   cause,
		Output:  strings.TrimSpace(string(output)),
		Err:     fmt.Errorf("%s: %w", command, err),
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
