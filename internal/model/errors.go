package model

import (
	"fmt"
	"strings"
)

// ConfigurationError is returned when required credentials are missing.
// No process is started when it is returned.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "missing required configuration: " + strings.Join(e.Missing, ", ")
}

// SetupCause refines an EnvironmentSetupError.
type SetupCause int

const (
	CauseUnknown SetupCause = iota
	CauseInterpreterMissing
	CauseVenvUnavailable
	CauseManifestMissing
)

func (c SetupCause) String() string {
	switch c {
	case CauseInterpreterMissing:
		return "interpreter_missing"
	case CauseVenvUnavailable:
		return "venv_unavailable"
	case CauseManifestMissing:
		return "manifest_missing"
	default:
		return "unknown"
	}
}

// EnvironmentSetupError is returned when one of the provisioning steps fails.
type EnvironmentSetupError struct {
	Step    string // "create" or "install"
	Command string // command name, never its full environment
	Cause   SetupCause
	Output  string // combined output of the failing command
	Err     error
}

func (e *EnvironmentSetupError) Error() string {
	return fmt.Sprintf("environment setup failed (%s, %s): %v", e.Step, e.Cause, e.Err)
}

func (e *EnvironmentSetupError) Unwrap() error {
	return e.Err
}

// Hint is the remediation shown to the user.
func (e *EnvironmentSetupError) Hint() string {
	switch e.Cause {
	case CauseInterpreterMissing:
		return fmt.Sprintf("Python interpreter %q was not found or is misconfigured. Install Python 3 or set python.interpreter in the configuration.", e.Command)
	case CauseVenvUnavailable:
		return "Python cannot create virtual environments. Install the venv module (e.g. the python3-venv package) and retry."
	case CauseManifestMissing:
		return "The dependency manifest is missing or invalid. Check python.requirements in the configuration."
	default:
		return "Failed to set up the Python environment: " + e.Err.Error()
	}
}

// ProcessExitError is returned when the agent exits nonzero without being
// cancelled.
type ProcessExitError struct {
	Code           int
	Classification string
}

func (e *ProcessExitError) Error() string {
	return fmt.Sprintf("agent exited with code %d: %s", e.Code, e.Classification)
}
