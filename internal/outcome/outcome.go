// Package outcome maps the agent exit status to a typed result.
//
// The exit code tells which pipeline phase failed, never why. The mapping is
// a fixed contract with the agent and must stay in sync with it.
package outcome

import (
	"fmt"

	"github.com/Sris945/agentrunner/internal/model"
)

const (
	CodeGeneral       = 1
	CodeDiscovery     = 2
	CodeExecution     = 3
	CodeDocumentation = 4
)

var classifications = map[int]string{
	CodeGeneral:       "general error",
	CodeDiscovery:     "failed during discovery/strategy phase",
	CodeExecution:     "failed during execution/refactoring phase",
	CodeDocumentation: "failed during documentation/verification phase",
}

// Classify returns the outcome for an exited process. Cancellation takes
// precedence over the exit code.
func Classify(code int, cancelled bool) model.Outcome {
	switch {
	case cancelled:
		return model.Outcome{Kind: model.Cancelled, Code: code, Message: "job was cancelled by user"}
	case code == 0:
		return model.Outcome{Kind: model.Succeeded, Message: "finished successfully"}
	}
	classification, ok := classifications[code]
	if !ok {
		classification = fmt.Sprintf("unexpected error code %d", code)
	}
	return model.Outcome{
		Kind:           model.Failed,
		Code:           code,
		Classification: classification,
		Message:        classification,
	}
}
