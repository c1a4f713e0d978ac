package model

import "fmt"

type EventKind int

const (
	EventRaw EventKind = iota
	EventPhase
)

// ProgressEvent is a unit of live status derived from the agent output.
type ProgressEvent struct {
	Kind    EventKind
	Phase   string // set for EventPhase
	Status  string // optional, e.g. "Running", "Success"
	Message string
}

func (e ProgressEvent) String() string {
	if e.Kind == EventPhase {
		return fmt.Sprintf("Phase %s: %s", e.Phase, e.Message)
	}
	return e.Message
}
