// Package progress decodes the agent standard output into progress events.
//
// The agent prints newline delimited JSON records such as
//
//	{"type":"progress","phase":1,"status":"Running","message":"Discovery & Strategy..."}
//
// interleaved with free-form log text. Parsing is best effort: a chunk yields
// one phase event per well-formed record and, when the chunk contains any other
// text, a single raw event with its last non-empty line.
package progress

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/Sris945/agentrunner/internal/model"
)

const TypeProgress = "progress"

// Record is the wire form of a progress line.
type Record struct {
	Type    string          `json:"type"`
	Phase   json.RawMessage `json:"phase"`
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message"`
}

// Decode classifies a single line. It returns a phase event and true for a
// progress record, or a raw event carrying the line and false otherwise.
func Decode(line string) (model.ProgressEvent, bool) {
	raw := model.ProgressEvent{Kind: model.EventRaw, Message: line}

	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return raw, false
	}
	var rec Record
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return raw, false
	}
	if rec.Type != TypeProgress {
		return raw, false
	}
	phase, ok := phaseID(rec.Phase)
	if !ok {
		return raw, false
	}
	return model.ProgressEvent{
		Kind:    model.EventPhase,
		Phase:   phase,
		Status:  rec.Status,
		Message: rec.Message,
	}, true
}

// phaseID accepts a JSON number or string.
func phaseID(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil || n == "" {
			return "", false
		}
		return n.String(), true
	}
}

// Parse never fails; malformed input degrades to a raw event.
func Parse(chunk []byte) []model.ProgressEvent {
	var (
		events   []model.ProgressEvent
		last     string
		fallback bool
	)
	for line := range strings.Lines(string(chunk)) {
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		last = line
		ev, ok := Decode(line)
		if !ok {
			fallback = true
			continue
		}
		events = append(events, ev)
	}
	if fallback {
		events = append(events, model.ProgressEvent{Kind: model.EventRaw, Message: last})
	}
	return events
}
