package model

import (
	"maps"
	"os"
	"slices"
	"strings"
)

// Environment variables consumed by the agent.
const (
	EnvAPIKey    = "IBM_API_KEY"
	EnvProjectID = "IBM_PROJECT_ID"
	EnvURL       = "IBM_URL"
)

const DefaultSuccessMetrics = "A functional, easy-to-navigate project structure."

// Params are the free-text job parameters collected by the host. They are
// passed verbatim to the agent.
type Params struct {
	Persona        string
	PainPoints     string
	UseCases       string
	SuccessMetrics string
}

// Credentials for the model endpoint the agent talks to.
type Credentials struct {
	APIKey    string
	ProjectID string
	URL       string
}

// Validate reports missing required fields as a *ConfigurationError.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "api_key")
	}
	if strings.TrimSpace(c.ProjectID) == "" {
		missing = append(missing, "project_id")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// JobRequest is a single invocation of the agent. Treat it as immutable:
// accessors return copies.
type JobRequest struct {
	ProjectDir  string
	Params      Params
	Credentials Credentials
	Env         map[string]string
}

// Args returns the agent command line following the script path.
func (r JobRequest) Args() []string {
	metrics := r.Params.SuccessMetrics
	if metrics == "" {
		metrics = DefaultSuccessMetrics
	}
	return []string{
		"--project-path", r.ProjectDir,
		"--persona", r.Params.Persona,
		"--pain-points", r.Params.PainPoints,
		"--use-cases", r.Params.UseCases,
		"--success-metrics", metrics,
	}
}

// Overlay returns the variables added on top of the inherited environment.
func (r JobRequest) Overlay() map[string]string {
	overlay := map[string]string{
		"PYTHONIOENCODING": "utf-8",
		"PYTHONUTF8":       "1",
		"PYTHONUNBUFFERED": "1",
	}
	maps.Copy(overlay, r.Env)
	overlay[EnvAPIKey] = r.Credentials.APIKey
	overlay[EnvProjectID] = r.Credentials.ProjectID
	if r.Credentials.URL != "" {
		overlay[EnvURL] = r.Credentials.URL
	}
	return overlay
}

// Environ merges Overlay onto base (os.Environ when nil). Overlay values win
// and every key appears once.
func (r JobRequest) Environ(base []string) []string {
	if base == nil {
		base = os.Environ()
	}
	overlay := r.Overlay()
	env := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := overlay[k]; ok {
			continue
		}
		env = append(env, kv)
	}
	for _, k := range slices.Sorted(maps.Keys(overlay)) {
		env = append(env, k+"="+overlay[k])
	}
	return env
}

// Environment is a provisioned, isolated interpreter.
type Environment struct {
	Python string // absolute path of the venv interpreter
	Dir    string // agent home, used as the job working directory
}
