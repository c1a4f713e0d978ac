package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/Sris945/agentrunner/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	yml := `
version: 0
python:
  interpreter: /usr/bin/python3.12
agent:
  script: /opt/agent/run_agent.py
  kill_after: 1m30s
watsonx:
  api_key: ABC123
  project_id: 9229f6e3
service:
  verbose: true
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, "/usr/bin/python3.12", cfg.Python.Interpreter)
	require.Equal(t, model.DefaultVenv, cfg.Python.Venv)
	require.Equal(t, model.DefaultRequirements, cfg.Python.Requirements)
	require.Equal(t, "/opt/agent/run_agent.py", cfg.Agent.Script)
	require.Equal(t, model.DefaultURL, cfg.Watsonx.URL)
	require.Equal(t, "ABC123", cfg.Watsonx.APIKey)
	require.True(t, cfg.Service.Verbose)

	d, err := cfg.Agent.KillDelay()
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, d)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := model.LoadConfig(strings.NewReader("version: 0\n"))
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(), cfg)

	d, err := cfg.Agent.KillDelay()
	require.NoError(t, err)
	require.Zero(t, d)
}

func TestLoadConfig_Fail(t *testing.T) {
	var testCases = []struct {
		scenario string
		given    string
		path     string
		code     string
		message  string
	}{
		{"unknown field", "version: 0\npython:\n  interpeter: python3\n", "python.interpeter", "unknown_field", "Field interpeter is not allowed"},
		{"bad url", "version: 0\nwatsonx:\n  url: us-south.ml.cloud.ibm.com\n", "watsonx.url", "conflicting_values", `Conflicting values for url (default "https://us-south.ml.cloud.ibm.com")`},
		{"bad kill_after", "version: 0\nagent:\n  kill_after: soon\n", "agent.kill_after", "conflicting_values", "Conflicting values for kill_after"},
		{"bad version", "version: 1\n", "version", "conflicting_values", "Conflicting values for version"},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			_, err := model.LoadConfig(strings.NewReader(tt.given))
			require.Error(t, err)

			details := model.CueErrDetails(err)
			require.NotEmpty(t, details)
			var found bool
			for _, d := range details {
				require.NotEmpty(t, d.Pos.Filename)
				if d.Path == tt.path && d.Code == tt.code && d.Message == tt.message {
					found = true
				}
			}
			require.True(t, found, "no %s detail for %s in %+v", tt.code, tt.path, details)
		})
	}

	require.Nil(t, model.CueErrDetails(nil))
}

func TestParseCueDuration(t *testing.T) {
	var testCases = []struct {
		given string
		then  time.Duration
		err   bool
	}{
		{"15s", 15 * time.Second, false},
		{"1d2h", 26 * time.Hour, false},
		{"2h3m4s", 2*time.Hour + 3*time.Minute + 4*time.Second, false},
		{"", 0, true},
		{"0s", 0, true},
		{"5x", 0, true},
		{"4s3m", 0, true},
	}

	for _, tt := range testCases {
		t.Run(tt.given, func(t *testing.T) {
			d, err := model.ParseCueDuration(tt.given)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.then, d)
		})
	}
}
