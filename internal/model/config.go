package model

import (
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	DefaultInterpreter  = "python3"
	DefaultVenv         = ".venv"
	DefaultRequirements = "requirements.txt"
	DefaultScript       = "agent/run_agent.py"
	DefaultURL          = "https://us-south.ml.cloud.ibm.com"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version int     `json:"version" yaml:"version"` // fixed 0 for now
	Python  Python  `json:"python" yaml:"python"`
	Agent   Agent   `json:"agent" yaml:"agent"`
	Watsonx Watsonx `json:"watsonx" yaml:"watsonx"`
	Service Service `json:"service" yaml:"service"`
}

// Python describes how the isolated environment is provisioned.
type Python struct {
	Interpreter  string `json:"interpreter" yaml:"interpreter"`   // command used to create the venv
	Venv         string `json:"venv" yaml:"venv"`                 // relative to Agent.Home
	Requirements string `json:"requirements" yaml:"requirements"` // relative to Agent.Home
}

// Agent locates the job script.
type Agent struct {
	Home      string `json:"home" yaml:"home"` // empty => directory of Script
	Script    string `json:"script" yaml:"script"`
	KillAfter string `json:"kill_after" yaml:"kill_after"` // empty => never force kill
}

// Watsonx holds the endpoint and, optionally, the credentials.
type Watsonx struct {
	URL       string `json:"url" yaml:"url"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	ProjectID string `json:"project_id" yaml:"project_id"`
}

type Service struct {
	Verbose bool   `json:"verbose" yaml:"verbose"`
	LogDir  string `json:"log_dir" yaml:"log_dir"` // job log directory
	History string `json:"history" yaml:"history"` // sqlite database path
}

// DefaultConfig mirrors the defaults of the CUE schema.
func DefaultConfig() Config {
	return Config{
		Python: Python{
			Interpreter:  DefaultInterpreter,
			Venv:         DefaultVenv,
			Requirements: DefaultRequirements,
		},
		Agent: Agent{
			Script: DefaultScript,
		},
		Watsonx: Watsonx{
			URL: DefaultURL,
		},
	}
}

// KillDelay parses Agent.KillAfter. Zero means no escalation.
func (a Agent) KillDelay() (time.Duration, error) {
	if a.KillAfter == "" {
		return 0, nil
	}
	return ParseCueDuration(a.KillAfter)
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	return out, nil
}
