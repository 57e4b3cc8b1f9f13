// Package main's config.go defines the scripted-run configuration
// actionrunner loads from YAML: the real planner is an external
// collaborator, so a manual/integration run drives the agent loop from a
// fixed step list instead.
package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// RunConfig is the top-level actionrunner configuration.
type RunConfig struct {
	Goal     string       `yaml:"goal"`
	URL      string       `yaml:"url"`
	DataDir  string       `yaml:"data_dir"`
	MaxSteps int          `yaml:"max_steps"`
	Steps    []StepConfig `yaml:"steps"`

	// TraceSQL and AllowPrivateHosts are process-wide run options set from
	// flags rather than the YAML file itself.
	TraceSQL          bool
	AllowPrivateHosts bool
}

// StepConfig is one scripted agent-loop action.
type StepConfig struct {
	Tool  string  `yaml:"tool"` // click | type_text | select_option | done
	CSS   string  `yaml:"css"`
	Text  string  `yaml:"text"`
	Mode  string  `yaml:"mode"`  // type_text mode: character | paste | natural | instant
	Value *string `yaml:"value"`
	Label *string `yaml:"label"`
	Index *int    `yaml:"index"`
}

// LoadRunConfig reads a YAML configuration file.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg RunConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *RunConfig) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./actionrunner-data"
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 100
	}
}
