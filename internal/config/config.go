package config

import (
	"fmt"
	"os"

	"github.com/padstow/galley/pkg/kitchen"
	"gopkg.in/yaml.v3"
)

// GalleyConfig represents the top-level galley.yml configuration
type GalleyConfig struct {
	Version     string            `yaml:"version"`
	Instance    string            `yaml:"instance"`
	Redis       RedisConfig       `yaml:"redis"`
	Coordinator string            `yaml:"coordinator,omitempty"` // Persona receiving terminal notices (default "editor")
	Team        map[string]Member `yaml:"team"`
	Pipeline    *PipelineConfig   `yaml:"pipeline,omitempty"`
}

// RedisConfig specifies the Redis connection
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// Member represents a single creative-team persona
type Member struct {
	Role    string        `yaml:"role"`              // Human-readable role, e.g. "recipe developer"
	Stage   kitchen.Stage `yaml:"stage"`             // The pipeline stage this persona works
	Command []string      `yaml:"command,omitempty"` // Subprocess capability for `galley run` (optional for library use)
}

// PipelineConfig specifies pipeline engine behavior
type PipelineConfig struct {
	MaxRevisions        *int `yaml:"max_revisions,omitempty"`         // Revision loop bound before forced rejection (default 3)
	StageTimeoutSeconds int  `yaml:"stage_timeout_seconds,omitempty"` // Per-capability-invocation timeout (default 120)
	MaxAttempts         int  `yaml:"max_attempts,omitempty"`          // Capability invocations before a recipe is marked stuck (default 3)
	RetryBackoffSeconds int  `yaml:"retry_backoff_seconds,omitempty"` // Initial backoff between attempts (default 2)
	PollIntervalSeconds int  `yaml:"poll_interval_seconds,omitempty"` // Run-loop polling cadence (default 10)
}

// Validate performs strict validation on the configuration and applies
// defaults in place.
func (c *GalleyConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		return fmt.Errorf("instance name is required")
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if c.Coordinator == "" {
		c.Coordinator = "editor"
	}

	// Required: at least one persona
	if len(c.Team) == 0 {
		return fmt.Errorf("no team members defined")
	}

	// Every stage needs exactly one persona so the engine always knows who
	// speaks for a stage.
	stagesSeen := make(map[kitchen.Stage]string)
	for name, member := range c.Team {
		if err := member.Validate(name); err != nil {
			return err
		}
		if existing, exists := stagesSeen[member.Stage]; exists {
			return fmt.Errorf("duplicate stage %q (members %q and %q): each stage must have exactly one persona",
				member.Stage, existing, name)
		}
		stagesSeen[member.Stage] = name
	}
	for _, stage := range kitchen.StageOrder {
		if _, ok := stagesSeen[stage]; !ok {
			return fmt.Errorf("no team member assigned to stage %q", stage)
		}
	}

	// Apply default pipeline config if missing
	if c.Pipeline == nil {
		c.Pipeline = &PipelineConfig{}
	}
	if c.Pipeline.MaxRevisions == nil {
		defaultRevisions := 3
		c.Pipeline.MaxRevisions = &defaultRevisions
	}
	if *c.Pipeline.MaxRevisions < 0 {
		return fmt.Errorf("pipeline.max_revisions must be >= 0, got %d", *c.Pipeline.MaxRevisions)
	}
	if c.Pipeline.StageTimeoutSeconds == 0 {
		c.Pipeline.StageTimeoutSeconds = 120
	}
	if c.Pipeline.StageTimeoutSeconds < 1 {
		return fmt.Errorf("pipeline.stage_timeout_seconds must be >= 1, got %d", c.Pipeline.StageTimeoutSeconds)
	}
	if c.Pipeline.MaxAttempts == 0 {
		c.Pipeline.MaxAttempts = 3
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be >= 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.RetryBackoffSeconds == 0 {
		c.Pipeline.RetryBackoffSeconds = 2
	}
	if c.Pipeline.PollIntervalSeconds == 0 {
		c.Pipeline.PollIntervalSeconds = 10
	}

	return nil
}

// Validate performs validation on a single team member
func (m *Member) Validate(name string) error {
	if m.Role == "" {
		return fmt.Errorf("member '%s': role is required", name)
	}

	if err := m.Stage.Validate(); err != nil {
		return fmt.Errorf("member '%s': %w", name, err)
	}

	return nil
}

// PersonaForStage returns the persona name assigned to a stage.
// Config validation guarantees exactly one exists.
func (c *GalleyConfig) PersonaForStage(stage kitchen.Stage) string {
	for name, member := range c.Team {
		if member.Stage == stage {
			return name
		}
	}
	return ""
}

// PersonaNames returns every persona name plus the coordinator.
func (c *GalleyConfig) PersonaNames() []string {
	names := make([]string, 0, len(c.Team)+1)
	for name := range c.Team {
		names = append(names, name)
	}
	if _, isMember := c.Team[c.Coordinator]; !isMember {
		names = append(names, c.Coordinator)
	}
	return names
}

// Load reads and validates galley.yml from the specified path
func Load(path string) (*GalleyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config GalleyConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
