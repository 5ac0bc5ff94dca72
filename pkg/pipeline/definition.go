// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pipeline provides the build-test-scan-deploy pipeline engine.
//
// A pipeline definition is a flat ordered list of units. Each unit is
// either a single stage or a parallel group of stages joined before the
// next unit starts. Stages carry their own failure policy: a fatal stage
// halts the run when it fails, a tolerant stage records its failure and
// lets the run continue. Quality and security scans are typically
// tolerant so a red scan cannot block an otherwise deployable build, but
// stays visible in the report.
package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tombee/foundry/pkg/errors"
)

// Definition represents a YAML-based pipeline definition.
type Definition struct {
	// Name is the pipeline identifier
	Name string `yaml:"name" json:"name"`

	// Description provides human-readable context about the pipeline
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Version tracks the definition schema version (optional, defaults to "1")
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Env is the immutable environment overlay applied to every command.
	// There is no process-wide mutable state: this value is threaded
	// through the executor to each command invocation.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Path lists directories prepended to the search path for every
	// command (e.g., a toolchain bin directory).
	Path []string `yaml:"path,omitempty" json:"path,omitempty"`

	// Inputs defines the expected input parameters for the pipeline.
	// Inputs are available to stage `when` conditions.
	Inputs []InputDefinition `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Units is the ordered list of stages and parallel groups
	Units []UnitDefinition `yaml:"units" json:"units"`
}

// InputDefinition describes a pipeline input parameter.
// Inputs without a default value are required.
type InputDefinition struct {
	// Name is the input parameter identifier
	Name string `yaml:"name" json:"name"`

	// Default provides a fallback value if the input is not provided
	Default interface{} `yaml:"default,omitempty" json:"default,omitempty"`

	// Description explains what this input is for
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// UnitDefinition is one top-level unit: exactly one of Stage or Group.
type UnitDefinition struct {
	// Stage is a single stage executed on its own
	Stage *StageDefinition `yaml:"stage,omitempty" json:"stage,omitempty"`

	// Group is a set of stages executed concurrently with a join barrier
	Group *GroupDefinition `yaml:"group,omitempty" json:"group,omitempty"`
}

// Name returns the unit's display name.
func (u UnitDefinition) Name() string {
	if u.Stage != nil {
		return u.Stage.Name
	}
	if u.Group != nil {
		return u.Group.Name
	}
	return ""
}

// GroupDefinition is an unordered set of stages run concurrently.
// Members must produce non-colliding artifact filenames by construction;
// the engine does not arbitrate filesystem contention between siblings.
type GroupDefinition struct {
	// Name is the group identifier
	Name string `yaml:"name" json:"name"`

	// Stages are the member stages, all started together
	Stages []StageDefinition `yaml:"stages" json:"stages"`
}

// StageDefinition is the unit of pipeline work: a name, commands (or a
// render/deploy action), a failure policy, and artifact specs.
type StageDefinition struct {
	// Name is the stage identifier, unique within the run
	Name string `yaml:"name" json:"name"`

	// Policy classifies failures: fatal halts the run, tolerant records
	// and continues. Defaults to fatal.
	Policy Policy `yaml:"policy,omitempty" json:"policy,omitempty"`

	// When is an optional condition expression over inputs and prior
	// stage statuses; false skips the stage.
	When string `yaml:"when,omitempty" json:"when,omitempty"`

	// Dir is the working directory for the stage's commands, relative
	// to the pipeline working directory.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// Tools declares external tools the stage needs. Missing tools get
	// a best-effort install attempt; still-missing tools degrade the
	// stage's output but never fail it on their own.
	Tools []ToolRequirement `yaml:"tools,omitempty" json:"tools,omitempty"`

	// Commands is the ordered command sequence
	Commands []CommandDefinition `yaml:"commands,omitempty" json:"commands,omitempty"`

	// Render generates a file from a template as a distinct, testable
	// step (e.g., producing a Dockerfile before a deploy stage).
	Render *RenderDefinition `yaml:"render,omitempty" json:"render,omitempty"`

	// Deploy builds and (re)starts the delivery container
	Deploy *DeployDefinition `yaml:"deploy,omitempty" json:"deploy,omitempty"`

	// Artifacts lists glob patterns collected after the commands run,
	// even when the stage failed: analyzer reports matter most on red.
	Artifacts []ArtifactSpec `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
}

// ToolRequirement names an external tool and an optional provisioning
// command attempted when the tool is not on the search path.
type ToolRequirement struct {
	// Name is the executable looked up on the search path
	Name string `yaml:"name" json:"name"`

	// Install is the best-effort provisioning command
	Install string `yaml:"install,omitempty" json:"install,omitempty"`
}

// CommandDefinition describes one external command.
type CommandDefinition struct {
	// Run is the command line, executed via the shell
	Run string `yaml:"run" json:"run"`

	// BestEffort marks the command's failure as never hard, independent
	// of the stage policy. Replaces scattered "|| true" idioms.
	BestEffort bool `yaml:"best_effort,omitempty" json:"best_effort,omitempty"`

	// Timeout is the maximum duration in seconds (0 = engine default)
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Dir overrides the stage working directory for this command
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// RenderDefinition generates a file from a Go text template.
type RenderDefinition struct {
	// Template is the template file path
	Template string `yaml:"template" json:"template"`

	// Output is the file to write
	Output string `yaml:"output" json:"output"`

	// Data is the template data; pipeline inputs are available as .inputs
	Data map[string]interface{} `yaml:"data,omitempty" json:"data,omitempty"`
}

// DeployDefinition builds, replaces, and health-checks the delivery
// container.
type DeployDefinition struct {
	// Image is the image reference to run
	Image string `yaml:"image" json:"image"`

	// Container is the container name (a singleton external resource)
	Container string `yaml:"container" json:"container"`

	// Context, when set, builds Image from this directory first
	Context string `yaml:"context,omitempty" json:"context,omitempty"`

	// Dockerfile is the Dockerfile path relative to Context
	Dockerfile string `yaml:"dockerfile,omitempty" json:"dockerfile,omitempty"`

	// RestartPolicy for the new container (default unless-stopped)
	RestartPolicy string `yaml:"restart_policy,omitempty" json:"restart_policy,omitempty"`

	// Health configures the post-deploy health wait
	Health *HealthDefinition `yaml:"health,omitempty" json:"health,omitempty"`
}

// HealthDefinition bounds the post-deploy health wait. Whether a failed
// wait is fatal is an explicit policy choice, not a hard-coded behavior:
// observed deployments disagree, so the definition must say.
type HealthDefinition struct {
	// Interval is the poll interval in seconds (default 2)
	Interval int `yaml:"interval,omitempty" json:"interval,omitempty"`

	// MaxWait is the bounded wait in seconds (default 60)
	MaxWait int `yaml:"max_wait,omitempty" json:"max_wait,omitempty"`

	// Policy classifies a failed health wait (default tolerant)
	Policy Policy `yaml:"policy,omitempty" json:"policy,omitempty"`
}

// ArtifactSpec pairs a glob pattern with an allow-empty flag.
type ArtifactSpec struct {
	// Pattern is a doublestar glob relative to the working directory
	Pattern string `yaml:"pattern" json:"pattern"`

	// AllowEmpty makes a zero-match pattern a no-op instead of a
	// required-artifact failure.
	AllowEmpty bool `yaml:"allow_empty,omitempty" json:"allow_empty,omitempty"`
}

// Load reads and validates a pipeline definition from a YAML file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "pipeline", ID: path}
		}
		return nil, errors.Wrapf(err, "reading pipeline %s", path)
	}
	return Parse(data)
}

// Parse parses and validates a pipeline definition from YAML bytes.
// Unknown fields are rejected so typos surface at load time.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil && err != io.EOF {
		return nil, &errors.ValidationError{
			Message:    fmt.Sprintf("invalid YAML: %v", err),
			Hint: "check indentation and field names against the pipeline schema",
		}
	}

	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// applyDefaults fills optional fields with their documented defaults.
func (d *Definition) applyDefaults() {
	if d.Version == "" {
		d.Version = "1"
	}
	for i := range d.Units {
		if d.Units[i].Stage != nil {
			d.Units[i].Stage.applyDefaults()
		}
		if d.Units[i].Group != nil {
			for j := range d.Units[i].Group.Stages {
				d.Units[i].Group.Stages[j].applyDefaults()
			}
		}
	}
}

func (s *StageDefinition) applyDefaults() {
	if s.Policy == "" {
		s.Policy = PolicyFatal
	}
	if s.Deploy != nil && s.Deploy.Health != nil && s.Deploy.Health.Policy == "" {
		s.Deploy.Health.Policy = PolicyTolerant
	}
}

// Validate checks structural invariants: unique stage names across the
// whole run, valid policies, and well-formed units.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &errors.ValidationError{Field: "name", Message: "pipeline name is required"}
	}
	if len(d.Units) == 0 {
		return &errors.ValidationError{
			Field:      "units",
			Message:    "pipeline has no units",
			Hint: "add at least one stage or group",
		}
	}

	seen := make(map[string]bool)
	for i, unit := range d.Units {
		switch {
		case unit.Stage != nil && unit.Group != nil:
			return &errors.ValidationError{
				Field:   fmt.Sprintf("units[%d]", i),
				Message: "unit declares both stage and group",
			}
		case unit.Stage != nil:
			if err := unit.Stage.validate(fmt.Sprintf("units[%d].stage", i), seen); err != nil {
				return err
			}
		case unit.Group != nil:
			if err := unit.Group.validate(fmt.Sprintf("units[%d].group", i), seen); err != nil {
				return err
			}
		default:
			return &errors.ValidationError{
				Field:   fmt.Sprintf("units[%d]", i),
				Message: "unit declares neither stage nor group",
			}
		}
	}
	return nil
}

func (g *GroupDefinition) validate(field string, seen map[string]bool) error {
	if g.Name == "" {
		return &errors.ValidationError{Field: field + ".name", Message: "group name is required"}
	}
	if len(g.Stages) == 0 {
		return &errors.ValidationError{
			Field:      field + ".stages",
			Message:    "parallel group has no member stages",
			Hint: "add at least one stage to the group",
		}
	}
	for i := range g.Stages {
		if err := g.Stages[i].validate(fmt.Sprintf("%s.stages[%d]", field, i), seen); err != nil {
			return err
		}
	}
	return nil
}

func (s *StageDefinition) validate(field string, seen map[string]bool) error {
	if s.Name == "" {
		return &errors.ValidationError{Field: field + ".name", Message: "stage name is required"}
	}
	if seen[s.Name] {
		return &errors.ValidationError{
			Field:      field + ".name",
			Message:    fmt.Sprintf("duplicate stage name %q", s.Name),
			Hint: "stage names must be unique across the whole pipeline",
		}
	}
	seen[s.Name] = true

	if s.Policy != PolicyFatal && s.Policy != PolicyTolerant {
		return &errors.ValidationError{
			Field:      field + ".policy",
			Message:    fmt.Sprintf("unknown policy %q", s.Policy),
			Hint: "use fatal or tolerant",
		}
	}

	if len(s.Commands) == 0 && s.Render == nil && s.Deploy == nil {
		return &errors.ValidationError{
			Field:      field,
			Message:    fmt.Sprintf("stage %q has no commands, render, or deploy action", s.Name),
			Hint: "give the stage something to do",
		}
	}

	for i, cmd := range s.Commands {
		if strings.TrimSpace(cmd.Run) == "" {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("%s.commands[%d].run", field, i),
				Message: "command is empty",
			}
		}
	}

	if s.Render != nil {
		if s.Render.Template == "" || s.Render.Output == "" {
			return &errors.ValidationError{
				Field:   field + ".render",
				Message: "render requires template and output",
			}
		}
	}

	if s.Deploy != nil {
		if s.Deploy.Image == "" {
			return &errors.ValidationError{Field: field + ".deploy.image", Message: "deploy image is required"}
		}
		if s.Deploy.Container == "" {
			return &errors.ValidationError{Field: field + ".deploy.container", Message: "deploy container name is required"}
		}
		if h := s.Deploy.Health; h != nil && h.Policy != PolicyFatal && h.Policy != PolicyTolerant {
			return &errors.ValidationError{
				Field:      field + ".deploy.health.policy",
				Message:    fmt.Sprintf("unknown policy %q", h.Policy),
				Hint: "use fatal or tolerant",
			}
		}
	}

	for i, spec := range s.Artifacts {
		if spec.Pattern == "" {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("%s.artifacts[%d].pattern", field, i),
				Message: "artifact pattern is empty",
			}
		}
	}
	return nil
}

// StageCount returns the total number of stages including group members.
func (d *Definition) StageCount() int {
	n := 0
	for _, u := range d.Units {
		if u.Stage != nil {
			n++
		}
		if u.Group != nil {
			n += len(u.Group.Stages)
		}
	}
	return n
}

// ResolveInputs merges user-provided inputs over definition defaults and
// reports missing required inputs.
func (d *Definition) ResolveInputs(provided map[string]any) (map[string]any, error) {
	resolved := make(map[string]any)
	for _, in := range d.Inputs {
		if v, ok := provided[in.Name]; ok {
			resolved[in.Name] = v
			continue
		}
		if in.Default != nil {
			resolved[in.Name] = in.Default
			continue
		}
		return nil, &errors.ValidationError{
			Field:      "inputs." + in.Name,
			Message:    "required input not provided",
			Hint: fmt.Sprintf("pass --input %s=<value>", in.Name),
		}
	}
	// Pass through extra inputs so conditions can reference ad-hoc flags.
	for k, v := range provided {
		if _, ok := resolved[k]; !ok {
			resolved[k] = v
		}
	}
	return resolved, nil
}
