// Package models defines the core domain models for declarative step workflows
package models

import "time"

// StepKind tags the executor a step is dispatched to.
type StepKind string

const (
	StepKindAgentTask StepKind = "agent-task"
	StepKindParallel  StepKind = "parallel"
	StepKindCondition StepKind = "condition"
	StepKindLoop      StepKind = "loop"
	StepKindHTTP      StepKind = "http"
	StepKindScript    StepKind = "script"
)

// StepKinds lists every kind a definition may use.
var StepKinds = []StepKind{
	StepKindAgentTask,
	StepKindParallel,
	StepKindCondition,
	StepKindLoop,
	StepKindHTTP,
	StepKindScript,
}

// Valid reports whether k is one of the known step kinds.
func (k StepKind) Valid() bool {
	for _, known := range StepKinds {
		if k == known {
			return true
		}
	}

	return false
}

// Workflow is a named, versioned graph of steps.
type Workflow struct {
	ID          string         `json:"id"                    yaml:"id"                    validate:"required"`
	Name        string         `json:"name"                  yaml:"name"                  validate:"required"`
	Version     int            `json:"version"               yaml:"version"               validate:"gte=0"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []*Step        `json:"steps"                 yaml:"steps"                 validate:"required,min=1,dive,required"`
	Variables   map[string]any `json:"variables,omitempty"   yaml:"variables,omitempty"`
	Triggers    []Trigger      `json:"triggers,omitempty"    yaml:"triggers,omitempty"`
	CreatedAt   time.Time      `json:"created_at"            yaml:"created_at,omitempty"`
}

// Trigger is declared on a definition but only manual invocation is honoured.
type Trigger struct {
	Type   string         `json:"type"             yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Step is a single unit of work in a workflow graph.
type Step struct {
	ID        string            `json:"id"                   yaml:"id"                   validate:"required"`
	Kind      StepKind          `json:"kind"                 yaml:"kind"                 validate:"required"`
	Name      string            `json:"name,omitempty"       yaml:"name,omitempty"`
	Config    map[string]any    `json:"config,omitempty"     yaml:"config,omitempty"`
	Next      []string          `json:"next,omitempty"       yaml:"next,omitempty"`
	OnSuccess string            `json:"on_success,omitempty" yaml:"on_success,omitempty"`
	OnFailure string            `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
	Recovery  *RecoveryStrategy `json:"recovery,omitempty"   yaml:"recovery,omitempty"`
}

// StepByID returns the step with the given id or nil.
func (w *Workflow) StepByID(id string) *Step {
	for _, step := range w.Steps {
		if step != nil && step.ID == id {
			return step
		}
	}

	return nil
}

// FirstStep returns the entry step of the graph.
func (w *Workflow) FirstStep() *Step {
	if len(w.Steps) == 0 {
		return nil
	}

	return w.Steps[0]
}

// Timeout returns the per-step timeout from config, zero when unset.
// Accepts a duration string ("5s") or a number of milliseconds.
func (s *Step) Timeout() time.Duration {
	raw, ok := s.Config["timeout"]
	if !ok {
		return 0
	}

	switch v := raw.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0
		}

		return d
	case float64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	default:
		return 0
	}
}

// References lists every step id this step points at, including the
// kind-specific targets held in its config and recovery block.
func (s *Step) References() ([]string, error) {
	refs := make([]string, 0, len(s.Next)+2)
	refs = append(refs, s.Next...)

	if s.OnSuccess != "" {
		refs = append(refs, s.OnSuccess)
	}

	if s.OnFailure != "" {
		refs = append(refs, s.OnFailure)
	}

	switch s.Kind {
	case StepKindParallel:
		var cfg ParallelConfig
		if err := DecodeConfig(s.Config, &cfg); err != nil {
			return nil, err
		}

		refs = append(refs, cfg.Branches...)
	case StepKindCondition:
		var cfg ConditionConfig
		if err := DecodeConfig(s.Config, &cfg); err != nil {
			return nil, err
		}

		if cfg.Then != "" {
			refs = append(refs, cfg.Then)
		}

		if cfg.Else != "" {
			refs = append(refs, cfg.Else)
		}
	case StepKindLoop:
		var cfg LoopConfig
		if err := DecodeConfig(s.Config, &cfg); err != nil {
			return nil, err
		}

		refs = append(refs, cfg.Target)
	}

	if s.Recovery != nil {
		if s.Recovery.AlternativeStep != "" {
			refs = append(refs, s.Recovery.AlternativeStep)
		}

		refs = append(refs, s.Recovery.RollbackSteps...)
	}

	return refs, nil
}
