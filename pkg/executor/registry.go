package executor

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	factories map[models.StepKind]Factory
	overrides map[string]Executor
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log.With("module", "executor_registry"),
		factories: make(map[models.StepKind]Factory),
		overrides: make(map[string]Executor),
	}
}

// Register adds or replaces the factory for its kind.
func (r *Registry) Register(factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.Kind()] = factory
	r.logger.Debug("Registered executor", "kind", factory.Kind())
}

// RegisterStep binds an executor to a specific step id, taking precedence
// over the kind's factory. Collaborators use it to plug in agents or test
// doubles without a factory.
func (r *Registry) RegisterStep(stepID string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.overrides[stepID] = exec
}

func (r *Registry) Factory(kind models.StepKind) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[kind]

	return factory, ok
}

// Kinds returns the registered kinds in a stable order.
func (r *Registry) Kinds() []models.StepKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]models.StepKind, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}

	slices.Sort(kinds)

	return kinds
}

// Validate checks step.Config against the kind's schema.
func (r *Registry) Validate(step *models.Step) error {
	factory, ok := r.Factory(step.Kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, step.Kind)
	}

	return ValidateConfig(factory.Schema(), step.Config)
}

// Create validates the step and builds its executor.
func (r *Registry) Create(step *models.Step) (Executor, error) {
	r.mu.RLock()
	override, ok := r.overrides[step.ID]
	r.mu.RUnlock()

	if ok {
		return override, nil
	}

	if err := r.Validate(step); err != nil {
		return nil, err
	}

	factory, _ := r.Factory(step.Kind)

	exec, err := factory.Create(step)
	if err != nil {
		return nil, fmt.Errorf("%w: step %s: %w", ErrInvalidConfig, step.ID, err)
	}

	return exec, nil
}

// ValidateConfig validates a config map against a JSON schema.
func ValidateConfig(schema map[string]any, config map[string]any) error {
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// TimeoutProperty is the schema of the config key every step kind accepts.
func TimeoutProperty() map[string]any {
	return map[string]any{
		"type":        []string{"string", "number"},
		"description": "Step timeout as a duration (\"5s\") or milliseconds",
	}
}
