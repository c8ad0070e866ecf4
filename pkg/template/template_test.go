package template

import (
	"testing"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_SimpleExpression(t *testing.T) {
	data := map[string]any{
		"name":  "John",
		"age":   30,
		"isNew": true,
	}

	result, err := Render("{{ .name }}", data)
	require.NoError(t, err)
	assert.Equal(t, "John", result)

	result, err = Render("{{ .isNew }}", data)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	// numbers always come back as float64
	result, err = Render("{{ .age }}", data)
	require.NoError(t, err)
	assert.Equal(t, 30.0, result)
}

func TestRender_ObjectConstruction(t *testing.T) {
	data := map[string]any{
		"user":   map[string]any{"name": "Alice"},
		"orders": []any{1, 2},
	}

	result, err := Render(`{"user_name": "{{ .user.name }}", "total_orders": {{ len .orders }}}`, data)
	require.NoError(t, err)

	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", resultMap["user_name"])
	assert.Equal(t, 2.0, resultMap["total_orders"])
}

func TestRender_ErrorHandling(t *testing.T) {
	data := map[string]any{"test": "value"}

	_, err := Render("{ invalid..expression }", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse json")

	_, err = Render("{{ nonexistent.field }}", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "function \"nonexistent\" not defined")
}

func TestRender_Functions(t *testing.T) {
	result, err := Render(`{{ default "fallback" .missing }}`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", result)

	result, err = Render(`{{ upper .name }}`, map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "ADA", result)

	result, err = Render(`{{ contains .name "d" }}`, map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestRenderWithContext(t *testing.T) {
	execution := &models.Execution{
		ID:         "exec-1",
		WorkflowID: "wf1",
		Variables:  map[string]any{"region": "eu"},
		Results:    map[string]any{"fetch": map[string]any{"status": 200.0}},
	}

	result, err := RenderWithContext("{{ .vars.region }}-{{ .execution.id }}", execution)
	require.NoError(t, err)
	assert.Equal(t, "eu-exec-1", result)

	result, err = RenderWithContext("{{ .results.fetch.status }}", execution)
	require.NoError(t, err)
	assert.Equal(t, 200.0, result)

	result, err = RenderWithContext("{{ .steps.fetch.status }}", execution)
	require.NoError(t, err)
	assert.Equal(t, 200.0, result)
}

func TestEvaluateCondition(t *testing.T) {
	execution := &models.Execution{
		Variables: map[string]any{"count": 3, "enabled": true},
		Results:   map[string]any{},
	}

	tests := []struct {
		expression string
		expected   bool
	}{
		{"{{ gt .variables.count 2 }}", true},
		{"{{ lt .variables.count 2 }}", false},
		{"{{ and .variables.enabled (eq .variables.count 3) }}", true},
		{"{{ .variables.missing }}", false},
		{"true", true},
		{"false", false},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			result, err := EvaluateCondition(tt.expression, execution)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}
