package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleConditionalInterpreter_Evaluate(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected bool
	}{
		{name: "nil is false", input: nil, expected: false},
		{name: "bool true", input: true, expected: true},
		{name: "bool false", input: false, expected: false},
		{name: "string true", input: "true", expected: true},
		{name: "string false with spaces", input: "  false ", expected: false},
		{name: "empty string", input: "", expected: false},
		{name: "missing template value", input: "<no value>", expected: false},
		{name: "non boolean string is truthy", input: "ready", expected: true},
		{name: "zero float", input: 0.0, expected: false},
		{name: "non zero int", input: 3, expected: true},
		{name: "empty map", input: map[string]any{}, expected: false},
		{name: "non empty slice", input: []any{1}, expected: true},
	}

	interpreter := SimpleConditionalInterpreter{}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := interpreter.Evaluate(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSimpleConditionalInterpreter_Evaluate_UnsupportedType(t *testing.T) {
	_, err := SimpleConditionalInterpreter{}.Evaluate(struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot convert")
}
