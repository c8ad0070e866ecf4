package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderYAML = `
id: order
name: Order fulfilment
variables:
  region: eu
steps:
  - id: reserve
    kind: script
    next: [check]
  - id: check
    kind: condition
    config:
      expression: '{{ gt (len .results) 0 }}'
      then: ship
      else: refund
  - id: ship
    kind: script
    recovery:
      type: retry
      max_attempts: 2
  - id: refund
    kind: script
`

const orderJSON = `{
  "id": "order",
  "name": "Order fulfilment",
  "steps": [
    {"id": "reserve", "kind": "script", "next": ["ship"]},
    {"id": "ship", "kind": "script"}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadWorkflow_YAML(t *testing.T) {
	workflow, err := loadWorkflow(writeFile(t, "order.yaml", orderYAML))
	require.NoError(t, err)

	assert.Equal(t, "order", workflow.ID)
	assert.Equal(t, "eu", workflow.Variables["region"])
	require.Len(t, workflow.Steps, 4)
	assert.Equal(t, models.StepKindCondition, workflow.Steps[1].Kind)
	assert.Equal(t, "ship", workflow.Steps[1].Config["then"])
	require.NotNil(t, workflow.Steps[2].Recovery)
	assert.Equal(t, 2, workflow.Steps[2].Recovery.MaxAttempts)
}

func TestLoadWorkflow_JSON(t *testing.T) {
	workflow, err := loadWorkflow(writeFile(t, "order.json", orderJSON))
	require.NoError(t, err)

	assert.Equal(t, []string{"ship"}, workflow.Steps[0].Next)
}

func TestLoadWorkflow_RejectsUnknownFields(t *testing.T) {
	_, err := loadWorkflow(writeFile(t, "order.json", `{"id": "x", "stpes": []}`))
	require.Error(t, err)

	_, err = loadWorkflow(writeFile(t, "order.yml", "id: x\nstpes: []\n"))
	require.Error(t, err)
}

func TestParseVariables(t *testing.T) {
	variables, err := parseVariables([]string{"count=3", "name=alice", "dry_run=true", "empty="})
	require.NoError(t, err)

	assert.Equal(t, 3, variables["count"])
	assert.Equal(t, "alice", variables["name"])
	assert.Equal(t, true, variables["dry_run"])
	assert.Equal(t, "", variables["empty"])

	_, err = parseVariables([]string{"novalue"})
	require.Error(t, err)
}

func TestValidateFile(t *testing.T) {
	registry := cmd.NewExecutorRegistry(log.Discard(), "")

	require.NoError(t, validateFile(writeFile(t, "order.yaml", orderYAML), registry))

	dangling := `{"id": "x", "name": "x", "steps": [{"id": "a", "kind": "script", "next": ["ghost"]}]}`
	err := validateFile(writeFile(t, "x.json", dangling), registry)
	require.Error(t, err)
	assert.True(t, models.IsInvalidDefinition(err))
}
