package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"gopkg.in/yaml.v3"
)

// loadWorkflow reads a definition file. .yaml and .yml files are decoded as
// YAML, everything else as JSON.
func loadWorkflow(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	var workflow models.Workflow

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)

		err = decoder.Decode(&workflow)
	default:
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()

		err = decoder.Decode(&workflow)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return &workflow, nil
}

// parseVariables turns key=value pairs into execution variables. Values that
// parse as YAML scalars keep their type, so count=3 is a number.
func parseVariables(pairs []string) (map[string]any, error) {
	variables := make(map[string]any, len(pairs))

	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", pair)
		}

		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}

		variables[key] = value
	}

	return variables, nil
}
