// Package template provides the bounded expression grammar used by condition,
// loop and script steps: Go text/template with a fixed function map.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"rand": func(max int) int {
		if max <= 0 {
			return 0
		}

		num := make([]byte, 1)

		_, err := rand.Read(num)
		if err != nil {
			return 0
		}

		return int(num[0]) % max
	},
	"default": func(fallback, value any) any {
		if value == nil {
			return fallback
		}

		if s, ok := value.(string); ok && s == "" {
			return fallback
		}

		return value
	},
	"contains": strings.Contains,
	"lower":    strings.ToLower,
	"upper":    strings.ToUpper,
	"toJSON": func(v any) (string, error) {
		b, err := json.Marshal(v)

		return string(b), err
	},
}

// Data builds the template scope for an execution. Variables are exposed as
// both .variables and .vars, step outputs as .results and .steps.
func Data(execution *models.Execution) map[string]any {
	return map[string]any{
		"variables": execution.Variables,
		"vars":      execution.Variables,
		"results":   execution.Results,
		"steps":     execution.Results,
		"env":       getEnvVars(),
		"execution": map[string]any{
			"id":              execution.ID,
			"workflow_id":     execution.WorkflowID,
			"current_step_id": execution.CurrentStepID,
		},
	}
}

func RenderWithContext(input string, execution *models.Execution) (any, error) {
	return Render(input, Data(execution))
}

// EvaluateCondition renders an expression and converts it to a bool.
func EvaluateCondition(expression string, execution *models.Execution) (bool, error) {
	rendered, err := RenderWithContext(expression, execution)
	if err != nil {
		return false, err
	}

	result, err := models.SimpleConditionalInterpreter{}.Evaluate(rendered)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition '%s': %w", expression, err)
	}

	return result, nil
}

func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.New("expression").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
