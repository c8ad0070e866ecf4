// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/steps"
)

const defaultHTTPTimeout = 30 * time.Second

// NewExecutorRegistry returns a registry with every built-in step kind.
func NewExecutorRegistry(logger *slog.Logger, agentEndpoint string) *executor.Registry {
	reg := executor.NewRegistry(logger)

	steps.RegisterDefaults(reg, steps.Options{
		HTTPClient:    &http.Client{Timeout: defaultHTTPTimeout},
		AgentEndpoint: agentEndpoint,
	})

	logger.Info("Registered step executors", "kinds", reg.Kinds())

	return reg
}
