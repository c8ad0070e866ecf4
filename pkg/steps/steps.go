// Package steps registers the built-in step executors.
package steps

import (
	"net/http"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/steps/agenttask"
	"github.com/dukex/stepflow/pkg/steps/condition"
	"github.com/dukex/stepflow/pkg/steps/httprequest"
	"github.com/dukex/stepflow/pkg/steps/loop"
	"github.com/dukex/stepflow/pkg/steps/parallel"
	"github.com/dukex/stepflow/pkg/steps/script"
)

type Options struct {
	HTTPClient *http.Client
	// AgentEndpoint is used by agent-task steps that don't set one.
	AgentEndpoint string
}

func RegisterDefaults(reg *executor.Registry, opts Options) {
	reg.Register(parallel.NewFactory())
	reg.Register(condition.NewFactory())
	reg.Register(loop.NewFactory())
	reg.Register(script.NewFactory())
	reg.Register(httprequest.NewFactory(opts.HTTPClient))
	reg.Register(agenttask.NewFactory(opts.HTTPClient, opts.AgentEndpoint))
}
