package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/engine"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/metrics"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/recovery"
	cli "github.com/urfave/cli/v3"
)

// app holds the wired components shared by serve and run.
type app struct {
	logger    *slog.Logger
	store     persistence.Persistence
	bus       eventbus.EventBus
	registry  *executor.Registry
	errors    *recovery.Handler
	engine    *engine.Engine
	metrics   *metrics.Collector
	stopTrace otelhelper.ShutdownFunc
}

func newApp(ctx context.Context, command *cli.Command, logger *slog.Logger) (*app, error) {
	recoveryCfg, err := recoveryConfig(command)
	if err != nil {
		return nil, err
	}

	a := &app{logger: logger, metrics: metrics.NewCollector()}

	a.store, err = cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, err
	}

	a.bus, err = cmd.NewEventBus(cmd.EventBusConfig{
		Provider:     command.String("event-bus"),
		KafkaBrokers: command.String("kafka-brokers"),
		OTELEnabled:  command.Bool("otel"),
	}, logger)
	if err != nil {
		_ = a.store.Close(ctx)

		return nil, err
	}

	tracer, stopTrace, err := otelhelper.NewTracer(ctx, "stepflow", command.Bool("otel"))
	if err != nil {
		_ = a.bus.Close()
		_ = a.store.Close(ctx)

		return nil, err
	}

	a.stopTrace = stopTrace
	a.registry = cmd.NewExecutorRegistry(logger, command.String("agent-endpoint"))

	// Metrics are observed on publish, the bus is never subscribed back.
	publisher := a.metrics.Publisher(a.bus)

	a.errors = recovery.NewHandler(recoveryCfg, publisher, logger)
	a.engine = engine.New(a.store, a.registry,
		engine.WithConfig(engineConfig(command)),
		engine.WithErrorHandler(a.errors),
		engine.WithPublisher(publisher),
		engine.WithTracer(tracer),
		engine.WithLogger(logger),
	)
	a.errors.Attach(a.engine)

	return a, nil
}

// close stops the engine first so in-flight executions persist before the
// store goes away.
func (a *app) close(ctx context.Context) error {
	return errors.Join(
		a.engine.Shutdown(ctx),
		a.stopTrace(ctx),
		a.bus.Close(),
		a.store.Close(ctx),
	)
}
