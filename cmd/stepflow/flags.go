package main

import (
	"fmt"

	"github.com/dukex/stepflow/pkg/engine"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/recovery"
	cli "github.com/urfave/cli/v3"
)

func persistenceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "State store URL (file://path, postgres://..., redis://...)",
			Value:   "file://./data",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "agent-endpoint",
			Usage:   "Default endpoint for agent-task steps",
			Sources: cli.EnvVars("AGENT_ENDPOINT"),
		},
	}
}

func eventBusFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.BoolFlag{
			Name:    "otel",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:    "step-timeout",
			Usage:   "Timeout for steps without their own (0 disables)",
			Sources: cli.EnvVars("STEP_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "snapshot-interval",
			Usage:   "Snapshot running executions at this interval (0 disables)",
			Sources: cli.EnvVars("SNAPSHOT_INTERVAL"),
		},
		&cli.IntFlag{
			Name:    "max-steps",
			Usage:   "Steps one execution may run before it fails",
			Value:   engine.DefaultMaxSteps,
			Sources: cli.EnvVars("MAX_STEPS"),
		},
		&cli.StringFlag{
			Name:    "default-recovery",
			Usage:   "Recovery strategy for steps without one (retry, skip, escalate)",
			Value:   string(models.RecoveryRetry),
			Sources: cli.EnvVars("DEFAULT_RECOVERY"),
		},
		&cli.IntFlag{
			Name:    "breaker-threshold",
			Usage:   "Failures that open a circuit breaker",
			Value:   recovery.DefaultBreakerThreshold,
			Sources: cli.EnvVars("BREAKER_THRESHOLD"),
		},
		&cli.DurationFlag{
			Name:    "breaker-timeout",
			Usage:   "Time an open breaker waits before half-opening",
			Value:   recovery.DefaultBreakerTimeout,
			Sources: cli.EnvVars("BREAKER_TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    "breaker-per-step",
			Usage:   "Key circuit breakers by step id instead of step kind",
			Sources: cli.EnvVars("BREAKER_PER_STEP"),
		},
		&cli.IntFlag{
			Name:    "dead-letter-capacity",
			Usage:   "Entries kept in the dead-letter queue",
			Value:   recovery.DefaultDeadLetterCapacity,
			Sources: cli.EnvVars("DEAD_LETTER_CAPACITY"),
		},
	}
}

func engineConfig(command *cli.Command) engine.Config {
	cfg := engine.DefaultConfig()
	cfg.DefaultStepTimeout = command.Duration("step-timeout")
	cfg.SnapshotInterval = command.Duration("snapshot-interval")
	cfg.MaxSteps = command.Int("max-steps")

	return cfg
}

// recoveryConfig only accepts default strategies that need no per-step
// targets.
func recoveryConfig(command *cli.Command) (recovery.Config, error) {
	cfg := recovery.DefaultConfig()
	cfg.BreakerThreshold = command.Int("breaker-threshold")
	cfg.BreakerTimeout = command.Duration("breaker-timeout")
	cfg.BreakerKeyByStepID = command.Bool("breaker-per-step")
	cfg.DeadLetterCapacity = command.Int("dead-letter-capacity")

	switch strategy := models.RecoveryStrategyType(command.String("default-recovery")); strategy {
	case models.RecoveryRetry:
	case models.RecoverySkip, models.RecoveryEscalate:
		cfg.DefaultStrategy = models.RecoveryStrategy{Type: strategy}
	default:
		return cfg, fmt.Errorf("unsupported default recovery strategy %q", strategy)
	}

	return cfg, nil
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, group := range groups {
		out = append(out, group...)
	}

	return out
}
