package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/maintenance"
	"github.com/dukex/stepflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	requestlogger "github.com/gofiber/fiber/v3/middleware/logger"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the workflow HTTP API",
		Flags: flags(
			persistenceFlags(),
			eventBusFlags(),
			engineFlags(),
			[]cli.Flag{
				&cli.IntFlag{
					Name:    "port",
					Aliases: []string{"p"},
					Usage:   "Port to run the API server on",
					Value:   defaultPort,
					Sources: cli.EnvVars("PORT"),
				},
				&cli.StringFlag{
					Name:    "error-cleanup-schedule",
					Usage:   "Cron schedule dropping resolved errors (empty disables)",
					Value:   maintenance.DefaultErrorCleanupSchedule,
					Sources: cli.EnvVars("ERROR_CLEANUP_SCHEDULE"),
				},
				&cli.StringFlag{
					Name:    "snapshot-sweep-schedule",
					Usage:   "Cron schedule sweeping snapshots of finished executions (empty disables)",
					Value:   maintenance.DefaultSnapshotSweepSchedule,
					Sources: cli.EnvVars("SNAPSHOT_SWEEP_SCHEDULE"),
				},
			},
		),
		Action: serve,
	}
}

func serve(ctx context.Context, command *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.WithModule("stepflow-api")

	logger.InfoContext(ctx, "Initializing stepflow API")

	a, err := newApp(ctx, command, logger)
	if err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := a.close(shutdownCtx); err != nil {
			logger.ErrorContext(shutdownCtx, "Failed to shut down cleanly", "error", err)
		}
	}()

	maintenanceCfg := maintenance.DefaultConfig()
	maintenanceCfg.ErrorCleanupSchedule = command.String("error-cleanup-schedule")
	maintenanceCfg.SnapshotSweepSchedule = command.String("snapshot-sweep-schedule")

	scheduler := maintenance.NewScheduler(maintenanceCfg, a.errors, a.store, logger)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		_ = scheduler.Stop(stopCtx)
	}()

	recovered, err := a.engine.RecoverInterrupted(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to recover interrupted executions", "error", err)
	} else if recovered > 0 {
		logger.InfoContext(ctx, "Recovered interrupted executions", "count", recovered)
	}

	handlers := web.NewAPIHandlers(a.engine, a.errors, a.store, a.metrics,
		validator.New(validator.WithRequiredStructEnabled()))

	server := fiber.New()
	server.Use(cors.New())
	server.Use(requestlogger.New(requestlogger.Config{
		DisableColors: true,
	}))

	server.Get("/", func(c fiber.Ctx) error {
		return c.SendString("stepflow API")
	})

	handlers.RegisterRoutes(server)

	listenErr := make(chan error, 1)

	go func() {
		listenErr <- server.Listen(":"+strconv.Itoa(command.Int("port")), fiber.ListenConfig{
			DisableStartupMessage: true,
		})
	}()

	logger.InfoContext(ctx, "Stepflow API listening", "port", command.Int("port"))

	select {
	case err := <-listenErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to serve: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	logger.InfoContext(ctx, "Shutting down stepflow API")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return server.ShutdownWithContext(shutdownCtx)
}
