package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/convoflow/pkg/cmd"
	"github.com/dukex/convoflow/pkg/condition"
	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/flowgraph"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/metrics"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/nodes"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/scheduler"
	"github.com/dukex/convoflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 15 * time.Second
)

func RunCommand() *cli.Command {
	defaults := engine.DefaultConfig()

	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the engine and its HTTP API",
		Flags: append(persistenceFlags(),
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "timer-store-url",
				Usage:   "Durable timer store (redis://...); defaults to the database",
				Sources: cli.EnvVars("TIMER_STORE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (none, gochannel, kafka)",
				Value:   "none",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers, used with --event-bus kafka",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "channels-config",
				Usage:   "YAML file describing the channel adapters",
				Sources: cli.EnvVars("CHANNELS_CONFIG"),
			},
			&cli.IntFlag{
				Name:    "max-hops",
				Usage:   "Maximum nodes executed for one event",
				Value:   defaults.MaxHops,
				Sources: cli.EnvVars("MAX_HOPS"),
			},
			&cli.DurationFlag{
				Name:    "idle-timeout",
				Usage:   "How long a conversation may wait before it is closed",
				Value:   defaults.IdleTimeout,
				Sources: cli.EnvVars("IDLE_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "idle-sweep",
				Usage:   "Cron spec of the idle watchdog",
				Value:   scheduler.DefaultIdleSweep,
				Sources: cli.EnvVars("IDLE_SWEEP"),
			},
			&cli.IntFlag{
				Name:    "send-retries",
				Usage:   "Retries of a failed outbound action",
				Value:   defaults.SendRetries,
				Sources: cli.EnvVars("SEND_RETRIES"),
			},
			&cli.IntFlag{
				Name:    "input-retries",
				Usage:   "Invalid answers an input or menu node accepts when it sets no max_retries",
				Value:   nodes.DefaultMaxRetries,
				Sources: cli.EnvVars("INPUT_MAX_RETRIES"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return run(ctx, command, log.WithModule("convoflow"))
		},
	}
}

func run(ctx context.Context, command *cli.Command, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing convoflow")

	tracer := otelhelper.Noop()

	if command.Bool("tracing") {
		t, err := otelhelper.NewTracer(ctx, "convoflow")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		tracer = t
	}

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	timers, err := cmd.NewTimerStore(ctx, command.String("timer-store-url"), store)
	if err != nil {
		return err
	}

	executor, err := nodes.NewExecutor(logger,
		nodes.WithAPITimeout(command.Duration("api-timeout")),
		nodes.WithDefaultMaxRetries(command.Int("input-retries")),
	)
	if err != nil {
		return err
	}

	conditions := condition.New(logger)

	catalog := flowgraph.NewCatalog(cmd.NewFlowRepository(store, command.String("flows-path")), logger,
		flowgraph.WithNodeValidator(executor), flowgraph.WithConditionChecker(conditions))
	if err := catalog.Load(ctx); err != nil {
		return fmt.Errorf("failed to load flows: %w", err)
	}

	channels, err := cmd.NewChannelRegistry(logger, command.String("channels-config"))
	if err != nil {
		return err
	}

	eventBus, inbound, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sched := scheduler.New(timers, store.ConversationStore(), logger, scheduler.WithIdleSweep(command.String("idle-sweep")))

	deps := engine.Dependencies{
		Catalog:       catalog,
		Conversations: store.ConversationStore(),
		Executor:      executor,
		Conditions:    conditions,
		Sender:        channels,
		Scheduler:     sched,
		Tracer:        tracer,
		Metrics:       metrics.New(registry),
		Logger:        logger,
	}

	if eventBus != nil {
		deps.Publisher = eventBus
	}

	runner, err := engine.NewRunner(engine.Config{
		MaxHops:     command.Int("max-hops"),
		IdleTimeout: command.Duration("idle-timeout"),
		SendRetries: command.Int("send-retries"),
	}, deps)
	if err != nil {
		return err
	}

	api := web.NewAPI(web.Dependencies{
		Submitter:     runner,
		Inbound:       inbound,
		Catalog:       catalog,
		Conversations: store.ConversationStore(),
		Health:        store,
		Channels:      channels,
		Gatherer:      registry,
		Logger:        logger,
	})
	app := api.App()

	g, gctx := errgroup.WithContext(ctx)

	if inbound != nil {
		inbound.HandleInbound(func(ctx context.Context, event *models.InboundEvent) error {
			runner.Submit(ctx, event)

			return nil
		})

		if err := inbound.SubscribeInbound(gctx); err != nil {
			return fmt.Errorf("failed to subscribe to inbound events: %w", err)
		}
	}

	if err := sched.Start(gctx, runner); err != nil {
		return err
	}

	g.Go(func() error {
		port := strconv.Itoa(command.Int("port"))
		logger.InfoContext(gctx, "HTTP API listening", "port", port)

		return app.Listen(":"+port, fiber.ListenConfig{DisableStartupMessage: true})
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		return errors.Join(app.ShutdownWithContext(shutdownCtx), sched.Stop(shutdownCtx))
	})

	err = g.Wait()

	logger.InfoContext(ctx, "Draining in-flight conversations")
	runner.Wait()

	if eventBus != nil {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}

	if inbound != nil {
		if err := inbound.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close inbound bus", "error", err)
		}
	}

	return err
}
