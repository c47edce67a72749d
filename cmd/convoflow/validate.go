package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/convoflow/pkg/cmd"
	"github.com/dukex/convoflow/pkg/condition"
	"github.com/dukex/convoflow/pkg/flowgraph"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/nodes"
	cli "github.com/urfave/cli/v3"
)

var errInvalidFlows = errors.New("invalid flows")

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check every stored flow for graph and node errors",
		Flags: persistenceFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))
			logger := log.WithModule("validate")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			executor, err := nodes.NewExecutor(logger, nodes.WithAPITimeout(command.Duration("api-timeout")))
			if err != nil {
				return err
			}

			flows, err := cmd.NewFlowRepository(store, command.String("flows-path")).Flows(ctx)
			if err != nil {
				return fmt.Errorf("failed to list flows: %w", err)
			}

			conditions := condition.New(logger)
			out := command.Root().Writer
			invalid := 0

			for _, flow := range flows {
				if _, err := flowgraph.New(flow, flowgraph.WithNodeValidator(executor), flowgraph.WithConditionChecker(conditions)); err != nil {
					invalid++

					fmt.Fprintf(out, "FAIL %s v%d: %v\n", flow.ID, flow.Version, err)

					continue
				}

				fmt.Fprintf(out, "ok   %s v%d\n", flow.ID, flow.Version)
			}

			if invalid > 0 {
				return fmt.Errorf("%w: %d of %d", errInvalidFlows, invalid, len(flows))
			}

			return nil
		},
	}
}
