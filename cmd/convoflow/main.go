// Command convoflow runs the conversation flow engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/convoflow/pkg/nodes"
	cli "github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "convoflow",
		Usage:                 "Run IVR and chatbot conversation flows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunCommand(),
			ValidateCommand(),
		},
	}
}

func persistenceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Persistence URL (postgres://..., memory://, file path)",
			Value:   "./data",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "flows-path",
			Usage:   "Directory with flow definitions; defaults to the database",
			Sources: cli.EnvVars("FLOWS_PATH"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.DurationFlag{
			Name:    "api-timeout",
			Usage:   "Default timeout of api_request nodes",
			Value:   nodes.DefaultAPITimeout,
			Sources: cli.EnvVars("API_TIMEOUT"),
		},
	}
}
