package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/n8n-extras/kafka-execution-logger/pkg/config"
	"github.com/n8n-extras/kafka-execution-logger/pkg/log"
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate the N8N_KAFKA_LOGGER_* environment configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("configuration is invalid: %w", err)
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")

			if err := encoder.Encode(cfg.Redacted()); err != nil {
				return fmt.Errorf("failed to print configuration: %w", err)
			}

			if !cfg.Enabled {
				_, _ = fmt.Fprintln(os.Stdout, "Configuration is valid but the logger is disabled (set N8N_KAFKA_LOGGER_ENABLED=true).")

				return nil
			}

			_, _ = fmt.Fprintln(os.Stdout, "Configuration is valid.")

			return nil
		},
	}
}
