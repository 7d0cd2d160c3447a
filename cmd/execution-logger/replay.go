package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/n8n-extras/kafka-execution-logger/pkg/config"
	"github.com/n8n-extras/kafka-execution-logger/pkg/events"
	"github.com/n8n-extras/kafka-execution-logger/pkg/fallback"
	"github.com/n8n-extras/kafka-execution-logger/pkg/log"
	"github.com/n8n-extras/kafka-execution-logger/pkg/producer"
)

func NewReplayCommand() *cli.Command {
	return &cli.Command{
		Name:    "replay",
		Aliases: []string{"r"},
		Usage:   "Re-publish records from the fallback log files to Kafka",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "Fallback log directory (defaults to the configured one)",
				Sources: cli.EnvVars("N8N_KAFKA_LOGGER_FALLBACK_DIR"),
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Records per produced batch",
				Value: 100,
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Read and count records without producing",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.Setup(command.String("log-level")).With("module", "replay")

			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("configuration is invalid: %w", err)
			}

			directory := command.String("dir")
			if directory == "" {
				directory = cfg.Fallback.Directory
			}

			entries, skipped, err := fallback.ReadEntries(directory, cfg.Fallback.MaxFiles)
			if err != nil {
				return fmt.Errorf("failed to read fallback logs: %w", err)
			}

			var records []*events.ExecutionRecord
			for i := range entries {
				records = append(records, entries[i].Records()...)
			}

			logger.InfoContext(ctx, "Loaded fallback entries",
				"directory", directory,
				"entries", len(entries),
				"records", len(records),
				"corrupt_lines", skipped)

			if len(records) == 0 {
				_, _ = fmt.Fprintln(os.Stdout, "Nothing to replay.")

				return nil
			}

			if command.Bool("dry-run") {
				_, _ = fmt.Fprintf(os.Stdout, "Would replay %d records to topic %q.\n", len(records), cfg.Kafka.Topic)

				return nil
			}

			prod, err := producer.New(cfg, logger)
			if err != nil {
				return err
			}

			if err := prod.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect to Kafka: %w", err)
			}

			defer func() {
				if err := prod.Disconnect(ctx); err != nil {
					logger.WarnContext(ctx, "Disconnect failed", "error", err)
				}
			}()

			chunkSize := int(command.Int("chunk-size"))
			if chunkSize <= 0 {
				chunkSize = 100
			}

			sent := 0
			failed := 0

			for start := 0; start < len(records); start += chunkSize {
				end := min(start+chunkSize, len(records))

				if err := prod.SendBatch(ctx, records[start:end]); err != nil {
					failed += end - start
					logger.ErrorContext(ctx, "Failed to replay batch",
						"from", start, "to", end, "error", err)

					continue
				}

				sent += end - start
			}

			_, _ = fmt.Fprintf(os.Stdout, "Replayed %d/%d records to topic %q (%d failed).\n",
				sent, len(records), cfg.Kafka.Topic, failed)

			if failed > 0 {
				return fmt.Errorf("replay incomplete: %d records failed", failed)
			}

			return nil
		},
	}
}
