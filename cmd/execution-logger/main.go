// Package main provides operational tooling for the Kafka execution logger:
// validating its configuration and replaying fallback logs to Kafka.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "execution-logger",
		EnableShellCompletion: true,
		Usage:                 "Operate the n8n Kafka execution logger",
		Commands: []*cli.Command{
			NewValidateCommand(),
			NewReplayCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
