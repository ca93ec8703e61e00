package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func askCommand(cfg *config) *cli.Command {
	var sessionKey string

	return &cli.Command{
		Name:      "ask",
		Usage:     "Run a single turn and print the reply",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "session",
				Aliases:     []string{"s"},
				Usage:       "Session key for conversation history",
				Value:       "default",
				Destination: &sessionKey,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			message := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if message == "" {
				return goerr.New("message is required")
			}

			runner, cleanup, err := cfg.newRunner(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := runner.RunTurn(ctx, sessionKey, message)
			if err != nil {
				return err
			}

			fmt.Println(result.Text)
			return nil
		},
	}
}
