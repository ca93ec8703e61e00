package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func chatCommand(cfg *config) *cli.Command {
	var sessionKey string

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive conversation with the assistant",
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
			runner, cleanup, err := cfg.newRunner(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rl, err := readline.New("> ")
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			fmt.Println("ermine chat (type 'exit' or Ctrl-D to quit)")

			for {
				line, err := rl.Readline()
				if err != nil {
					if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
						return nil
					}
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				if message == "" {
					continue
				}
				if message == "exit" || message == "quit" {
					return nil
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				sp.Suffix = " thinking..."
				sp.Start()
				result, err := runner.RunTurn(ctx, sessionKey, message)
				sp.Stop()

				if err != nil {
					fmt.Printf("error: %s\n", err)
					continue
				}
				fmt.Println(result.Text)
			}
		},
	}
}
