package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	cronsvc "github.com/ermine-ai/ermine/pkg/service/cron"
	"github.com/ermine-ai/ermine/pkg/service/heartbeat"
	"github.com/urfave/cli/v3"
)

func cronCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:  "cron",
		Usage: "Manage and run scheduled tasks",
		Commands: []*cli.Command{
			cronListCommand(cfg),
			cronRunCommand(cfg),
		},
	}
}

func cronListCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List scheduled tasks",
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := cfg.ensureDataDir(); err != nil {
				return err
			}
			store, err := cfg.newCronStore()
			if err != nil {
				return err
			}

			tasks := store.List()
			if len(tasks) == 0 {
				fmt.Println("no scheduled tasks")
				return nil
			}
			for _, task := range tasks {
				state := "enabled"
				if !task.Enabled {
					state = "disabled"
				}
				fmt.Printf("%s  every %ds  [%s]  %s\n", task.ID, task.IntervalSeconds, state, task.Prompt)
			}
			return nil
		},
	}
}

func cronRunCommand(cfg *config) *cli.Command {
	var sessionKey string
	var heartbeatFile string
	var heartbeatInterval int

	return &cli.Command{
		Name:  "run",
		Usage: "Run scheduled tasks until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "session",
				Aliases:     []string{"s"},
				Usage:       "Session key for scheduled turns",
				Value:       "cron",
				Destination: &sessionKey,
			},
			&cli.StringFlag{
				Name:        "heartbeat-file",
				Usage:       "Markdown file whose contents fire as a periodic prompt",
				Sources:     cli.EnvVars("ERMINE_HEARTBEAT_FILE"),
				Destination: &heartbeatFile,
			},
			&cli.IntFlag{
				Name:        "heartbeat-interval",
				Usage:       "Heartbeat interval in seconds",
				Value:       300,
				Sources:     cli.EnvVars("ERMINE_HEARTBEAT_INTERVAL"),
				Destination: &heartbeatInterval,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			runner, cleanup, err := cfg.newRunner(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			store, err := cfg.newCronStore()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			turnFn := func(ctx context.Context, prompt string) error {
				result, err := runner.RunTurn(ctx, sessionKey, prompt)
				if err != nil {
					return err
				}
				fmt.Println(result.Text)
				return nil
			}

			if heartbeatFile != "" {
				beat, err := heartbeat.NewRunner(heartbeatFile,
					time.Duration(heartbeatInterval)*time.Second, heartbeat.TurnFunc(turnFn))
				if err != nil {
					return err
				}
				go func() {
					if err := beat.Run(runCtx); err != nil {
						fmt.Printf("heartbeat error: %s\n", err)
					}
				}()
			}

			fmt.Println("cron runner started (Ctrl-C to stop)")
			return cronsvc.NewRunner(store, turnFn).Run(runCtx)
		},
	}
}
