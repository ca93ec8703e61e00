package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func memoryCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect or manage long-term memory",
		Commands: []*cli.Command{
			memoryListCommand(cfg),
			memorySearchCommand(cfg),
			memoryClearCommand(cfg),
		},
	}
}

func memoryListCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List stored memories",
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := cfg.ensureDataDir(); err != nil {
				return err
			}
			store, err := cfg.newMemory()
			if err != nil {
				return err
			}

			records := store.Records()
			if len(records) == 0 {
				fmt.Println("no memories stored")
				return nil
			}
			for _, r := range records {
				fmt.Printf("%s  %s\n", r.CreatedAt.Format("2006-01-02 15:04"), r.Text)
			}
			return nil
		},
	}
}

func memorySearchCommand(cfg *config) *cli.Command {
	var topK int

	return &cli.Command{
		Name:      "search",
		Usage:     "Recall memories relevant to a query",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "top-k",
				Aliases:     []string{"k"},
				Usage:       "Number of memories to recall",
				Value:       5,
				Destination: &topK,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if query == "" {
				return goerr.New("query is required")
			}

			if err := cfg.ensureDataDir(); err != nil {
				return err
			}
			store, err := cfg.newMemory()
			if err != nil {
				return err
			}
			provider, err := cfg.newProvider(ctx)
			if err != nil {
				return err
			}

			embedding, err := provider.Embed(ctx, query)
			if err != nil {
				return goerr.Wrap(err, "failed to embed query")
			}

			scored, err := store.RecallScored(embedding, topK)
			if err != nil {
				return err
			}
			if len(scored) == 0 {
				fmt.Println("no matching memories")
				return nil
			}
			for _, item := range scored {
				fmt.Printf("%.4f  %s\n", item.Score, item.Text)
			}
			return nil
		},
	}
}

func memoryClearCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Delete all stored memories",
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := cfg.ensureDataDir(); err != nil {
				return err
			}
			store, err := cfg.newMemory()
			if err != nil {
				return err
			}

			count := store.Len()
			store.Clear()
			if err := store.Save(); err != nil {
				return err
			}
			fmt.Printf("cleared %d memories\n", count)
			return nil
		},
	}
}
