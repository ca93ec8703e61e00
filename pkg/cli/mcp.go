package cli

import (
	"context"
	"fmt"

	mcpsvc "github.com/ermine-ai/ermine/pkg/service/mcp"
	"github.com/urfave/cli/v3"
)

func mcpCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Inspect configured MCP servers",
		Commands: []*cli.Command{
			mcpToolsCommand(cfg),
		},
	}
}

func mcpToolsCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "List tools exposed by configured MCP servers",
		Action: func(ctx context.Context, c *cli.Command) error {
			mcpConfig, err := mcpsvc.LoadConfig(cfg.mcpConfig)
			if err != nil {
				return err
			}
			if len(mcpConfig.Servers) == 0 {
				fmt.Println("no MCP servers configured")
				return nil
			}

			registry := mcpsvc.ConnectAll(ctx, mcpConfig)
			defer registry.Close()

			for _, server := range registry.ServerNames() {
				tools, err := registry.ServerTools(server)
				if err != nil {
					return err
				}
				fmt.Printf("%s:\n", server)
				for _, t := range tools {
					fmt.Printf("  %s - %s\n", t.Name, t.Description)
				}
			}
			return nil
		},
	}
}
