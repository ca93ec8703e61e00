package cli

import (
	"context"

	"github.com/ermine-ai/ermine/pkg/utils/logging"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	// missing .env is fine
	_ = godotenv.Load()

	var cfg config
	cmd := &cli.Command{
		Name:  "ermine",
		Usage: "Personal assistant agent with entropy-based tool routing",
		Flags: globalFlags(&cfg),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger := cfg.newLogger()
			logging.SetDefault(logger)
			return logging.With(ctx, logger), nil
		},
		Commands: []*cli.Command{
			chatCommand(&cfg),
			askCommand(&cfg),
			memoryCommand(&cfg),
			cronCommand(&cfg),
			mcpCommand(&cfg),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
