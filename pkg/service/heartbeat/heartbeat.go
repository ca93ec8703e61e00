package heartbeat

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/ermine-ai/ermine/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// TurnFunc runs one assistant turn for the heartbeat prompt.
type TurnFunc func(ctx context.Context, prompt string) error

// Runner periodically fires the instructions in a heartbeat file through
// a TurnFunc. A missing or empty file skips the beat.
type Runner struct {
	path     string
	interval time.Duration
	turnFn   TurnFunc
}

func NewRunner(path string, interval time.Duration, turnFn TurnFunc) (*Runner, error) {
	if path == "" {
		return nil, goerr.New("heartbeat file path is required")
	}
	if turnFn == nil {
		return nil, goerr.New("turn function is required")
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Runner{
		path:     path,
		interval: interval,
		turnFn:   turnFn,
	}, nil
}

// ReadMessage returns the trimmed file contents; a missing file is not
// an error and yields an empty message.
func (r *Runner) ReadMessage() (string, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", goerr.Wrap(err, "failed to read heartbeat file", goerr.V("path", r.path))
	}
	return strings.TrimSpace(string(raw)), nil
}

// Run fires once immediately, then on every interval tick until ctx is
// done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.fire(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) fire(ctx context.Context) {
	logger := logging.From(ctx)

	message, err := r.ReadMessage()
	if err != nil {
		logger.Warn("heartbeat read failed", "error", err)
		return
	}
	if message == "" {
		return
	}

	logger.Info("heartbeat fired", "path", r.path)
	if err := r.turnFn(ctx, message); err != nil {
		logger.Warn("heartbeat turn failed", "error", err)
	}
}
