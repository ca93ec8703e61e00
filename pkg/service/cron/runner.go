package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/ermine-ai/ermine/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/robfig/cron/v3"
)

// TurnFunc runs one assistant turn for a fired task prompt.
type TurnFunc func(ctx context.Context, prompt string) error

// Runner schedules the store's enabled tasks and fires their prompts
// through a TurnFunc.
type Runner struct {
	store  *Store
	turnFn TurnFunc
}

func NewRunner(store *Store, turnFn TurnFunc) *Runner {
	return &Runner{
		store:  store,
		turnFn: turnFn,
	}
}

// Run schedules all enabled tasks and blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	c := cron.New()

	for _, task := range r.store.List() {
		if !task.Enabled {
			continue
		}

		spec := fmt.Sprintf("@every %ds", task.IntervalSeconds)
		entry := task
		_, err := c.AddFunc(spec, func() {
			r.fire(ctx, entry)
		})
		if err != nil {
			return goerr.Wrap(err, "failed to schedule task",
				goerr.V("id", task.ID), goerr.V("spec", spec))
		}
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (r *Runner) fire(ctx context.Context, task Task) {
	logger := logging.From(ctx)
	logger.Info("cron task fired", "id", task.ID, "prompt", task.Prompt)

	if err := r.turnFn(ctx, task.Prompt); err != nil {
		logger.Warn("cron task failed", "id", task.ID, "error", err)
		return
	}
	if err := r.store.MarkRun(task.ID, time.Now()); err != nil {
		logger.Warn("failed to record cron task run", "id", task.ID, "error", err)
	}
}
