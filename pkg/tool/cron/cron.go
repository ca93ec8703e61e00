package cron

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	cronsvc "github.com/ermine-ai/ermine/pkg/service/cron"
	"github.com/ermine-ai/ermine/pkg/tool"
	"github.com/google/jsonschema-go/jsonschema"
)

type cronTool struct {
	store *cronsvc.Store
}

// New creates the cron management tool backed by the given task store.
func New(store *cronsvc.Store) *cronTool {
	return &cronTool{store: store}
}

func (x *cronTool) Name() string { return "cron" }

func (x *cronTool) Description() string {
	return "Manage recurring background tasks and reminders. " +
		"Use when the user says 'remind me' or 'do this every N minutes'. " +
		"Action 'add' creates a task, 'list' shows tasks, 'remove' deletes one. " +
		`Args: {"action": "add|list|remove", "message": str?, "every_seconds": number?, "job_id": str?}.`
}

func (x *cronTool) Parameters() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"action"},
		Properties: map[string]*jsonschema.Schema{
			"action": {
				Type: "string",
				Enum: []any{"add", "list", "remove"},
			},
			"message": {
				Type:        "string",
				Description: "Prompt to run when the task fires, required for 'add'",
			},
			"every_seconds": {
				Type:        "number",
				Description: "Interval in seconds, required for 'add'",
			},
			"job_id": {
				Type:        "string",
				Description: "Task ID to remove, required for 'remove'",
			},
		},
	}
}

func (x *cronTool) Run(_ context.Context, args map[string]any, _ *tool.Context) (*tool.Result, error) {
	action, _ := args["action"].(string)

	switch action {
	case "list":
		tasks := x.store.List()
		if len(tasks) == 0 {
			return &tool.Result{Output: "No active cron tasks.", Success: true}, nil
		}
		lines := []string{"Active cron tasks:"}
		for _, t := range tasks {
			lines = append(lines, fmt.Sprintf("- [%s] Every %ds: %s", t.ID, t.IntervalSeconds, t.Prompt))
		}
		return &tool.Result{Output: strings.Join(lines, "\n"), Success: true}, nil

	case "remove":
		jobID := coerceJobID(args)
		if jobID == "" {
			return &tool.Result{Output: "job_id is required to remove a task", Success: false}, nil
		}
		removed, err := x.store.Remove(jobID)
		if err != nil {
			return nil, err
		}
		if !removed {
			return &tool.Result{Output: "task not found: " + jobID, Success: false}, nil
		}
		return &tool.Result{Output: "removed task " + jobID, Success: true}, nil

	case "add":
		message := coerceMessage(args)
		if message == "" {
			return &tool.Result{Output: "message is required to add a task", Success: false}, nil
		}
		seconds, ok := coerceEverySeconds(args)
		if !ok || seconds <= 0 {
			return &tool.Result{Output: "every_seconds must be a positive number", Success: false}, nil
		}
		id, err := x.store.Add(message, seconds)
		if err != nil {
			return nil, err
		}
		return &tool.Result{
			Output:  fmt.Sprintf("added task %s: %q every %d seconds", id, message, seconds),
			Success: true,
		}, nil
	}

	return &tool.Result{Output: "unknown action: " + action, Success: false}, nil
}

// Planner output for these keys is unreliable, so a few argument
// spellings are accepted.

func coerceMessage(args map[string]any) string {
	for _, key := range []string{"message", "prompt", "text", "reminder"} {
		if v, ok := args[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

var durationPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(s|sec|seconds?|m|min|minutes?|h|hr|hours?)$`)

func coerceEverySeconds(args map[string]any) (int, bool) {
	for _, key := range []string{"every_seconds", "interval_seconds", "everySeconds", "intervalSeconds"} {
		switch v := args[key].(type) {
		case float64:
			return int(v), true
		case int:
			return v, true
		case string:
			text := strings.ToLower(strings.TrimSpace(v))
			if text == "" {
				continue
			}
			if f, err := strconv.ParseFloat(text, 64); err == nil {
				return int(f), true
			}
			if m := durationPattern.FindStringSubmatch(text); m != nil {
				amount, _ := strconv.ParseFloat(m[1], 64)
				switch m[2][0] {
				case 'h':
					return int(amount * 3600), true
				case 'm':
					return int(amount * 60), true
				default:
					return int(amount), true
				}
			}
		}
	}
	return 0, false
}

func coerceJobID(args map[string]any) string {
	for _, key := range []string{"job_id", "jobId", "task_id", "taskId", "id"} {
		if v, ok := args[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
