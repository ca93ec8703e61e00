package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/ermine-ai/ermine/pkg/model"
	"github.com/ermine-ai/ermine/pkg/utils/logging"
)

const (
	reviewMinConfidence = 0.8
	reviewMaxChars      = 900
	reviewOutputChars   = 2200
)

const reviewSystemPrompt = "You are a cautious assistant. Keep output under 120 words."

// reviewNote asks the provider for a second opinion on a tool run. The
// review only fires on a confident decision; low confidence, a clarify
// decision, or a provider failure all yield an empty note.
func (r *Runner) reviewNote(ctx context.Context, userMessage string, decision model.ToolDecision, toolOutput string) string {
	if !r.config.ReviewEnabled {
		return ""
	}
	if decision.ShouldClarify || decision.Tool == "" {
		return ""
	}
	if decision.Probabilities[decision.Tool] < reviewMinConfidence {
		return ""
	}

	output := toolOutput
	if len(output) > reviewOutputChars {
		output = output[:reviewOutputChars]
	}
	prompt := fmt.Sprintf(
		"User request:\n%s\n\nPrimary tool: %s\nTool output:\n%s\n\n"+
			"Provide a short second-opinion review with:\n"+
			"1) one risk if any,\n"+
			"2) one follow-up action.",
		userMessage, decision.Tool, output)

	note, err := r.provider.Chat(ctx, prompt, reviewSystemPrompt)
	if err != nil {
		logging.From(ctx).Warn("review subagent failed", "error", err)
		return ""
	}
	note = strings.TrimSpace(note)
	if len(note) > reviewMaxChars {
		note = note[:reviewMaxChars]
	}
	return note
}
