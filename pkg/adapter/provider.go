package adapter

import (
	"context"
)

// Provider is the capability set the agent needs from an LLM backend.
// Every method may fail with a transient provider error; callers are
// expected to catch it and degrade to the heuristic provider rather than
// fail the turn.
type Provider interface {
	// Embed converts text into a fixed-length embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ScoreTools rates each tool's usefulness for the message. Scores are
	// unnormalized; the scheduler turns them into a distribution.
	ScoreTools(ctx context.Context, message string, toolDocs map[string]string) (map[string]float64, error)

	// PlanArgs produces concrete arguments for a tool call.
	PlanArgs(ctx context.Context, message, toolName, toolDoc string) (map[string]any, error)

	// Synthesize writes the final user-facing reply from a tool result.
	Synthesize(ctx context.Context, message, toolName, toolOutput string, memories []string) (string, error)

	// Chat is a plain prompt/response exchange.
	Chat(ctx context.Context, prompt, systemPrompt string) (string, error)
}
