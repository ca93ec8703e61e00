package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/ermine-ai/ermine/pkg/model"
	"github.com/ermine-ai/ermine/pkg/service/memory"
	"github.com/ermine-ai/ermine/pkg/utils/logging"
)

const (
	summaryMaxMessages = 20
	summaryLineLength  = 220
	summaryStoreLength = 1000
)

// consolidateSession folds messages older than the keep-recent window
// into one long-term memory and advances the cursor. Best-effort: a
// failure here never affects the reply.
func (r *Runner) consolidateSession(ctx context.Context, sessionKey string) {
	if r.repo == nil || !r.config.ConsolidationEnabled {
		return
	}
	logger := logging.From(ctx)

	total, err := r.repo.MessageCount(ctx, sessionKey)
	if err != nil {
		logger.Warn("failed to count session messages", "error", err)
		return
	}
	if total <= r.config.SessionWindow {
		return
	}

	cut := total - r.config.SessionKeepRecent
	cursor, err := r.repo.LastConsolidated(ctx, sessionKey)
	if err != nil {
		logger.Warn("failed to read consolidation cursor", "error", err)
		return
	}
	if cut <= cursor {
		return
	}

	old, err := r.repo.Messages(ctx, sessionKey, cursor, cut)
	if err != nil || len(old) == 0 {
		if err != nil {
			logger.Warn("failed to load messages for consolidation", "error", err)
		}
		return
	}

	summary := summarizeMessages(sessionKey, old)
	embedding, err := r.provider.Embed(ctx, summary)
	if err != nil {
		logger.Warn("failed to embed session summary", "error", err)
		return
	}

	stored := summary
	if len(stored) > summaryStoreLength {
		stored = stored[:summaryStoreLength]
	}
	err = r.memory.Store(stored, embedding, memory.WithMetadata(map[string]any{
		"type": "session_summary", "session": sessionKey, "count": len(old),
	}))
	if err != nil {
		logger.Warn("failed to store session summary", "error", err)
		return
	}
	if err := r.memory.Save(); err != nil {
		logger.Warn("failed to persist memory archive", "error", err)
	}

	if err := r.repo.SetLastConsolidated(ctx, sessionKey, cut); err != nil {
		logger.Warn("failed to advance consolidation cursor", "error", err)
	}
}

func summarizeMessages(sessionKey string, messages []model.Message) string {
	start := len(messages) - summaryMaxMessages
	if start < 0 {
		start = 0
	}

	var lines []string
	for _, m := range messages[start:] {
		content := strings.ReplaceAll(strings.TrimSpace(m.Content), "\n", " ")
		if content == "" {
			continue
		}
		if len(content) > summaryLineLength {
			content = content[:summaryLineLength]
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", m.Role, content))
	}

	joined := "(no content)"
	if len(lines) > 0 {
		joined = strings.Join(lines, "\n")
	}
	return fmt.Sprintf("Session %s summary (%d messages):\n%s", sessionKey, len(messages), joined)
}
