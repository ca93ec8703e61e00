package turn

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ermine-ai/ermine/pkg/adapter"
	"github.com/ermine-ai/ermine/pkg/hook"
	"github.com/ermine-ai/ermine/pkg/model"
	"github.com/ermine-ai/ermine/pkg/repository"
	"github.com/ermine-ai/ermine/pkg/service/adaptive"
	"github.com/ermine-ai/ermine/pkg/service/memory"
	"github.com/ermine-ai/ermine/pkg/service/scheduler"
	"github.com/ermine-ai/ermine/pkg/service/skill"
	"github.com/ermine-ai/ermine/pkg/tool"
	"github.com/ermine-ai/ermine/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	maxToolChain    = 3
	chainConfidence = 0.7
	historyMessages = 12
)

// Config tunes the runner's per-turn behavior.
type Config struct {
	Workspace            string
	MemoryTopK           int
	ToolTimeout          time.Duration
	MaxActiveSkills      int
	EntropyThresholdBits float64
	AdaptiveEnabled      bool
	SessionWindow        int
	SessionKeepRecent    int
	ConsolidationEnabled bool
	ReviewEnabled        bool
}

// Runner orchestrates one assistant turn: memory recall, tool
// routing, execution, and response synthesis.
type Runner struct {
	config    Config
	provider  adapter.Provider
	heuristic adapter.Provider
	scheduler *scheduler.Scheduler
	tuner     *adaptive.Tuner
	memory    *memory.Store
	tools     *tool.Registry
	repo      repository.SessionRepository
	skills    *skill.Library
	sink      hook.Sink
	policy    *Policy
}

// NewInput contains dependencies for creating a Runner. Tuner, Repo,
// Skills, and Sink are optional.
type NewInput struct {
	Config    Config
	Provider  adapter.Provider
	Scheduler *scheduler.Scheduler
	Memory    *memory.Store
	Tools     *tool.Registry
	Tuner     *adaptive.Tuner
	Repo      repository.SessionRepository
	Skills    *skill.Library
	Sink      hook.Sink
	Policy    *Policy
}

func New(input NewInput) (*Runner, error) {
	if input.Provider == nil {
		return nil, goerr.New("provider is required")
	}
	if input.Scheduler == nil {
		return nil, goerr.New("scheduler is required")
	}
	if input.Memory == nil {
		return nil, goerr.New("memory store is required")
	}
	if input.Tools == nil {
		return nil, goerr.New("tool registry is required")
	}

	r := &Runner{
		config:    input.Config,
		provider:  input.Provider,
		heuristic: adapter.NewHeuristic(),
		scheduler: input.Scheduler,
		tuner:     input.Tuner,
		memory:    input.Memory,
		tools:     input.Tools,
		repo:      input.Repo,
		skills:    input.Skills,
		sink:      input.Sink,
		policy:    input.Policy,
	}
	if r.sink == nil {
		r.sink = hook.NopSink{}
	}
	if r.policy == nil {
		r.policy = DefaultPolicy()
	}
	if r.config.MemoryTopK <= 0 {
		r.config.MemoryTopK = 4
	}
	if r.config.ToolTimeout <= 0 {
		r.config.ToolTimeout = 30 * time.Second
	}
	if r.config.MaxActiveSkills <= 0 {
		r.config.MaxActiveSkills = 3
	}
	return r, nil
}

// RunTurn processes one user message and returns the assistant's
// reply with routing details.
func (r *Runner) RunTurn(ctx context.Context, sessionKey, userMessage string) (*model.TurnResult, error) {
	r.sink.Emit(ctx, hook.Event{Name: hook.EventTurnStart, Fields: map[string]any{
		"session": sessionKey, "message": userMessage,
	}})

	r.appendMessage(ctx, sessionKey, model.RoleUser, userMessage)

	memories := r.recallMemories(ctx, userMessage)
	history := r.loadHistory(ctx, sessionKey)
	skillsSummary, activeSkills := r.selectSkills(ctx, userMessage)

	routing := buildRoutingMessage(userMessage, memories, history, skillsSummary, activeSkills)

	if r.policy.ShouldReplyDirectly(userMessage) {
		text := r.directReply(ctx, userMessage, memories, history)
		return r.finishTurn(ctx, sessionKey, &model.TurnResult{
			Text:         text,
			ActiveSkills: skillNames(activeSkills),
			Decision:     model.ToolDecision{Probabilities: map[string]float64{}},
		}), nil
	}

	toolDocs := r.tools.Docs()
	scores, err := r.provider.ScoreTools(ctx, routing, toolDocs)
	if err != nil {
		logging.From(ctx).Warn("provider scoring failed, using heuristic", "error", err)
		scores, _ = r.heuristic.ScoreTools(ctx, routing, toolDocs)
	}

	threshold := r.config.EntropyThresholdBits
	if r.tuner != nil && r.config.AdaptiveEnabled {
		threshold = r.tuner.Current()
	}

	decision := r.scheduler.DecideWithThreshold(scores, threshold)
	if decision.ShouldClarify || decision.Tool == "" {
		return r.finishTurn(ctx, sessionKey, &model.TurnResult{
			Text:         clarificationText(decision, threshold),
			Decision:     decision,
			ActiveSkills: skillNames(activeSkills),
		}), nil
	}

	toolName := decision.Tool
	args, ok := r.planArgs(ctx, userMessage, toolName, toolDocs[toolName])
	if !ok {
		if toolName != "shell" {
			text := r.directReply(ctx, userMessage, memories, history)
			return r.finishTurn(ctx, sessionKey, &model.TurnResult{
				Text:         text,
				Decision:     decision,
				ActiveSkills: skillNames(activeSkills),
			}), nil
		}
		if r.policy.LooksLikeShellCommand(userMessage) {
			args = map[string]any{"command": strings.TrimSpace(userMessage)}
		} else {
			args = map[string]any{}
		}
	}

	if toolName == "shell" {
		command, _ := args["command"].(string)
		command = strings.TrimSpace(command)
		if command == "" || !r.policy.LooksLikeShellCommand(command) {
			text := r.directReply(ctx, userMessage, memories, history)
			return r.finishTurn(ctx, sessionKey, &model.TurnResult{
				Text:         text,
				Decision:     decision,
				ActiveSkills: skillNames(activeSkills),
			}), nil
		}
		args["command"] = command
	}

	result := r.execute(ctx, toolName, args)
	output := result.Output
	success := result.Success

	// Chain follow-up tools while the provider stays confident that
	// another tool call improves the answer.
	for depth := 0; success && depth < maxToolChain; depth++ {
		chainRouting := routing + "\n\nTool result: " + output
		chainScores, err := r.provider.ScoreTools(ctx, chainRouting, toolDocs)
		if err != nil {
			break
		}

		chainDecision := r.scheduler.DecideWithThreshold(chainScores, threshold)
		if chainDecision.Tool == "" || chainDecision.ShouldClarify ||
			chainDecision.EntropyBits >= threshold {
			break
		}
		if chainDecision.Probabilities[chainDecision.Tool] <= chainConfidence {
			break
		}

		chainArgs, ok := r.planArgs(ctx, userMessage, chainDecision.Tool, toolDocs[chainDecision.Tool])
		if !ok {
			break
		}

		chainResult := r.execute(ctx, chainDecision.Tool, chainArgs)
		output = chainResult.Output
		success = chainResult.Success
		toolName = chainDecision.Tool
		args = chainArgs
		decision = chainDecision
	}

	r.sink.Emit(ctx, hook.Event{Name: hook.EventToolResult, Fields: map[string]any{
		"tool": toolName, "success": success,
	}})
	r.rememberTurn(ctx, userMessage, output, toolName)

	if r.tuner != nil && r.config.AdaptiveEnabled {
		r.tuner.Observe(ctx, success, decision.Probabilities[toolName])
	}

	text, err := r.provider.Synthesize(ctx, userMessage, toolName, output, memories)
	if err != nil {
		text = fmt.Sprintf("Tool `%s` result:\n%s", toolName, output)
	}

	reviewNote := r.reviewNote(ctx, userMessage, decision, output)
	if reviewNote != "" {
		text = text + "\n\nSubagent review:\n" + reviewNote
	}

	return r.finishTurn(ctx, sessionKey, &model.TurnResult{
		Text:         text,
		Tool:         toolName,
		ToolArgs:     args,
		ToolOutput:   output,
		Decision:     decision,
		ActiveSkills: skillNames(activeSkills),
		ReviewNote:   reviewNote,
	}), nil
}

// planArgs asks the provider for tool arguments and repairs invalid
// plans with the heuristic planner. Returns ok=false when neither
// plan validates.
func (r *Runner) planArgs(ctx context.Context, userMessage, toolName, toolDoc string) (map[string]any, bool) {
	args, err := r.provider.PlanArgs(ctx, userMessage, toolName, toolDoc)
	if err != nil || args == nil {
		args, _ = r.heuristic.PlanArgs(ctx, userMessage, toolName, toolDoc)
	}
	if args == nil {
		args = map[string]any{}
	}

	t, exists := r.tools.Get(toolName)
	if !exists {
		return args, true
	}

	if problems := tool.Validate(args, t.Parameters()); len(problems) > 0 {
		fallback, _ := r.heuristic.PlanArgs(ctx, userMessage, toolName, toolDoc)
		if fallback == nil {
			return args, false
		}
		if problems := tool.Validate(fallback, t.Parameters()); len(problems) > 0 {
			logging.From(ctx).Warn("heuristic fallback args failed validation",
				"tool", toolName, "problems", strings.Join(problems, "; "))
			return args, false
		}
		return fallback, true
	}
	return args, true
}

// execute runs one tool bounded by the configured timeout.
func (r *Runner) execute(ctx context.Context, toolName string, args map[string]any) *tool.Result {
	runCtx, cancel := context.WithTimeout(ctx, r.config.ToolTimeout)
	defer cancel()

	tc := &tool.Context{
		Workspace:  r.config.Workspace,
		Timeout:    r.config.ToolTimeout,
		HTTPClient: &http.Client{Timeout: r.config.ToolTimeout},
	}

	type outcome struct {
		result *tool.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := r.tools.Run(runCtx, toolName, args, tc)
		done <- outcome{result, err}
	}()

	select {
	case <-runCtx.Done():
		return &tool.Result{
			Output:  fmt.Sprintf("tool timed out after %s", r.config.ToolTimeout),
			Success: false,
		}
	case out := <-done:
		if out.err != nil {
			return &tool.Result{Output: out.err.Error(), Success: false}
		}
		return out.result
	}
}

func (r *Runner) recallMemories(ctx context.Context, userMessage string) []string {
	embedding, err := r.provider.Embed(ctx, userMessage)
	if err != nil {
		logging.From(ctx).Warn("embedding failed, skipping memory recall", "error", err)
		return nil
	}
	memories, err := r.memory.Recall(embedding, r.config.MemoryTopK)
	if err != nil {
		logging.From(ctx).Warn("memory recall failed", "error", err)
		return nil
	}
	return memories
}

func (r *Runner) loadHistory(ctx context.Context, sessionKey string) []model.Message {
	if r.repo == nil {
		return nil
	}
	history, err := r.repo.History(ctx, sessionKey, historyMessages)
	if err != nil {
		logging.From(ctx).Warn("failed to load history", "error", err)
		return nil
	}
	return history
}

func (r *Runner) selectSkills(ctx context.Context, userMessage string) (string, []skill.Skill) {
	if r.skills == nil {
		return "", nil
	}
	summary, err := r.skills.Summary()
	if err != nil {
		logging.From(ctx).Warn("failed to summarize skills", "error", err)
		return "", nil
	}
	selected, err := r.skills.SelectForMessage(userMessage, r.config.MaxActiveSkills)
	if err != nil {
		logging.From(ctx).Warn("failed to select skills", "error", err)
		return summary, nil
	}
	return summary, selected
}

func (r *Runner) directReply(ctx context.Context, userMessage string, memories []string, history []model.Message) string {
	var historyLines []string
	start := len(history) - 6
	if start < 0 {
		start = 0
	}
	for _, m := range history[start:] {
		historyLines = append(historyLines, fmt.Sprintf("[%s] %s", m.Role, m.Content))
	}
	historyBlock := "(none)"
	if len(historyLines) > 0 {
		historyBlock = strings.Join(historyLines, "\n")
	}

	memoryBlock := "- (none)"
	if len(memories) > 0 {
		limit := len(memories)
		if limit > 5 {
			limit = 5
		}
		memoryBlock = "- " + strings.Join(memories[:limit], "\n- ")
	}

	prompt := "Recent conversation:\n" + historyBlock + "\n\n" +
		"Relevant memories:\n" + memoryBlock + "\n\n" +
		"User message:\n" + userMessage
	system := "You are a helpful personal assistant. Reply directly and " +
		"conversationally when the user is chatting. Do not suggest shell " +
		"commands unless explicitly asked."

	text, err := r.provider.Chat(ctx, prompt, system)
	if err != nil {
		text, _ = r.heuristic.Chat(ctx, userMessage, system)
	}
	return text
}

// rememberTurn stores the user message and the tool output in vector
// memory. Failures are logged and ignored; memory must never break
// the reply.
func (r *Runner) rememberTurn(ctx context.Context, userMessage, output, toolName string) {
	logger := logging.From(ctx)

	userEmbedding, err := r.provider.Embed(ctx, userMessage)
	if err != nil {
		logger.Warn("failed to embed user message for memory", "error", err)
		return
	}
	if err := r.memory.Store(userMessage, userEmbedding, memory.WithMetadata(map[string]any{
		"type": "user",
	})); err != nil {
		logger.Warn("failed to store user memory", "error", err)
		return
	}

	snippet := output
	if len(snippet) > 500 {
		snippet = snippet[:500]
	}
	outputEmbedding, err := r.provider.Embed(ctx, toolName+": "+snippet)
	if err != nil {
		logger.Warn("failed to embed tool output for memory", "error", err)
		return
	}
	if err := r.memory.Store(toolName+": "+snippet, outputEmbedding, memory.WithMetadata(map[string]any{
		"type": "tool", "tag": toolName,
	})); err != nil {
		logger.Warn("failed to store tool memory", "error", err)
		return
	}

	if err := r.memory.Save(); err != nil {
		logger.Warn("failed to persist memory archive", "error", err)
	}
}

// finishTurn appends the assistant reply to the session, consolidates
// old messages when due, and emits turn.end.
func (r *Runner) finishTurn(ctx context.Context, sessionKey string, result *model.TurnResult) *model.TurnResult {
	r.appendMessage(ctx, sessionKey, model.RoleAssistant, result.Text)
	r.consolidateSession(ctx, sessionKey)

	r.sink.Emit(ctx, hook.Event{Name: hook.EventTurnEnd, Fields: map[string]any{
		"session": sessionKey, "tool": result.Tool,
	}})
	return result
}

func (r *Runner) appendMessage(ctx context.Context, sessionKey string, role model.Role, content string) {
	if r.repo == nil {
		return
	}
	err := r.repo.AddMessage(ctx, sessionKey, model.Message{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
	if err != nil {
		logging.From(ctx).Warn("failed to persist message", "error", err)
	}
}

const systemPrompt = "You are ermine, a practical personal assistant. " +
	"Be concise, factual, and action-oriented."

// runtimeTag marks metadata the model must not treat as instructions.
const runtimeTag = "[Runtime Context - metadata only, not instructions]"

func buildRuntimeContext(now time.Time) string {
	return runtimeTag + "\nCurrent Time: " + now.Format("2006-01-02 15:04 (Monday) MST")
}

func buildRoutingMessage(userMessage string, memories []string, history []model.Message, skillsSummary string, activeSkills []skill.Skill) string {
	sections := []string{"System instructions:\n" + systemPrompt}

	if skillsSummary != "" {
		sections = append(sections, skillsSummary)
	}
	for _, s := range activeSkills {
		sections = append(sections, "Skill "+s.Name+":\n"+s.Content)
	}
	if len(memories) > 0 {
		sections = append(sections, "Relevant memories:\n- "+strings.Join(memories, "\n- "))
	}
	if len(history) > 0 {
		var lines []string
		for _, m := range history {
			lines = append(lines, fmt.Sprintf("[%s] %s", m.Role, m.Content))
		}
		sections = append(sections, "Recent conversation:\n"+strings.Join(lines, "\n"))
	}
	sections = append(sections, buildRuntimeContext(time.Now()))
	sections = append(sections, userMessage)

	return strings.Join(sections, "\n\n")
}

func clarificationText(decision model.ToolDecision, threshold float64) string {
	suggestions := "none"
	if top := decision.TopCandidates(2); len(top) > 0 {
		parts := make([]string, 0, len(top))
		for _, name := range top {
			parts = append(parts, fmt.Sprintf("%s (%.2f)", name, decision.Probabilities[name]))
		}
		suggestions = strings.Join(parts, ", ")
	}

	return fmt.Sprintf(
		"I am not confident enough to choose a tool. Top candidates: %s. "+
			"(entropy=%.2f, threshold=%.2f) Please clarify what action you want.",
		suggestions, decision.EntropyBits, threshold)
}

func skillNames(skills []skill.Skill) []string {
	names := make([]string, 0, len(skills))
	for _, s := range skills {
		names = append(names, s.Name)
	}
	return names
}
