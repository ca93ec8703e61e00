package turn_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ermine-ai/ermine/pkg/hook"
	"github.com/ermine-ai/ermine/pkg/repository"
	"github.com/ermine-ai/ermine/pkg/service/adaptive"
	"github.com/ermine-ai/ermine/pkg/service/memory"
	"github.com/ermine-ai/ermine/pkg/service/scheduler"
	"github.com/ermine-ai/ermine/pkg/tool"
	"github.com/ermine-ai/ermine/pkg/usecase/turn"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

type mockProvider struct {
	embedFn      func(ctx context.Context, text string) ([]float32, error)
	scoreFn      func(ctx context.Context, message string, toolDocs map[string]string) (map[string]float64, error)
	planFn       func(ctx context.Context, message, toolName, toolDoc string) (map[string]any, error)
	synthesizeFn func(ctx context.Context, message, toolName, toolOutput string, memories []string) (string, error)
	chatFn       func(ctx context.Context, prompt, systemPrompt string) (string, error)

	mutex      sync.Mutex
	scoreCalls int
	chatCalls  int
}

func (m *mockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return []float32{1, 0, 0}, nil
}

func (m *mockProvider) ScoreTools(ctx context.Context, message string, toolDocs map[string]string) (map[string]float64, error) {
	m.mutex.Lock()
	m.scoreCalls++
	m.mutex.Unlock()
	if m.scoreFn != nil {
		return m.scoreFn(ctx, message, toolDocs)
	}
	return map[string]float64{"echo": 10, "noop": 0}, nil
}

func (m *mockProvider) PlanArgs(ctx context.Context, message, toolName, toolDoc string) (map[string]any, error) {
	if m.planFn != nil {
		return m.planFn(ctx, message, toolName, toolDoc)
	}
	return map[string]any{"text": message}, nil
}

func (m *mockProvider) Synthesize(ctx context.Context, message, toolName, toolOutput string, memories []string) (string, error) {
	if m.synthesizeFn != nil {
		return m.synthesizeFn(ctx, message, toolName, toolOutput, memories)
	}
	return "synthesized: " + toolOutput, nil
}

func (m *mockProvider) Chat(ctx context.Context, prompt, systemPrompt string) (string, error) {
	m.mutex.Lock()
	m.chatCalls++
	m.mutex.Unlock()
	if m.chatFn != nil {
		return m.chatFn(ctx, prompt, systemPrompt)
	}
	return "chat reply", nil
}

func (m *mockProvider) ScoreCalls() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.scoreCalls
}

func (m *mockProvider) ChatCalls() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.chatCalls
}

type echoTool struct {
	mutex sync.Mutex
	runs  int
}

func (x *echoTool) Name() string        { return "echo" }
func (x *echoTool) Description() string { return "Echo the given text back" }

func (x *echoTool) Parameters() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"text"},
		Properties: map[string]*jsonschema.Schema{
			"text": {Type: "string"},
		},
	}
}

func (x *echoTool) Run(_ context.Context, args map[string]any, _ *tool.Context) (*tool.Result, error) {
	x.mutex.Lock()
	x.runs++
	x.mutex.Unlock()
	text, _ := args["text"].(string)
	return &tool.Result{Output: "echo: " + text, Success: true}, nil
}

func (x *echoTool) Runs() int {
	x.mutex.Lock()
	defer x.mutex.Unlock()
	return x.runs
}

type noopTool struct{}

func (noopTool) Name() string        { return "noop" }
func (noopTool) Description() string { return "Do nothing" }
func (noopTool) Parameters() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}
func (noopTool) Run(context.Context, map[string]any, *tool.Context) (*tool.Result, error) {
	return &tool.Result{Output: "", Success: true}, nil
}

type recordingSink struct {
	mutex  sync.Mutex
	events []hook.Event
}

func (s *recordingSink) Emit(_ context.Context, ev hook.Event) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) Names() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	names := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		names = append(names, ev.Name)
	}
	return names
}

func newMemory(t *testing.T) *memory.Store {
	store, err := memory.New(memory.Config{
		DecayLambda: 0.1,
		MaxMemories: 100,
		Path:        filepath.Join(t.TempDir(), "memory.json"),
	})
	gt.NoError(t, err)
	return store
}

func newRunner(t *testing.T, provider *mockProvider, opts func(*turn.NewInput)) (*turn.Runner, *echoTool) {
	echo := &echoTool{}
	sched, err := scheduler.New(1.1)
	gt.NoError(t, err)

	input := turn.NewInput{
		Config: turn.Config{
			Workspace:            t.TempDir(),
			MemoryTopK:           4,
			ToolTimeout:          5 * time.Second,
			EntropyThresholdBits: 1.1,
		},
		Provider:  provider,
		Scheduler: sched,
		Memory:    newMemory(t),
		Tools:     tool.NewRegistry(echo, noopTool{}),
	}
	if opts != nil {
		opts(&input)
	}

	runner, err := turn.New(input)
	gt.NoError(t, err)
	return runner, echo
}

func TestGreetingSkipsToolScoring(t *testing.T) {
	provider := &mockProvider{
		scoreFn: func(context.Context, string, map[string]string) (map[string]float64, error) {
			// bias hard toward echo so a chain would run if scoring happened
			return map[string]float64{"echo": 10, "noop": 0}, nil
		},
	}
	runner, echo := newRunner(t, provider, nil)

	result, err := runner.RunTurn(context.Background(), "main", "hello")
	gt.NoError(t, err)
	gt.V(t, result.Text).Equal("chat reply")
	gt.V(t, result.Tool).Equal("")
	gt.V(t, provider.ScoreCalls()).Equal(0)
	gt.V(t, echo.Runs()).Equal(0)
}

func TestToolTurn(t *testing.T) {
	chainDone := false
	provider := &mockProvider{
		scoreFn: func(_ context.Context, message string, _ map[string]string) (map[string]float64, error) {
			// confident on the first scoring, undecided afterwards
			if chainDone {
				return map[string]float64{"echo": 1, "noop": 1}, nil
			}
			chainDone = true
			return map[string]float64{"echo": 10, "noop": 0}, nil
		},
	}
	runner, echo := newRunner(t, provider, nil)

	result, err := runner.RunTurn(context.Background(), "main", "echo run this text back please")
	gt.NoError(t, err)
	gt.V(t, result.Tool).Equal("echo")
	gt.S(t, result.ToolOutput).Contains("echo:")
	gt.S(t, result.Text).Contains("synthesized:")
	gt.V(t, echo.Runs()).Equal(1)
	gt.False(t, result.Decision.ShouldClarify)
}

func TestScoringFailureFallsBackToHeuristic(t *testing.T) {
	provider := &mockProvider{
		scoreFn: func(context.Context, string, map[string]string) (map[string]float64, error) {
			return nil, goerr.New("provider unavailable")
		},
	}
	runner, _ := newRunner(t, provider, nil)

	// heuristic scoring yields near-uniform scores for unknown tools,
	// so the turn completes with a clarification instead of failing
	result, err := runner.RunTurn(context.Background(), "main", "please summarize my meeting notes document")
	gt.NoError(t, err)
	gt.S(t, result.Text).NotEqual("")
}

func TestClarificationOnUniformScores(t *testing.T) {
	provider := &mockProvider{
		scoreFn: func(context.Context, string, map[string]string) (map[string]float64, error) {
			return map[string]float64{"echo": 1, "noop": 1}, nil
		},
	}
	runner, echo := newRunner(t, provider, func(input *turn.NewInput) {
		input.Config.EntropyThresholdBits = 0.5
	})

	result, err := runner.RunTurn(context.Background(), "main", "do something with the file")
	gt.NoError(t, err)
	gt.S(t, result.Text).
		Contains("not confident enough").
		Contains("entropy=").
		Contains("threshold=0.50")
	gt.V(t, result.Tool).Equal("")
	gt.True(t, result.Decision.ShouldClarify)
	gt.V(t, echo.Runs()).Equal(0)
}

func TestChainIsBounded(t *testing.T) {
	provider := &mockProvider{
		scoreFn: func(context.Context, string, map[string]string) (map[string]float64, error) {
			// always maximally confident, so only the depth cap stops the chain
			return map[string]float64{"echo": 10, "noop": 0}, nil
		},
	}
	runner, echo := newRunner(t, provider, nil)

	result, err := runner.RunTurn(context.Background(), "main", "echo run this text back please")
	gt.NoError(t, err)
	gt.V(t, result.Tool).Equal("echo")
	gt.V(t, echo.Runs()).Equal(4)
}

func TestTunerObservesToolTurns(t *testing.T) {
	provider := &mockProvider{
		scoreFn: func(context.Context, string, map[string]string) (map[string]float64, error) {
			return map[string]float64{"echo": 10, "noop": 0}, nil
		},
	}
	tuner := adaptive.New(context.Background(), adaptive.Config{InitialThreshold: 1.1})
	runner, _ := newRunner(t, provider, func(input *turn.NewInput) {
		input.Tuner = tuner
		input.Config.AdaptiveEnabled = true
	})

	before := tuner.State().Updates
	_, err := runner.RunTurn(context.Background(), "main", "echo run this text back please")
	gt.NoError(t, err)
	gt.V(t, tuner.State().Updates).Equal(before + 1)
}

func TestSinkReceivesLifecycleEvents(t *testing.T) {
	provider := &mockProvider{}
	sink := &recordingSink{}
	runner, _ := newRunner(t, provider, func(input *turn.NewInput) {
		input.Sink = sink
	})

	_, err := runner.RunTurn(context.Background(), "main", "echo run this text back please")
	gt.NoError(t, err)

	names := sink.Names()
	gt.V(t, names[0]).Equal(hook.EventTurnStart)
	gt.V(t, names[len(names)-1]).Equal(hook.EventTurnEnd)

	sawToolResult := false
	for _, name := range names {
		if name == hook.EventToolResult {
			sawToolResult = true
		}
	}
	gt.True(t, sawToolResult)
}

func TestSessionPersistsAndConsolidates(t *testing.T) {
	repo, err := repository.NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	gt.NoError(t, err)
	defer repo.Close()

	provider := &mockProvider{}
	mem := newMemory(t)
	runner, _ := newRunner(t, provider, func(input *turn.NewInput) {
		input.Repo = repo
		input.Memory = mem
		input.Config.ConsolidationEnabled = true
		input.Config.SessionWindow = 4
		input.Config.SessionKeepRecent = 2
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := runner.RunTurn(ctx, "main", "hello")
		gt.NoError(t, err)
	}

	count, err := repo.MessageCount(ctx, "main")
	gt.NoError(t, err)
	gt.V(t, count).Equal(6)

	cursor, err := repo.LastConsolidated(ctx, "main")
	gt.NoError(t, err)
	gt.V(t, cursor).Equal(4)
}

func TestInvalidPlanFallsBackToDirectReply(t *testing.T) {
	provider := &mockProvider{
		scoreFn: func(context.Context, string, map[string]string) (map[string]float64, error) {
			return map[string]float64{"echo": 10, "noop": 0}, nil
		},
		planFn: func(context.Context, string, string, string) (map[string]any, error) {
			// missing the required "text" property
			return map[string]any{"wrong": true}, nil
		},
	}
	runner, echo := newRunner(t, provider, nil)

	result, err := runner.RunTurn(context.Background(), "main", "something vague about echoing")
	gt.NoError(t, err)
	gt.V(t, result.Tool).Equal("")
	gt.V(t, echo.Runs()).Equal(0)
	gt.Number(t, provider.ChatCalls()).GreaterOrEqual(1)
}

func TestRoutingMessageCarriesSystemAndRuntimeContext(t *testing.T) {
	var routing string
	provider := &mockProvider{
		scoreFn: func(_ context.Context, message string, _ map[string]string) (map[string]float64, error) {
			routing = message
			return map[string]float64{"echo": 1, "noop": 1}, nil
		},
	}
	runner, _ := newRunner(t, provider, nil)

	_, err := runner.RunTurn(context.Background(), "main", "summarize my meeting notes document")
	gt.NoError(t, err)
	gt.S(t, routing).Contains("System instructions:")
	gt.S(t, routing).Contains("[Runtime Context")
	gt.S(t, routing).Contains("Current Time:")
}

func TestConfidentToolRunGetsReview(t *testing.T) {
	chainDone := false
	provider := &mockProvider{
		scoreFn: func(_ context.Context, message string, _ map[string]string) (map[string]float64, error) {
			if chainDone {
				return map[string]float64{"echo": 1, "noop": 1}, nil
			}
			chainDone = true
			return map[string]float64{"echo": 10, "noop": 0}, nil
		},
		chatFn: func(context.Context, string, string) (string, error) {
			return "1) output may be stale. 2) rerun with a narrower query.", nil
		},
	}
	runner, _ := newRunner(t, provider, func(input *turn.NewInput) {
		input.Config.ReviewEnabled = true
	})

	result, err := runner.RunTurn(context.Background(), "main", "echo run this text back please")
	gt.NoError(t, err)
	gt.V(t, result.Tool).Equal("echo")
	gt.S(t, result.Text).Contains("Subagent review:")
	gt.S(t, result.ReviewNote).Contains("rerun with a narrower query")
	gt.V(t, provider.ChatCalls()).Equal(1)
}

func TestReviewSkippedWhenDisabled(t *testing.T) {
	chainDone := false
	provider := &mockProvider{
		scoreFn: func(_ context.Context, message string, _ map[string]string) (map[string]float64, error) {
			if chainDone {
				return map[string]float64{"echo": 1, "noop": 1}, nil
			}
			chainDone = true
			return map[string]float64{"echo": 10, "noop": 0}, nil
		},
	}
	runner, _ := newRunner(t, provider, nil)

	result, err := runner.RunTurn(context.Background(), "main", "echo run this text back please")
	gt.NoError(t, err)
	gt.V(t, result.ReviewNote).Equal("")
	gt.V(t, strings.Contains(result.Text, "Subagent review:")).Equal(false)
	gt.V(t, provider.ChatCalls()).Equal(0)
}

func TestReviewSkippedOnLowConfidence(t *testing.T) {
	// softmax over {1, 0} gives the top tool ~0.73, under the review floor
	chainDone := false
	provider := &mockProvider{
		scoreFn: func(_ context.Context, message string, _ map[string]string) (map[string]float64, error) {
			if chainDone {
				return map[string]float64{"echo": 1, "noop": 1}, nil
			}
			chainDone = true
			return map[string]float64{"echo": 1, "noop": 0}, nil
		},
	}
	runner, echo := newRunner(t, provider, func(input *turn.NewInput) {
		input.Config.ReviewEnabled = true
	})

	result, err := runner.RunTurn(context.Background(), "main", "echo run this text back please")
	gt.NoError(t, err)
	gt.V(t, result.Tool).Equal("echo")
	gt.V(t, echo.Runs()).Equal(1)
	gt.V(t, result.ReviewNote).Equal("")
	gt.V(t, provider.ChatCalls()).Equal(0)
}
