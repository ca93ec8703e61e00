package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// GeminiProvider implements Provider on top of the Gemini API.
type GeminiProvider struct {
	client          *genai.Client
	generativeModel string
	embeddingModel  string
}

type GeminiOption func(*GeminiProvider)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiProvider) {
		g.generativeModel = model
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiProvider) {
		g.embeddingModel = model
	}
}

func NewGemini(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiProvider{
		client:          client,
		generativeModel: "gemini-2.5-flash",
		embeddingModel:  "gemini-embedding-001",
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), &genai.EmbedContentConfig{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content")
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.New("embedding response has no values")
	}
	return resp.Embeddings[0].Values, nil
}

func (g *GeminiProvider) ScoreTools(ctx context.Context, message string, toolDocs map[string]string) (map[string]float64, error) {
	if len(toolDocs) == 0 {
		return map[string]float64{}, nil
	}

	var toolLines strings.Builder
	for name, doc := range toolDocs {
		fmt.Fprintf(&toolLines, "- %s: %s\n", name, doc)
	}

	prompt := "Score each tool from 0 to 1 for how useful it is for the user request. " +
		"Return a JSON object only; keys must be tool names, values numbers.\n\n" +
		"User request:\n" + message + "\n\nTools:\n" + toolLines.String()

	raw, err := g.Chat(ctx, prompt, "You are a routing model. Return strict JSON only.")
	if err != nil {
		return nil, err
	}

	parsed := parseJSONObject(raw)
	scores := make(map[string]float64, len(toolDocs))
	anyPositive := false
	for name := range toolDocs {
		if v, ok := parsed[name]; ok {
			if f, ok := toFloat(v); ok {
				scores[name] = f
				if f != 0 {
					anyPositive = true
				}
				continue
			}
		}
		scores[name] = 0
	}
	if !anyPositive {
		return nil, goerr.New("routing model returned no usable scores", goerr.V("raw", raw))
	}
	return scores, nil
}

func (g *GeminiProvider) PlanArgs(ctx context.Context, message, toolName, toolDoc string) (map[string]any, error) {
	prompt := "Produce JSON arguments for this tool call. Return a JSON object only.\n\n" +
		"Tool: " + toolName + "\n" +
		"Description: " + toolDoc + "\n" +
		"User request: " + message

	raw, err := g.Chat(ctx, prompt, "Return a strict JSON object only.")
	if err != nil {
		return nil, err
	}

	parsed := parseJSONObject(raw)
	if parsed == nil {
		return nil, goerr.New("planner returned no JSON object", goerr.V("raw", raw))
	}
	return parsed, nil
}

func (g *GeminiProvider) Synthesize(ctx context.Context, message, toolName, toolOutput string, memories []string) (string, error) {
	memoryBlock := "(none)"
	if len(memories) > 0 {
		memoryBlock = "- " + strings.Join(memories, "\n- ")
	}

	prompt := "User message:\n" + message + "\n\n" +
		"Selected tool: " + toolName + "\n" +
		"Tool result:\n" + toolOutput + "\n\n" +
		"Relevant memories:\n" + memoryBlock + "\n\n" +
		"Write a concise helpful answer for the user."

	return g.Chat(ctx, prompt, "You are a helpful personal assistant.")
}

func (g *GeminiProvider) Chat(ctx context.Context, prompt, systemPrompt string) (string, error) {
	config := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(systemPrompt, "")
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content")
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.New("no content generated")
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.WriteString(part.Text)
		}
	}
	if out.Len() == 0 {
		return "", goerr.New("empty content generated")
	}
	return out.String(), nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(x, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
