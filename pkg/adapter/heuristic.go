package adapter

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

const hashEmbeddingDim = 256

// HeuristicProvider is an offline Provider used when no model backend
// is configured or a model call fails mid-turn.
type HeuristicProvider struct{}

func NewHeuristic() *HeuristicProvider {
	return &HeuristicProvider{}
}

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

// Embed maps text to a normalized hashed bag-of-words vector. The same
// text always yields the same vector, so recall stays stable offline.
func (h *HeuristicProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, hashEmbeddingDim)
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		fh := fnv.New32a()
		fh.Write([]byte(word))
		vec[fh.Sum32()%hashEmbeddingDim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

var toolKeywords = map[string][]string{
	"search": {"search", "lookup", "google", "web", "news", "price", "weather", "who", "what", "when", "find out"},
	"file":   {"file", "read", "write", "edit", "append", "list", "folder", "directory", "path", "save", "open"},
	"shell":  {"run", "execute", "shell", "terminal", "command", "bash", "script", "install", "git", "python", "npm"},
}

func (h *HeuristicProvider) ScoreTools(_ context.Context, message string, toolDocs map[string]string) (map[string]float64, error) {
	lower := strings.ToLower(message)
	scores := make(map[string]float64, len(toolDocs))
	for name := range toolDocs {
		score := 0.1
		for _, kw := range toolKeywords[name] {
			if strings.Contains(lower, kw) {
				score += 1.5
			}
		}
		scores[name] = score
	}
	return scores, nil
}

var quotedPattern = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)

var pathPattern = regexp.MustCompile(`(?:\.{0,2}/)?[\w./-]+\.\w{1,6}|(?:\.{0,2}/)[\w./-]+`)

func (h *HeuristicProvider) PlanArgs(_ context.Context, message, toolName, _ string) (map[string]any, error) {
	switch toolName {
	case "shell":
		cmd := message
		lower := strings.ToLower(message)
		for _, prefix := range []string{"run ", "execute ", "shell ", "terminal ", "cmd ", "command ", "bash ", "zsh ", "sh "} {
			if strings.HasPrefix(lower, prefix) {
				cmd = strings.TrimSpace(message[len(prefix):])
				break
			}
		}
		return map[string]any{"command": cmd}, nil

	case "file":
		args := map[string]any{"action": "read"}
		lower := strings.ToLower(message)
		switch {
		case strings.Contains(lower, "write") || strings.Contains(lower, "save"):
			args["action"] = "write"
		case strings.Contains(lower, "append"):
			args["action"] = "append"
		case strings.Contains(lower, "list") || strings.Contains(lower, "folder") || strings.Contains(lower, "directory"):
			args["action"] = "list"
		}
		if m := pathPattern.FindString(message); m != "" {
			args["path"] = m
		}
		return args, nil

	case "search":
		query := message
		if m := quotedPattern.FindStringSubmatch(message); m != nil {
			if m[1] != "" {
				query = m[1]
			} else {
				query = m[2]
			}
		} else {
			lower := strings.ToLower(message)
			for _, prefix := range []string{"search for ", "search ", "look up ", "lookup ", "find out "} {
				if strings.HasPrefix(lower, prefix) {
					query = strings.TrimSpace(message[len(prefix):])
					break
				}
			}
		}
		return map[string]any{"query": query}, nil
	}

	return map[string]any{}, nil
}

func (h *HeuristicProvider) Synthesize(_ context.Context, _ string, toolName, toolOutput string, _ []string) (string, error) {
	output := strings.TrimSpace(toolOutput)
	if output == "" {
		return fmt.Sprintf("Tool `%s` finished without output.", toolName), nil
	}
	return fmt.Sprintf("Tool `%s` finished:\n%s", toolName, output), nil
}

func (h *HeuristicProvider) Chat(_ context.Context, prompt, _ string) (string, error) {
	return "I can help with that. " + strings.TrimSpace(prompt), nil
}
