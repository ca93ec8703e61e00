package turn

import (
	"regexp"
	"strings"
)

// Policy holds the word lists behind the fast-path classifiers. The
// defaults match everyday assistant traffic; callers can swap in their
// own lists without touching the runner.
type Policy struct {
	Greetings        []string
	GreetingPrefixes []string
	ToolIntentWords  []string
	PathHints        []string
	ShellPrefixes    []string
	ShellMarkers     []string
	CommonCommands   []string
	MaxChatTokens    int
}

func DefaultPolicy() *Policy {
	return &Policy{
		Greetings: []string{
			"hi", "hello", "hey", "yo", "sup", "thanks", "thank you",
			"good morning", "good afternoon", "good evening",
		},
		GreetingPrefixes: []string{
			"hi ", "hello ", "hey ", "thanks ", "thank you ",
		},
		ToolIntentWords: []string{
			"run", "execute", "shell", "terminal", "command",
			"read", "write", "edit", "file", "folder", "path",
			"search", "lookup", "google", "web", "http", "https",
			"git", "python", "npm", "pip",
			"test", "build", "deploy", "debug", "fix",
		},
		PathHints: []string{
			"/", "\\", ".py", ".md", ".json", ".yaml", ".yml", ".txt",
		},
		ShellPrefixes: []string{
			"run ", "execute ", "shell ", "terminal ", "cmd ", "command ",
			"bash ", "zsh ", "sh ",
		},
		ShellMarkers: []string{
			"&&", "||", "|", ";", "$(", "`", ">", "<", "\n",
		},
		CommonCommands: []string{
			"ls", "pwd", "cd", "cat", "grep", "find", "rg", "sed", "awk",
			"head", "tail", "wc", "git", "python", "python3", "pip", "pip3",
			"npm", "pnpm", "yarn", "node", "make", "pytest", "uv", "docker",
			"kubectl", "curl", "wget", "echo", "mkdir", "touch", "cp", "mv",
			"rm", "chmod", "chown", "ps", "kill", "whoami", "uname", "date",
		},
		MaxChatTokens: 3,
	}
}

var wordPattern = regexp.MustCompile(`[a-z0-9_]+`)

var bareCommandPattern = regexp.MustCompile(`^[a-z0-9._/\-]+$`)

// ShouldReplyDirectly reports whether the message is plain chat that
// needs no tool: a greeting, or a short message with no tool intent
// and no path references.
func (p *Policy) ShouldReplyDirectly(text string) bool {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return false
	}

	lowered := strings.ToLower(raw)
	for _, g := range p.Greetings {
		if lowered == g {
			return true
		}
	}
	for _, prefix := range p.GreetingPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return true
		}
	}

	if p.LooksLikeShellCommand(raw) {
		return false
	}

	tokens := wordPattern.FindAllString(lowered, -1)
	if len(tokens) == 0 {
		return false
	}

	intent := make(map[string]bool, len(p.ToolIntentWords))
	for _, w := range p.ToolIntentWords {
		intent[w] = true
	}
	for _, t := range tokens {
		if intent[t] {
			return false
		}
	}

	for _, hint := range p.PathHints {
		if strings.Contains(lowered, hint) {
			return false
		}
	}

	return len(tokens) <= p.MaxChatTokens
}

// LooksLikeShellCommand reports whether the text is plausibly a shell
// command rather than natural language.
func (p *Policy) LooksLikeShellCommand(text string) bool {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return false
	}

	lowered := strings.ToLower(raw)
	for _, prefix := range p.ShellPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return true
		}
	}

	for _, marker := range p.ShellMarkers {
		if strings.Contains(raw, marker) {
			return true
		}
	}

	first := strings.Fields(lowered)[0]
	if strings.HasPrefix(first, "./") || strings.HasPrefix(first, "/") ||
		strings.HasPrefix(first, "~/") || strings.HasSuffix(first, ".sh") {
		return true
	}

	for _, cmd := range p.CommonCommands {
		if first == cmd {
			return true
		}
	}

	if !bareCommandPattern.MatchString(first) {
		return false
	}
	return len(strings.Fields(raw)) > 1
}
