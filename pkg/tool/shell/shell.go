package shell

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ermine-ai/ermine/pkg/tool"
	"github.com/google/jsonschema-go/jsonschema"
)

// denyPatterns block commands that could damage the machine even when
// run inside the workspace. Matched against the lowercased command.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\|\s*zsh\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+-?\s`),
	regexp.MustCompile(`\beval\b`),
	regexp.MustCompile(`\bchmod\s+777\b`),
	regexp.MustCompile(`>\s*/etc/`),
	regexp.MustCompile(`\bnc\s+-[el]`),
}

var parentRefPattern = regexp.MustCompile(`(?:^|\s)\.\.(?:$|/)`)

var absPathPattern = regexp.MustCompile(`(?:^|[\s|>])(/[^\s"'>]+)`)

type shellTool struct {
	defaultTimeout time.Duration
}

type Option func(*shellTool)

func WithDefaultTimeout(d time.Duration) Option {
	return func(x *shellTool) {
		x.defaultTimeout = d
	}
}

// New creates the shell tool
func New(opts ...Option) *shellTool {
	x := &shellTool{
		defaultTimeout: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *shellTool) Name() string { return "shell" }

func (x *shellTool) Description() string {
	return "Run a shell command inside the workspace and return stdout/stderr. " +
		`Args: {"command": str, "timeout": int?}.`
}

func intPtr(v int) *int { return &v }

func (x *shellTool) Parameters() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"command"},
		Properties: map[string]*jsonschema.Schema{
			"command": {Type: "string", MinLength: intPtr(1)},
			"timeout": {
				Type:        "integer",
				Description: "Timeout in seconds",
			},
		},
	}
}

func (x *shellTool) Run(ctx context.Context, args map[string]any, tc *tool.Context) (*tool.Result, error) {
	command := strings.TrimSpace(stringArg(args, "command"))
	if command == "" {
		return &tool.Result{Output: "missing command", Success: false}, nil
	}

	if reason := guard(command, tc.Workspace); reason != "" {
		return &tool.Result{Output: reason, Success: false}, nil
	}

	timeout := x.defaultTimeout
	if tc.Timeout > 0 {
		timeout = tc.Timeout
	}
	if sec, ok := args["timeout"].(float64); ok && sec > 0 {
		timeout = time.Duration(sec) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = tc.Workspace

	out, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return &tool.Result{
			Output:  fmt.Sprintf("command timed out after %s", timeout),
			Success: false,
		}, nil
	}

	output := strings.TrimSpace(string(out))
	if output == "" {
		output = "(no output)"
	}

	exitCode := 0
	if err != nil {
		exitCode = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}

	return &tool.Result{
		Output:   output,
		Success:  err == nil,
		Metadata: map[string]any{"exit_code": exitCode},
	}, nil
}

// guard returns a rejection reason, or empty when the command is
// allowed to run.
func guard(command, workspace string) string {
	lower := strings.ToLower(command)
	for _, p := range denyPatterns {
		if p.MatchString(lower) {
			return "command blocked by safety guard (dangerous pattern detected)"
		}
	}

	if parentRefPattern.MatchString(command) {
		return "command blocked by safety guard (path traversal detected)"
	}

	root, err := filepath.Abs(workspace)
	if err != nil {
		return ""
	}
	for _, m := range absPathPattern.FindAllStringSubmatch(command, -1) {
		p := filepath.Clean(m[1])
		if p == root || strings.HasPrefix(p, root+string(filepath.Separator)) {
			continue
		}
		// tools on PATH and pseudo filesystems are fine to reference
		if strings.HasPrefix(p, "/usr/") || strings.HasPrefix(p, "/bin/") ||
			strings.HasPrefix(p, "/tmp/") || strings.HasPrefix(p, "/dev/null") {
			continue
		}
		return "command blocked by safety guard (path outside workspace)"
	}

	return ""
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
