package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ermine-ai/ermine/pkg/tool"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
)

const maxReadBytes = 64_000

type fileTool struct{}

// New creates the file tool
func New() *fileTool {
	return &fileTool{}
}

func (x *fileTool) Name() string { return "file" }

func (x *fileTool) Description() string {
	return "Read, write, append, or list files inside the workspace. " +
		`Args: {"action": "read|write|append|list", "path": str, "content": str?}.`
}

func (x *fileTool) Parameters() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"action"},
		Properties: map[string]*jsonschema.Schema{
			"action": {
				Type: "string",
				Enum: []any{"read", "write", "append", "list"},
			},
			"path":    {Type: "string"},
			"content": {Type: "string"},
		},
	}
}

func (x *fileTool) Run(_ context.Context, args map[string]any, tc *tool.Context) (*tool.Result, error) {
	action, _ := args["action"].(string)
	rawPath, _ := args["path"].(string)
	content, _ := args["content"].(string)
	rawPath = strings.TrimSpace(rawPath)

	if action == "list" {
		if rawPath == "" {
			rawPath = "."
		}
		dir, err := resolvePath(rawPath, tc.Workspace)
		if err != nil {
			return &tool.Result{Output: err.Error(), Success: false}, nil
		}
		return listDir(dir)
	}

	if rawPath == "" {
		return &tool.Result{Output: "missing path", Success: false}, nil
	}

	path, err := resolvePath(rawPath, tc.Workspace)
	if err != nil {
		return &tool.Result{Output: err.Error(), Success: false}, nil
	}

	switch action {
	case "read":
		return readFile(path)

	case "write":
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, goerr.Wrap(err, "failed to create parent directory", goerr.V("path", path))
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, goerr.Wrap(err, "failed to write file", goerr.V("path", path))
		}
		return &tool.Result{
			Output:  fmt.Sprintf("wrote %d bytes to %s", len(content), path),
			Success: true,
		}, nil

	case "append":
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, goerr.Wrap(err, "failed to create parent directory", goerr.V("path", path))
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open file", goerr.V("path", path))
		}
		defer f.Close()
		if _, err := f.WriteString(content); err != nil {
			return nil, goerr.Wrap(err, "failed to append to file", goerr.V("path", path))
		}
		return &tool.Result{
			Output:  fmt.Sprintf("appended %d bytes to %s", len(content), path),
			Success: true,
		}, nil
	}

	return &tool.Result{Output: "unsupported action: " + action, Success: false}, nil
}

func readFile(path string) (*tool.Result, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return &tool.Result{Output: "file not found: " + path, Success: false}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read file", goerr.V("path", path))
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
	}
	return &tool.Result{Output: string(data), Success: true}, nil
}

func listDir(dir string) (*tool.Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &tool.Result{Output: "not a directory: " + dir, Success: false}, nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return &tool.Result{Output: "(empty directory)", Success: true}, nil
	}
	return &tool.Result{Output: strings.Join(names, "\n"), Success: true}, nil
}

// resolvePath joins raw onto the workspace root and rejects any path
// that escapes it.
func resolvePath(raw, workspace string) (string, error) {
	root, err := filepath.Abs(workspace)
	if err != nil {
		return "", goerr.Wrap(err, "failed to resolve workspace root")
	}

	candidate := raw
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	if candidate != root && !strings.HasPrefix(candidate, root+string(filepath.Separator)) {
		return "", goerr.New("path escapes workspace root", goerr.V("path", raw))
	}
	return candidate, nil
}
