package mcp

import (
	"context"
	"strings"

	"github.com/ermine-ai/ermine/pkg/tool"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// remoteTool adapts one discovered MCP tool to the local tool
// interface so the scheduler can route to it like any built-in.
type remoteTool struct {
	registry   *Registry
	serverName string
	def        *mcp.Tool
}

// Tools wraps every discovered tool of every connected server.
// Names are prefixed with the server name to avoid collisions.
func (r *Registry) Tools() []tool.Tool {
	var tools []tool.Tool
	for _, serverName := range r.ServerNames() {
		srv := r.servers[serverName]
		for _, def := range srv.tools {
			tools = append(tools, &remoteTool{
				registry:   r,
				serverName: serverName,
				def:        def,
			})
		}
	}
	return tools
}

func (t *remoteTool) Name() string {
	return t.serverName + "_" + t.def.Name
}

func (t *remoteTool) Description() string {
	return t.def.Description
}

func (t *remoteTool) Parameters() *jsonschema.Schema {
	return t.def.InputSchema
}

func (t *remoteTool) Run(ctx context.Context, args map[string]any, _ *tool.Context) (*tool.Result, error) {
	result, err := t.registry.CallTool(ctx, t.serverName, t.def.Name, args)
	if err != nil {
		return nil, err
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}

	return &tool.Result{
		Output:  strings.Join(parts, "\n"),
		Success: !result.IsError,
	}, nil
}
