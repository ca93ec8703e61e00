package tool

import (
	"context"
	"net/http"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// Tool is a capability the assistant can invoke during a turn.
type Tool interface {
	// Name returns the stable identifier used for scoring and dispatch
	Name() string

	// Description returns a one-paragraph summary shown to the routing model
	Description() string

	// Parameters returns the JSON schema for the tool's arguments
	Parameters() *jsonschema.Schema

	// Run executes the tool. Arguments have already been validated
	// against Parameters by the registry.
	Run(ctx context.Context, args map[string]any, tc *Context) (*Result, error)
}

// Context carries shared resources for tool execution.
type Context struct {
	// Workspace is the directory tools are allowed to touch
	Workspace string

	// Timeout bounds a single tool execution
	Timeout time.Duration

	// HTTPClient is used for outbound requests
	HTTPClient *http.Client
}

// Result is the outcome of one tool execution. A failed run is a
// Result with Success=false, not an error; errors mean the tool
// could not run at all.
type Result struct {
	Output   string
	Success  bool
	Metadata map[string]any
}
