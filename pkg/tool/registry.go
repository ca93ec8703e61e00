package tool

import (
	"context"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var ErrToolNotFound = goerr.New("tool not found")

// Registry holds the tools available to the scheduler and executes
// them with argument validation.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{
		tools: make(map[string]Tool, len(tools)),
	}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Docs returns name to description for every registered tool, the
// shape the provider's ScoreTools expects.
func (r *Registry) Docs() map[string]string {
	docs := make(map[string]string, len(r.tools))
	for name, t := range r.tools {
		docs[name] = t.Description()
	}
	return docs
}

// Run validates args against the tool's schema and executes it.
// Invalid arguments produce a failed Result and never reach the tool.
func (r *Registry) Run(ctx context.Context, name string, args map[string]any, tc *Context) (*Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, goerr.Wrap(ErrToolNotFound, "unknown tool", goerr.V("name", name))
	}

	if problems := Validate(args, t.Parameters()); len(problems) > 0 {
		return &Result{
			Output:  "invalid arguments: " + strings.Join(problems, "; "),
			Success: false,
		}, nil
	}

	return t.Run(ctx, args, tc)
}
