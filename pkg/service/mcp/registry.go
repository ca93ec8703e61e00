package mcp

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/ermine-ai/ermine/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"
)

// Registry owns connections to configured MCP servers and exposes
// their tools. The lifecycle is explicit: construct, connect, Close.
type Registry struct {
	servers map[string]*server
}

type server struct {
	name    string
	session *mcp.ClientSession
	tools   []*mcp.Tool
}

// ServerConfig describes one MCP server to connect to.
type ServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   []string          `yaml:"command"`
	URL       string            `yaml:"url"`
	Env       map[string]string `yaml:"env"`
}

// Config is the YAML configuration file structure.
type Config struct {
	Servers []ServerConfig `yaml:"servers"`
}

func NewRegistry() *Registry {
	return &Registry{
		servers: make(map[string]*server),
	}
}

// Connect establishes a session with one MCP server and discovers its
// tools.
func (r *Registry) Connect(ctx context.Context, cfg ServerConfig) error {
	if _, exists := r.servers[cfg.Name]; exists {
		return goerr.New("server already connected", goerr.V("name", cfg.Name))
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "ermine",
		Version: "0.1.0",
	}, nil)

	var transport mcp.Transport
	var err error
	switch cfg.Transport {
	case "stdio":
		transport, err = stdioTransport(cfg)
	case "http":
		transport, err = httpTransport(cfg)
	default:
		return goerr.New("unsupported transport",
			goerr.V("transport", cfg.Transport),
			goerr.V("supported", []string{"stdio", "http"}))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to create transport", goerr.V("server", cfg.Name))
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to connect to MCP server", goerr.V("server", cfg.Name))
	}

	toolsResult, err := session.ListTools(ctx, nil)
	if err != nil {
		session.Close()
		return goerr.Wrap(err, "failed to list tools", goerr.V("server", cfg.Name))
	}

	r.servers[cfg.Name] = &server{
		name:    cfg.Name,
		session: session,
		tools:   toolsResult.Tools,
	}
	return nil
}

func stdioTransport(cfg ServerConfig) (mcp.Transport, error) {
	if len(cfg.Command) == 0 {
		return nil, goerr.New("command is required for stdio transport")
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func httpTransport(cfg ServerConfig) (mcp.Transport, error) {
	if cfg.URL == "" {
		return nil, goerr.New("url is required for http transport")
	}
	return &mcp.StreamableClientTransport{Endpoint: cfg.URL}, nil
}

// ServerNames returns connected server names in sorted order.
func (r *Registry) ServerNames() []string {
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerTools returns the discovered tools of one server.
func (r *Registry) ServerTools(serverName string) ([]*mcp.Tool, error) {
	srv, exists := r.servers[serverName]
	if !exists {
		return nil, goerr.New("server not found", goerr.V("name", serverName))
	}
	return srv.tools, nil
}

// CallTool invokes a tool on a connected server.
func (r *Registry) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	srv, exists := r.servers[serverName]
	if !exists {
		return nil, goerr.New("server not found", goerr.V("name", serverName))
	}

	result, err := srv.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call tool",
			goerr.V("server", serverName), goerr.V("tool", toolName))
	}
	return result, nil
}

// Close shuts down all server sessions.
func (r *Registry) Close() error {
	for name, srv := range r.servers {
		if err := srv.session.Close(); err != nil {
			return goerr.Wrap(err, "failed to close session", goerr.V("server", name))
		}
	}
	r.servers = make(map[string]*server)
	return nil
}

// LoadConfig reads the YAML server configuration. A missing path
// means no servers.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	absPath := path
	if !filepath.IsAbs(absPath) {
		var err error
		absPath, err = filepath.Abs(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to resolve config path", goerr.V("path", path))
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, goerr.Wrap(err, "failed to read MCP config file", goerr.V("path", absPath))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse MCP config file", goerr.V("path", absPath))
	}
	return &cfg, nil
}

// ConnectAll connects to every configured server, skipping failures
// with a warning. Returns the registry even when some servers fail.
func ConnectAll(ctx context.Context, cfg *Config) *Registry {
	registry := NewRegistry()
	logger := logging.From(ctx)

	for _, serverCfg := range cfg.Servers {
		if err := registry.Connect(ctx, serverCfg); err != nil {
			logger.Warn("failed to connect to MCP server",
				"server", serverCfg.Name, "error", err)
			continue
		}
		logger.Info("connected to MCP server", "server", serverCfg.Name)
	}
	return registry
}
