package llm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPServerConfig holds configuration for connecting to an MCP
// extractor server.
type MCPServerConfig struct {
	// Path to the MCP server executable
	Path string

	// Transport type; only "stdio" is supported
	Transport string

	// Additional connection options
	Options map[string]interface{}
}

// DiscoverMCPServers tries to discover available MCP servers using
// environment variables and common installation locations.
func DiscoverMCPServers() ([]MCPServerConfig, error) {
	servers := []MCPServerConfig{}

	if serverPath := os.Getenv("MCP_SERVER_PATH"); serverPath != "" {
		servers = append(servers, MCPServerConfig{
			Path:      serverPath,
			Transport: "stdio",
		})
	}

	commonPaths := []string{
		"./mcp-server",
		filepath.Join(os.Getenv("HOME"), ".local/bin/mcp-server"),
		"/usr/local/bin/mcp-server",
	}

	for _, path := range commonPaths {
		if _, err := os.Stat(path); err == nil {
			servers = append(servers, MCPServerConfig{
				Path:      path,
				Transport: "stdio",
			})
		}
	}

	if serverList := os.Getenv("MCP_SERVERS"); serverList != "" {
		for _, server := range strings.Split(serverList, ",") {
			server = strings.TrimSpace(server)
			if server == "" {
				continue
			}
			servers = append(servers, MCPServerConfig{
				Path:      server,
				Transport: "stdio",
			})
		}
	}

	if len(servers) == 0 {
		return nil, fmt.Errorf("no MCP servers discovered; please set MCP_SERVER_PATH or MCP_SERVERS environment variable")
	}

	return servers, nil
}

// GetMCPServerConfig returns an appropriate MCP server configuration.
// An explicit serverPath takes precedence over discovery.
func GetMCPServerConfig(serverPath string) (*MCPServerConfig, error) {
	if serverPath != "" {
		if strings.HasPrefix(serverPath, "http://") || strings.HasPrefix(serverPath, "https://") {
			return nil, fmt.Errorf("HTTP transport not currently supported by this implementation")
		}
		return &MCPServerConfig{
			Path:      serverPath,
			Transport: "stdio",
		}, nil
	}

	servers, err := DiscoverMCPServers()
	if err != nil {
		return nil, err
	}

	return &servers[0], nil
}

// MCPExtractor is an Extractor backed by an MCP tool over stdio.
type MCPExtractor struct {
	client *client.StdioMCPClient
	config ExtractionConfig
}

// NewMCPExtractor connects to the MCP server at serverPath (or a
// discovered one when empty) and returns an extractor calling the
// configured tool.
func NewMCPExtractor(serverPath string, config *ExtractionConfig) (*MCPExtractor, error) {
	serverConfig, err := GetMCPServerConfig(serverPath)
	if err != nil {
		return nil, fmt.Errorf("failed to configure MCP server: %w", err)
	}

	cfg := DefaultExtractionConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.ToolName == "" {
		cfg.ToolName = "deid.extract"
	}
	if toolName := os.Getenv("MCP_TOOL_NAME"); toolName != "" && config == nil {
		cfg.ToolName = toolName
	}
	if model := os.Getenv("MCP_MODEL"); model != "" && config == nil {
		cfg.Model = model
	}

	var opts []string
	if len(serverConfig.Options) > 0 {
		opts = make([]string, 0, len(serverConfig.Options))
		for k, v := range serverConfig.Options {
			opts = append(opts, fmt.Sprintf("%s=%v", k, v))
		}
	}

	mcpClient, err := client.NewStdioMCPClient(serverConfig.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP stdio client: %w", err)
	}

	return &MCPExtractor{
		client: mcpClient,
		config: cfg,
	}, nil
}

// Extract calls the MCP extraction tool with the window and context
// text and returns the raw text content of the result.
func (m *MCPExtractor) Extract(ctx context.Context, windowText, contextText string) (string, error) {
	params := map[string]interface{}{
		"window_text":  windowText,
		"context_text": contextText,
		"model":        m.config.Model,
		"temperature":  m.config.Temperature,
		"max_tokens":   m.config.MaxTokens,
	}
	for k, v := range m.config.ExtraParams {
		params[k] = v
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = m.config.ToolName
	request.Params.Arguments = params

	result, err := m.client.CallTool(ctx, request)
	if err != nil {
		return "", fmt.Errorf("MCP call failed: %w", err)
	}

	if result.IsError {
		return "", fmt.Errorf("MCP tool returned an error: %v", result.Result)
	}

	var output strings.Builder
	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			output.WriteString(textContent.Text)
		}
	}

	if output.Len() == 0 {
		return "", fmt.Errorf("MCP tool returned no text content")
	}

	return output.String(), nil
}

// Close shuts down the MCP server process.
func (m *MCPExtractor) Close() error {
	return m.client.Close()
}
