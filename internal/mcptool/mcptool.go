// Package mcptool exposes the sandbox as an MCP tool named run_js.
package mcptool

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/jsbox/internal/sandbox"
)

const (
	ServerName = "jsbox"
	ToolName   = "run_js"

	toolDescription = "Execute JavaScript in an isolated sandbox and return the result and console output. " +
		"The code runs as a function body: use `return` to produce a result. " +
		"Only console.log and console.error are available; eval, Function and WebAssembly are disabled."
)

// Tool is the run_js tool definition.
func Tool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolName,
		Description: toolDescription,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "JavaScript function body to execute",
				},
			},
			Required: []string{"code"},
		},
	}
}

// NewServer builds an MCP server whose run_js tool executes in sb.
func NewServer(sb sandbox.Sandbox, version string) *server.MCPServer {
	s := server.NewMCPServer(ServerName, version)
	s.AddTool(Tool(), Handler(sb))
	return s
}

// ServeStdio serves the tool on stdin and stdout until the client disconnects.
func ServeStdio(sb sandbox.Sandbox, version string) error {
	return server.ServeStdio(NewServer(sb, version))
}

// Handler runs the code argument and returns the outcome JSON as text.
func Handler(sb sandbox.Sandbox) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		code, ok := args["code"].(string)
		if !ok {
			return errResult("code (string) required"), nil
		}

		out := sb.Run(ctx, sandbox.Request{Code: code})
		text, err := json.Marshal(out)
		if err != nil {
			return errResult("error: " + err.Error()), nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(text)}},
			IsError: out.Failed,
		}, nil
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
