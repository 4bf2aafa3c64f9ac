package mcp

import (
	"context"
	"os"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"outlook_mcp_server/pkg/apperr"
	"outlook_mcp_server/pkg/logger"
)

const serverName = "outlook-mail"

// Server registers every catalog tool on an MCP server and serves the
// protocol over stdio.
type Server struct {
	mcp        *server.MCPServer
	dispatcher *Dispatcher
	log        zerolog.Logger
}

// NewServer builds the MCP server from the dispatcher's catalog. When
// compatBoolEnums is set, boolean schema properties are exposed as
// enabled/disabled string enums.
func NewServer(dispatcher *Dispatcher, version string, compatBoolEnums bool) (*Server, error) {
	s := &Server{
		mcp: server.NewMCPServer(
			serverName,
			version,
			server.WithToolCapabilities(false),
		),
		dispatcher: dispatcher,
		log:        logger.Component("mcp_server"),
	}

	for _, tool := range dispatcher.Catalog().Tools {
		schema := tool.InputSchema
		if compatBoolEnums {
			schema = ApplyBoolEnumCompat(schema)
		}
		raw, err := json.Marshal(schema)
		if err != nil {
			return nil, err
		}
		s.mcp.AddTool(mcp.Tool{
			Name:           tool.Name,
			Description:    tool.Description,
			RawInputSchema: raw,
		}, s.handler(tool.Name))
	}
	return s, nil
}

func (s *Server) handler(toolName string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := s.dispatcher.Dispatch(ctx, toolName, req.GetArguments())
		if err != nil {
			s.log.Warn().Str("tool", toolName).Err(err).Msg("tool call failed")
			return toolErrorResult(err), nil
		}

		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError("encode result: " + err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

// toolErrorResult serializes the structured error so MCP clients can react
// to the code (notably AUTH_REQUIRED with its user_email detail).
func toolErrorResult(err error) *mcp.CallToolResult {
	if appErr := apperr.AsAppError(err); appErr != nil {
		payload := map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
		}
		if len(appErr.Details) > 0 {
			payload["details"] = appErr.Details
		}
		if data, mErr := json.Marshal(payload); mErr == nil {
			return mcp.NewToolResultError(string(data))
		}
	}
	return mcp.NewToolResultError(err.Error())
}

// Serve blocks on the stdio transport until stdin closes or ctx is
// cancelled. Logs must go to stderr; stdout carries the protocol.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info().Msg("serving MCP over stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}
