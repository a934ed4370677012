package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codeindex/internal/engine"
)

// handleVerb returns the handler of one tool. Every call returns the engine
// envelope as JSON text; failed verbs also set IsError so clients can branch
// without parsing.
func (s *Server) handleVerb(verb string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var params engine.Params
		switch args := request.Params.Arguments.(type) {
		case map[string]interface{}:
			params = args
		case nil:
			params = engine.Params{}
		default:
			return envelopeResult(engine.Failure(fmt.Errorf("%w: arguments must be an object", engine.ErrInvalidParams)))
		}

		s.log.Debug("tool call", "tool", verb)
		return envelopeResult(s.engine.Execute(ctx, verb, params))
	}
}

func envelopeResult(env *engine.Envelope) (*mcp.CallToolResult, error) {
	data, err := env.JSON()
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	result := mcp.NewToolResultText(string(data))
	result.IsError = !env.Success
	return result, nil
}
