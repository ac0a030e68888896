package server

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domreplay/kit"
)

// RegisterMCP registers the replay tools on an MCP server.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerSessionsTool(srv)
	s.registerContextsTool(srv)
	s.registerPayloadTool(srv)
	s.registerRenderTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var (
	sessionProp   = map[string]any{"type": "string", "description": "Recording session id"}
	relatedIDProp = map[string]any{"type": "string", "description": "Correlation id of the document context"}
)

func decodeContext(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r contextRequest
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{
		Request:   &r,
		EnrichCtx: func(ctx context.Context) context.Context { return kit.WithSessionID(ctx, r.Session) },
	}, nil
}

func (s *Server) registerSessionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "replay_sessions",
		Description: "List recorded sessions, most recent first, with record and context counts.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	decode := func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, "sessions")(s.sessions), decode)
}

func (s *Server) registerContextsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "replay_contexts",
		Description: "List the document contexts (main page and frames) recorded in a session.",
		InputSchema: inputSchema(map[string]any{"session": sessionProp}, []string{"session"}),
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r sessionRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request:   &r,
			EnrichCtx: func(ctx context.Context) context.Context { return kit.WithSessionID(ctx, r.Session) },
		}, nil
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, "contexts")(s.contexts), decode)
}

func (s *Server) registerPayloadTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "replay_payload",
		Description: "Return the HEAD, SNAPSHOT and incremental records of one recorded context.",
		InputSchema: inputSchema(map[string]any{
			"session":    sessionProp,
			"related_id": relatedIDProp,
		}, []string{"session", "related_id"}),
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, "payload")(s.payload), decodeContext)
}

func (s *Server) registerRenderTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "replay_render",
		Description: "Replay one recorded context and return the reconstructed document as HTML.",
		InputSchema: inputSchema(map[string]any{
			"session":    sessionProp,
			"related_id": relatedIDProp,
		}, []string{"session", "related_id"}),
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, "render")(s.render), decodeContext)
}
