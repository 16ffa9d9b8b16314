package fillreg

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/fillreg/kit"
)

// RegisterMCP registers fillreg tools on an MCP server.
func (r *Registry) RegisterMCP(srv *mcp.Server) {
	r.registerGetProfileTool(srv)
	r.registerChooseStyleTool(srv)
	r.registerListStylesTool(srv)
	r.registerLeaderboardTool(srv)
	r.registerStatsTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- get_profile ---

type getProfileRequest struct {
	Host       string `json:"host"`
	SchemaHash string `json:"schema_hash"`
}

func (r *Registry) registerGetProfileTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "fillreg_get_profile",
		Description: "Get the learned autofill profile for a form: canonical field-to-selector map, success metrics and style hint, plus whether it is safe to auto-fill from.",
		InputSchema: inputSchema(map[string]any{
			"host":        map[string]any{"type": "string", "description": "Form host (e.g. jobs.example.com)"},
			"schema_hash": map[string]any{"type": "string", "description": "Form schema fingerprint"},
		}, []string{"host", "schema_hash"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*getProfileRequest)
		resp, err := r.GetProfile(ctx, rr.Host, rr.SchemaHash)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return map[string]string{"status": "no_profile"}, nil
		}
		return resp, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr getProfileRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- choose_style ---

type chooseStyleRequest struct {
	Host       string `json:"host"`
	SchemaHash string `json:"schema_hash"`
}

func (r *Registry) registerChooseStyleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "fillreg_choose_style",
		Description: "Pick a cover-letter style for a form. Exploits the form's learned style hint most of the time, occasionally explores an alternative variant.",
		InputSchema: inputSchema(map[string]any{
			"host":        map[string]any{"type": "string", "description": "Form host"},
			"schema_hash": map[string]any{"type": "string", "description": "Form schema fingerprint"},
		}, []string{"host", "schema_hash"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*chooseStyleRequest)
		return r.ChooseStyle(ctx, rr.Host, rr.SchemaHash)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr chooseStyleRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- list_styles ---

func (r *Registry) registerListStylesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "fillreg_list_styles",
		Description: "List all cover-letter style variants with their learned weights, heaviest first.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return r.ListStyles(ctx)
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- leaderboard ---

type leaderboardRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (r *Registry) registerLeaderboardTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "fillreg_leaderboard",
		Description: "Get per-host fill reliability rankings: average success rate and sample volume across each host's forms.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max entries (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*leaderboardRequest)
		if rr.Limit <= 0 {
			rr.Limit = 50
		}
		return r.HostLeaderboard(ctx, rr.Limit)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr leaderboardRequest
		json.Unmarshal(req.Params.Arguments, &rr)
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- stats ---

func (r *Registry) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "fillreg_stats",
		Description: "Get registry statistics: event count, skipped event count, profile count, style count.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return r.Stats(ctx)
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
