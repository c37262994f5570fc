// Package mcp exposes the profile query pipeline as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/floatchat/floatchat/internal/floaterrors"
	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/models"
)

const keepAliveInterval = 15 * time.Second

// ProfileService is the query surface the tools call.
type ProfileService interface {
	Query(ctx context.Context, text string) ([]models.ProfileResult, error)
	NearestProfiles(ctx context.Context, point geo.Point, limit int) ([]models.ProfileWithDistance, error)
}

// Server implements the MCP server for FloatChat.
type Server struct {
	service   ProfileService
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates an MCP server with the query_profiles and nearest_profiles tools.
func NewServer(service ProfileService, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		service:   service,
		mcpServer: server.NewMCPServer("FloatChat", version, server.WithToolCapabilities(true)),
		logger:    logger,
	}

	s.registerTools()

	return s
}

// SSEHandler returns the SSE transport mounted under /mcp (stream at /mcp/sse, posts at /mcp/message).
func (s *Server) SSEHandler() http.Handler {
	return server.NewSSEServer(
		s.mcpServer,
		server.WithBasePath("/mcp"),
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/message"),
		server.WithKeepAlive(true),
		server.WithKeepAliveInterval(keepAliveInterval),
	)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name: "query_profiles",
		Description: "Find the Argo float profiles that best match a natural-language question. " +
			"Mention a place (\"near Tasmania\") or coordinates (\"lat=-43 long=130\") to restrict results to 50 km around it.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The question, e.g. \"warm surface water near Tasmania\"",
				},
			},
			Required: []string{"query"},
		},
	}, s.handleQueryProfiles)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "nearest_profiles",
		Description: "List the stored float profiles closest to a coordinate, nearest first.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"lat": map[string]any{"type": "number", "description": "Latitude in degrees, -90 to 90"},
				"lon": map[string]any{"type": "number", "description": "Longitude in degrees, -180 to 180"},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of profiles (default: 3)",
				},
			},
			Required: []string{"lat", "lon"},
		},
	}, s.handleNearestProfiles)
}

// parseParams converts MCP request arguments to a struct.
func parseParams(args any, target any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}

	return nil
}

func (s *Server) handleQueryProfiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params struct {
		Query string `json:"query"`
	}

	if err := parseParams(request.Params.Arguments, &params); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	results, err := s.service.Query(ctx, params.Query)
	if err != nil {
		return s.toolError(ctx, "query_profiles", err), nil
	}

	return jsonResult(results)
}

func (s *Server) handleNearestProfiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params struct {
		Lat   *float64 `json:"lat"`
		Lon   *float64 `json:"lon"`
		Limit int      `json:"limit"`
	}

	if err := parseParams(request.Params.Arguments, &params); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	if params.Lat == nil || params.Lon == nil {
		return mcp.NewToolResultError("lat and lon are required"), nil
	}

	profiles, err := s.service.NearestProfiles(ctx, geo.Point{Lat: *params.Lat, Lon: *params.Lon}, params.Limit)
	if err != nil {
		return s.toolError(ctx, "nearest_profiles", err), nil
	}

	return jsonResult(profiles)
}

// toolError reports validation messages as-is and hides the cause of anything else.
func (s *Server) toolError(ctx context.Context, tool string, err error) *mcp.CallToolResult {
	var validationErr *floaterrors.ValidationError
	if errors.As(err, &validationErr) {
		return mcp.NewToolResultError(validationErr.Error())
	}

	s.logger.ErrorContext(ctx, "mcp tool failed", "tool", tool, "error", err)

	var unavailableErr *floaterrors.UnavailableError
	if errors.As(err, &unavailableErr) {
		return mcp.NewToolResultError(unavailableErr.Dependency + " is unavailable, please try again later")
	}

	return mcp.NewToolResultError("the request could not be completed")
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}

	return mcp.NewToolResultText(string(data)), nil
}
