package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/riskintake/internal/apiclient"
)

// Config holds the configuration for connecting to the intake API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	UserID string // Default user for tools called without user_id
}

// NewMCPServer creates a configured MCP server with all intake tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("riskintake", "0.1.0")
	h := NewHandlers(apiclient.New(cfg.APIURL), cfg.UserID)

	s.AddTool(ToolScoreTransaction, h.HandleScoreTransaction)
	s.AddTool(ToolListTransactions, h.HandleListTransactions)
	s.AddTool(ToolRequestRescore, h.HandleRequestRescore)
	s.AddTool(ToolGetJob, h.HandleGetJob)
	s.AddTool(ToolGetDashboard, h.HandleGetDashboard)

	return s
}
