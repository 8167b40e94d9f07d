package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/walletrisk/pkg/walletrisk"
)

// Version is reported to MCP clients during initialization.
const Version = "0.1.0"

// Config holds the configuration for reaching the walletrisk API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:4000"
}

// NewMCPServer creates a configured MCP server with all walletrisk tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("walletrisk", Version)
	h := NewHandlers(walletrisk.NewClient(cfg.APIURL))

	s.AddTool(ToolAnalyzeWallet, h.HandleAnalyzeWallet)
	s.AddTool(ToolCheckProvider, h.HandleCheckProvider)
	s.AddTool(ToolScreenSanctions, h.HandleScreenSanctions)
	s.AddTool(ToolListProviders, h.HandleListProviders)
	s.AddTool(ToolAnalysisHistory, h.HandleAnalysisHistory)
	s.AddTool(ToolSanctionsStats, h.HandleSanctionsStats)
	s.AddTool(ToolRefreshSanctions, h.HandleRefreshSanctions)

	return s
}
