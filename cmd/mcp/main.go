// walletrisk MCP Server - Exposes wallet risk screening as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/walletrisk/internal/mcpserver"
	"github.com/mbd888/walletrisk/pkg/walletrisk"
)

func main() {
	cfg := mcpserver.Config{
		APIURL: envOrDefault("WALLETRISK_API_URL", walletrisk.DefaultBaseURL),
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
