// Command calculator-mcp runs the calculator MCP server over stdio.
// It exists only as a live fixture for internal/mcp's integration tests.
package main

import (
	"log"

	"github.com/mark3labs/mcp-go/server"
	"github.com/opencode-ai/core/pkg/mcpserver/calculator"
)

func main() {
	s := calculator.NewServer()
	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}
