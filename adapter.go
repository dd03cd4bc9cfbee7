package main

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// flattenTextContent concatenates every text content block in an
// upstream tools/call result with "\n", ignoring non-text blocks. The
// upstream proxy's own extractTextContent returns only the first
// non-empty block; this generalizes it to "every block contributes,"
// which is what a caller aggregating output from several MCP servers
// behind one call actually needs.
func flattenTextContent(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	parts := make([]string, 0, len(result.Content))
	for _, block := range result.Content {
		switch v := block.(type) {
		case mcp.TextContent:
			if v.Text != "" {
				parts = append(parts, v.Text)
			}
		case *mcp.TextContent:
			if v != nil && v.Text != "" {
				parts = append(parts, v.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}
