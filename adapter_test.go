package main

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestFlattenTextContentJoinsAllBlocks(t *testing.T) {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "first"},
			mcp.TextContent{Type: "text", Text: "second"},
		},
	}
	got := flattenTextContent(result)
	want := "first\nsecond"
	if got != want {
		t.Fatalf("flattenTextContent() = %q, want %q", got, want)
	}
}

func TestFlattenTextContentSkipsEmptyBlocks(t *testing.T) {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: ""},
			mcp.TextContent{Type: "text", Text: "only this"},
		},
	}
	if got := flattenTextContent(result); got != "only this" {
		t.Fatalf("flattenTextContent() = %q, want %q", got, "only this")
	}
}

func TestFlattenTextContentNilResult(t *testing.T) {
	if got := flattenTextContent(nil); got != "" {
		t.Fatalf("flattenTextContent(nil) = %q, want empty string", got)
	}
}
