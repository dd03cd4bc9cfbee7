package main

import (
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestDescribeCallErrorMapsKnownKinds(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{newProxyError(ErrUnknownServer, "bogus", nil), "unknown server"},
		{newUnknownToolError("fs", "bogus", nil), "unknown tool"},
		{newProxyError(ErrNotRunning, "fs", nil), "not running"},
		{newProxyError(ErrDisabled, "fs", nil), "disabled"},
		{newProxyError(ErrBusy, "tool_index", nil), "busy"},
	}
	for _, c := range cases {
		got := describeCallError(c.err)
		if !containsIgnoreCase(got, c.want) {
			t.Fatalf("describeCallError(%v) = %q, want substring %q", c.err, got, c.want)
		}
		if !strings.HasPrefix(got, "Error") {
			t.Fatalf("describeCallError(%v) = %q, want it to begin with %q", c.err, got, "Error")
		}
	}
}

func TestDescribeCallErrorUnknownToolNamesServerAndAvailableTools(t *testing.T) {
	err := newUnknownToolError("fs", "nope", []string{"read_file", "write_file"})
	got := describeCallError(err)
	for _, want := range []string{"fs", "nope", "read_file", "write_file"} {
		if !containsIgnoreCase(got, want) {
			t.Fatalf("describeCallError(%v) = %q, want it to mention %q", err, got, want)
		}
	}
}

func containsIgnoreCase(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexFold(haystack, needle) >= 0
}

func indexFold(haystack, needle string) int {
	hl := len(haystack)
	nl := len(needle)
	for i := 0; i+nl <= hl; i++ {
		if equalFold(haystack[i:i+nl], needle) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func TestApplyMetaToolOverrideChangesDescriptionAndAnnotations(t *testing.T) {
	tool := mcp.NewTool(toolRefreshToolIndex, mcp.WithDescription("original description"))

	overriddenDesc := "custom description"
	trueVal := true
	set := &ToolOverrideSet{
		ToolOverrides: map[string]*ToolOverrideConfig{
			toolRefreshToolIndex: {
				Description: &overriddenDesc,
				Annotations: &AnnotationOverrideConfig{ReadOnlyHint: &trueVal},
			},
		},
	}

	applyMetaToolOverride(&tool, set, toolRefreshToolIndex)

	if tool.Description != overriddenDesc {
		t.Fatalf("expected description override applied, got %q", tool.Description)
	}
	if tool.Annotations.ReadOnlyHint == nil || !*tool.Annotations.ReadOnlyHint {
		t.Fatalf("expected readOnlyHint override applied")
	}
}

func TestApplyMetaToolOverrideNilSetIsNoOp(t *testing.T) {
	tool := mcp.NewTool(toolRefreshToolIndex, mcp.WithDescription("original description"))
	applyMetaToolOverride(&tool, nil, toolRefreshToolIndex)
	if tool.Description != "original description" {
		t.Fatalf("expected no change for nil override set, got %q", tool.Description)
	}
}

func TestIntArgAndFloatArgFallback(t *testing.T) {
	req := mcp.CallToolRequest{}
	if got := intArg(req, "maxResults", 5); got != 5 {
		t.Fatalf("expected fallback 5, got %d", got)
	}
	if got := floatArg(req, "minRelevanceScore", 0.55); got != 0.55 {
		t.Fatalf("expected fallback 0.55, got %v", got)
	}
}
