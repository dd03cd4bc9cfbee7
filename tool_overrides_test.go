package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadToolOverridesFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.json")
	content := `{
		"servers": {
			"meta": {
				"enabled": true,
				"tools": {
					"search_tools_semantic": {
						"description": "Search across every connected server",
						"annotations": {"readOnlyHint": true, "title": "Semantic Search"}
					}
				}
			}
		},
		"master": {
			"enabled": true,
			"tools": {
				"*": {"annotations": {"openWorldHint": true}}
			}
		}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write overrides file: %v", err)
	}

	set, err := loadToolOverridesFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set == nil {
		t.Fatalf("expected overrides set")
	}
	if set.ToolOverrides["search_tools_semantic"] == nil {
		t.Fatalf("expected tool-specific override entry present")
	}
	if got := *set.ToolOverrides["search_tools_semantic"].Description; got != "Search across every connected server" {
		t.Fatalf("expected description preserved, got %q", got)
	}
	if set.ToolOverrides["*"] == nil || set.ToolOverrides["*"].Annotations == nil {
		t.Fatalf("expected master wildcard override present")
	}
}

func TestLoadToolOverridesFromEmptyPathReturnsNil(t *testing.T) {
	set, err := loadToolOverridesFromPath("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set != nil {
		t.Fatalf("expected nil set for empty path, got %#v", set)
	}
}

func TestMergeToolOverrideMaps(t *testing.T) {
	trueVal := true
	base := map[string]*ToolOverrideConfig{
		"search_tools_semantic": {Annotations: &AnnotationOverrideConfig{ReadOnlyHint: &trueVal}},
	}
	falseVal := false
	extra := map[string]*ToolOverrideConfig{
		"search_tools_semantic": {Annotations: &AnnotationOverrideConfig{DestructiveHint: &falseVal}},
		"call_external_tool":    {Annotations: &AnnotationOverrideConfig{DestructiveHint: &trueVal}},
	}

	merged := mergeToolOverrideMaps(base, extra)
	if len(merged) != 2 {
		t.Fatalf("expected 2 overrides, got %d", len(merged))
	}
	rf := merged["search_tools_semantic"]
	if rf == nil || rf.Annotations == nil {
		t.Fatalf("expected merged search_tools_semantic annotations")
	}
	if rf.Annotations.ReadOnlyHint == nil || !*rf.Annotations.ReadOnlyHint {
		t.Fatalf("expected readOnlyHint to remain true")
	}
	if rf.Annotations.DestructiveHint == nil || *rf.Annotations.DestructiveHint {
		t.Fatalf("expected destructiveHint to be false")
	}
}

func TestToolEnabledCascade(t *testing.T) {
	falseVal := false
	trueVal := true

	// Master disables everything, server fragment re-enables, tool-specific
	// wildcard disables again, and a specific tool override wins overall.
	set := &ToolOverrideSet{
		ToolOverrides: map[string]*ToolOverrideConfig{
			"*":                      {Enabled: &falseVal},
			"get_tool_index_info":    {Enabled: &trueVal},
		},
		Master: &toolOverrideFragment{Enabled: &falseVal},
		Servers: map[string]*toolOverrideFragment{
			"meta": {Enabled: &trueVal},
		},
	}

	if toolEnabled(set, "meta", "refresh_tool_index") {
		t.Fatalf("expected refresh_tool_index disabled by tool-override wildcard")
	}
	if !toolEnabled(set, "meta", "get_tool_index_info") {
		t.Fatalf("expected get_tool_index_info enabled by tool-specific override")
	}
}

func TestToolEnabledNilSetDefaultsTrue(t *testing.T) {
	if !toolEnabled(nil, "meta", "search_tools_semantic") {
		t.Fatalf("expected nil override set to default every tool to enabled")
	}
}

func TestDisabledServerNamesReportsExplicitlyDisabledOnly(t *testing.T) {
	falseVal := false
	trueVal := true
	set := &ToolOverrideSet{
		Servers: map[string]*toolOverrideFragment{
			"github": {Enabled: &falseVal},
			"fs":     {Enabled: &trueVal},
			"meta":   {},
		},
	}
	got := disabledServerNames(set)
	if len(got) != 1 || got[0] != "github" {
		t.Fatalf("expected only github reported disabled, got %#v", got)
	}
}

func TestDisabledServerNamesNilSet(t *testing.T) {
	if got := disabledServerNames(nil); got != nil {
		t.Fatalf("expected nil for nil set, got %#v", got)
	}
}
