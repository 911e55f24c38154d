package mcp

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededRegistry(t *testing.T) *ToolRegistry {
	t.Helper()
	registry := NewToolRegistry()
	for _, tool := range []*ToolMetadata{
		{Name: "cognition_start", Description: "Start an execution", Category: CategoryExecution, Keywords: []string{"run"}},
		{Name: "cognition_report", Description: "Read a sealed report", Category: CategoryReport, Keywords: []string{"merkle"}},
		{Name: "cognition_recall", Description: "Recall remembered insights", Category: CategoryMemory},
		{Name: "tool_search", Description: "Search tools", Category: CategorySearch},
	} {
		require.NoError(t, registry.Register(tool))
	}
	return registry
}

func TestToolRegistry_Register(t *testing.T) {
	registry := NewToolRegistry()

	tool := &ToolMetadata{
		Name:        "cognition_status",
		Description: "Show execution progress",
		Category:    CategoryExecution,
		Keywords:    []string{"progress"},
	}
	require.NoError(t, registry.Register(tool))

	retrieved, ok := registry.Get("cognition_status")
	require.True(t, ok)
	assert.Equal(t, tool, retrieved)

	_, ok = registry.Get("missing")
	assert.False(t, ok)
}

func TestToolRegistry_RegisterDuplicate(t *testing.T) {
	registry := NewToolRegistry()
	tool := &ToolMetadata{Name: "cognition_cancel", Description: "Cancel", Category: CategoryExecution}

	require.NoError(t, registry.Register(tool))
	err := registry.Register(tool)
	require.ErrorIs(t, err, errToolDuplicate)
	assert.Equal(t, 1, registry.Count())
}

func TestToolRegistry_RegisterInvalid(t *testing.T) {
	registry := NewToolRegistry()

	tests := []struct {
		name string
		tool *ToolMetadata
	}{
		{"nil", nil},
		{"no name", &ToolMetadata{Description: "x", Category: CategoryReport}},
		{"no description", &ToolMetadata{Name: "x", Category: CategoryReport}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, registry.Register(tt.tool), errToolInvalid)
		})
	}
	assert.Zero(t, registry.Count())
}

func TestToolRegistry_ListOrdered(t *testing.T) {
	registry := seededRegistry(t)

	var names []string
	for _, tool := range registry.List() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"cognition_recall", "cognition_report", "cognition_start", "tool_search"}, names)

	byCat := registry.ListByCategory(CategoryReport)
	require.Len(t, byCat, 1)
	assert.Equal(t, "cognition_report", byCat[0].Name)
	assert.Empty(t, registry.ListByCategory(CategoryCognition))
}

func TestToolRegistry_Search(t *testing.T) {
	registry := seededRegistry(t)

	tests := []struct {
		name   string
		query  string
		first  string
		score  int
		reason string
	}{
		{"exact name", "cognition_start", "cognition_start", 3, "exact name match"},
		{"name contains", "RECALL", "cognition_recall", 2, "name contains query"},
		{"name pattern", "^tool_.*", "tool_search", 2, "name matches pattern"},
		{"description", "sealed", "cognition_report", 1, "description contains query"},
		{"keyword", "merkle", "cognition_report", 1, "keyword contains query"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := registry.Search(tt.query)
			require.NotEmpty(t, results)
			assert.Equal(t, tt.first, results[0].Tool.Name)
			assert.Equal(t, tt.score, results[0].Score)
			assert.Equal(t, tt.reason, results[0].MatchReason)
		})
	}
}

func TestToolRegistry_SearchSorting(t *testing.T) {
	registry := seededRegistry(t)

	results := registry.Search("cognition")
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	// Equal scores keep name order.
	assert.Equal(t, "cognition_recall", results[0].Tool.Name)
}

func TestToolRegistry_SearchByCategory(t *testing.T) {
	registry := seededRegistry(t)

	results := registry.SearchByCategory("cognition", CategoryMemory)
	require.Len(t, results, 1)
	assert.Equal(t, "cognition_recall", results[0].Tool.Name)
}

func TestToolRegistry_SearchEdgeCases(t *testing.T) {
	registry := seededRegistry(t)

	assert.Nil(t, registry.Search(""))
	assert.Empty(t, registry.Search("nonexistent_xyz"))
	// An invalid pattern still matches literally.
	assert.Empty(t, registry.Search("[unclosed"))
}

func TestToolRegistry_ConcurrentAccess(t *testing.T) {
	registry := seededRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = registry.Search("cognition")
			_ = registry.List()
		}()
		go func(idx int) {
			defer wg.Done()
			_ = registry.Register(&ToolMetadata{
				Name:        fmt.Sprintf("concurrent_%d", idx),
				Description: "Concurrent tool",
				Category:    CategorySearch,
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 54, registry.Count())
}
