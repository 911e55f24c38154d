package mcp

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ToolCategory represents the functional category of a tool.
type ToolCategory string

const (
	// CategoryCognition is for definition listing and validation.
	CategoryCognition ToolCategory = "cognition"
	// CategoryExecution is for starting, inspecting and cancelling runs.
	CategoryExecution ToolCategory = "execution"
	// CategoryReport is for reports, verification and failure analysis.
	CategoryReport ToolCategory = "report"
	// CategoryMemory is for insight recall.
	CategoryMemory ToolCategory = "memory"
	// CategorySearch is for tool discovery (tool_search itself).
	CategorySearch ToolCategory = "search"
)

// ToolMetadata contains metadata about a registered MCP tool.
type ToolMetadata struct {
	// Name is the unique tool name (e.g., "cognition_start").
	Name string `json:"name"`

	// Description is a human-readable description of what the tool does.
	Description string `json:"description"`

	// Category is the functional category of the tool.
	Category ToolCategory `json:"category"`

	// Keywords are additional searchable terms for this tool.
	Keywords []string `json:"keywords,omitempty"`
}

var (
	errToolInvalid   = errors.New("tool metadata requires a name and description")
	errToolDuplicate = errors.New("tool already registered")
)

// ToolRegistry manages metadata about all registered MCP tools.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry creates a new tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*ToolMetadata),
	}
}

// Register adds a tool to the registry. Names are unique.
func (r *ToolRegistry) Register(tool *ToolMetadata) error {
	if tool == nil || tool.Name == "" || tool.Description == "" {
		return errToolInvalid
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Name]; ok {
		return errToolDuplicate
	}
	r.tools[tool.Name] = tool
	return nil
}

// Get returns the metadata for a specific tool.
func (r *ToolRegistry) Get(name string) (*ToolMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tool metadata ordered by name.
func (r *ToolRegistry) List() []*ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ListByCategory returns all tools in a specific category, ordered by name.
func (r *ToolRegistry) ListByCategory(category ToolCategory) []*ToolMetadata {
	all := r.List()
	result := make([]*ToolMetadata, 0, len(all))
	for _, tool := range all {
		if tool.Category == category {
			result = append(result, tool)
		}
	}
	return result
}

// SearchResult contains a tool match from a search query.
type SearchResult struct {
	// Tool is the matched tool metadata.
	Tool *ToolMetadata `json:"tool"`

	// Score indicates match quality (higher is better).
	// 3 = exact name match
	// 2 = name contains query
	// 1 = description/keywords match
	Score int `json:"score"`

	// MatchReason describes why this tool matched.
	MatchReason string `json:"match_reason"`
}

// Search finds tools matching the query string. Matching is case-insensitive
// against names, descriptions and keywords; a query that compiles as a
// regular expression also matches as a pattern.
func (r *ToolRegistry) Search(query string) []*SearchResult {
	if query == "" {
		return nil
	}

	queryLower := strings.ToLower(query)
	var regex *regexp.Regexp
	if re, err := regexp.Compile("(?i)" + query); err == nil {
		regex = re
	}

	var results []*SearchResult
	for _, tool := range r.List() {
		if score, reason := matchTool(tool, queryLower, regex); score > 0 {
			results = append(results, &SearchResult{Tool: tool, Score: score, MatchReason: reason})
		}
	}

	// List is name-ordered, so ties keep name order.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

func matchTool(tool *ToolMetadata, queryLower string, regex *regexp.Regexp) (int, string) {
	nameLower := strings.ToLower(tool.Name)
	switch {
	case nameLower == queryLower:
		return 3, "exact name match"
	case strings.Contains(nameLower, queryLower):
		return 2, "name contains query"
	case regex != nil && regex.MatchString(tool.Name):
		return 2, "name matches pattern"
	case strings.Contains(strings.ToLower(tool.Description), queryLower):
		return 1, "description contains query"
	case regex != nil && regex.MatchString(tool.Description):
		return 1, "description matches pattern"
	}
	for _, kw := range tool.Keywords {
		if strings.Contains(strings.ToLower(kw), queryLower) {
			return 1, "keyword contains query"
		}
		if regex != nil && regex.MatchString(kw) {
			return 1, "keyword matches pattern"
		}
	}
	return 0, ""
}

// SearchByCategory searches within a specific category.
func (r *ToolRegistry) SearchByCategory(query string, category ToolCategory) []*SearchResult {
	all := r.Search(query)
	filtered := make([]*SearchResult, 0, len(all))
	for _, result := range all {
		if result.Tool.Category == category {
			filtered = append(filtered, result)
		}
	}
	return filtered
}

// Count returns the total number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
