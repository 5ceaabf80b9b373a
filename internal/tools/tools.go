// Package tools defines the capabilities available to the sales
// assistant's reasoning loop: semantic search, inventory and promotion
// lookups, currency conversion, order status, and support information.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ctonline/salesagent/internal/catalog"
	"github.com/ctonline/salesagent/internal/index"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                         `json:"name"`
	Description string                                                         `json:"description"`
	Parameters  map[string]any                                                 `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Searcher is the semantic-index surface the tools need.
type Searcher interface {
	SearchProducts(ctx context.Context, query string) ([]index.Passage, error)
	SearchPromotions(ctx context.Context, query string) ([]index.Passage, error)
	SearchByKey(ctx context.Context, key string) ([]index.Passage, error)
	SearchSupport(ctx context.Context, query string) ([]index.Passage, error)
}

// Catalog is the relational surface the tools need.
type Catalog interface {
	Inventory(ctx context.Context, clave string, listaPrecio int) (*catalog.InventoryRow, error)
	Promotion(ctx context.Context, clave string, listaPrecio, branchID int) (*catalog.PromotionRow, error)
	BranchByMnemonic(ctx context.Context, mnemonic string) (*catalog.Branch, error)
	Branches(ctx context.Context) ([]catalog.Branch, error)
	OrderByInvoice(ctx context.Context, factura string) (*catalog.Order, error)
}

// Rates provides the cached USD to MXN conversion factor.
type Rates interface {
	Rate() (float64, error)
}

// Registry holds available tools.
type Registry struct {
	tools    map[string]*Tool
	searcher Searcher
	catalog  Catalog
	rates    Rates
	location *time.Location
	logger   *slog.Logger
}

// NewRegistry creates the registry with all built-in tools. loc is the
// timezone used when rendering shipped-order timestamps.
func NewRegistry(searcher Searcher, cat Catalog, rates Rates, loc *time.Location, logger *slog.Logger) *Registry {
	if loc == nil {
		loc = time.UTC
	}
	r := &Registry{
		tools:    make(map[string]*Tool),
		searcher: searcher,
		catalog:  cat,
		rates:    rates,
		location: loc,
		logger:   logger,
	}
	r.registerSearchTools()
	r.registerCatalogTools()
	r.registerCompanyTools()
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tools in the wire shape the chat API expects.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, t := range r.tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with given arguments.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	return tool.Handler(ctx, args)
}

// ExecuteArgs runs a tool with already-decoded arguments.
func (r *Registry) ExecuteArgs(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	return tool.Handler(ctx, args)
}

// stringArg extracts a string argument; empty when missing or of the
// wrong type.
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg extracts an integer argument. JSON numbers decode as float64;
// models sometimes send numbers as strings.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		fmt.Sscanf(v, "%d", &n)
		return n
	}
	return 0
}

// floatArg extracts a numeric argument.
func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		var f float64
		fmt.Sscanf(v, "%g", &f)
		return f
	}
	return 0
}
