package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ctonline/salesagent/internal/index"
)

func (r *Registry) registerSearchTools() {
	r.Register(&Tool{
		Name:        "search_information_tool",
		Description: "Busca productos y promociones usando búsqueda semántica. Úsala para encontrar los productos más relevantes a la consulta del usuario.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Consulta del usuario o componentes clave de su necesidad",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleSearchInformation,
	})

	r.Register(&Tool{
		Name:        "search_by_key_tool",
		Description: "Obtiene la información de un producto específico a partir de su clave CT (alfanumérica, sin espacios, en mayúsculas).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"clave": map[string]any{
					"type":        "string",
					"description": "Clave CT del producto",
				},
			},
			"required": []string{"clave"},
		},
		Handler: r.handleSearchByKey,
	})

	r.Register(&Tool{
		Name:        "get_support_info",
		Description: "Responde dudas sobre compra en línea, ESD, políticas, términos y condiciones, y procedimientos de garantía.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Duda del usuario",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleSupportInfo,
	})
}

// handleSearchInformation searches the product and promotion
// collections and folds the passages into one block per product key,
// so the model sees each product once with all its context attached.
func (r *Registry) handleSearchInformation(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	promotions, err := r.searcher.SearchPromotions(ctx, query)
	if err != nil {
		return "", fmt.Errorf("search promotions: %w", err)
	}
	products, err := r.searcher.SearchProducts(ctx, query)
	if err != nil {
		return "", fmt.Errorf("search products: %w", err)
	}

	if len(promotions) == 0 && len(products) == 0 {
		return "Sin coincidencias en el catálogo para esa consulta.", nil
	}

	var b strings.Builder
	if blocks := index.GroupByKey(promotions); len(blocks) > 0 {
		b.WriteString("Promociones:\n")
		for _, block := range blocks {
			b.WriteString(block)
			b.WriteString("\n\n")
		}
	}
	if blocks := index.GroupByKey(products); len(blocks) > 0 {
		b.WriteString("Productos:\n")
		for _, block := range blocks {
			b.WriteString(block)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Registry) handleSearchByKey(ctx context.Context, args map[string]any) (string, error) {
	clave := strings.TrimSpace(stringArg(args, "clave"))
	if clave == "" {
		return "", fmt.Errorf("clave is required")
	}

	passages, err := r.searcher.SearchByKey(ctx, clave)
	if err != nil {
		return "", fmt.Errorf("search by key: %w", err)
	}
	if len(passages) == 0 {
		return fmt.Sprintf("No se encontró información para la clave %s.", strings.ToUpper(clave)), nil
	}

	blocks := index.GroupByKey(passages)
	return strings.Join(blocks, "\n\n"), nil
}

// handleSupportInfo concatenates the retrieved support passages into
// one context blob; the model does the answering.
func (r *Registry) handleSupportInfo(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	passages, err := r.searcher.SearchSupport(ctx, query)
	if err != nil {
		return "", fmt.Errorf("search support docs: %w", err)
	}
	if len(passages) == 0 {
		return "No hay documentación de soporte para esa duda.", nil
	}

	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = p.Content
	}
	return strings.Join(parts, " "), nil
}
