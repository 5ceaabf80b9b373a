package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ctonline/salesagent/internal/catalog"
	"github.com/ctonline/salesagent/internal/scope"
)

func (r *Registry) registerCatalogTools() {
	r.Register(&Tool{
		Name:        "inventory_tool",
		Description: "Conoce el precio, moneda y existencias de un producto por clave y lista de precio.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"clave": map[string]any{
					"type":        "string",
					"description": "Clave del producto",
				},
				"listaPrecio": map[string]any{
					"type":        "integer",
					"description": "Lista de precio a la que pertenece el usuario",
				},
			},
			"required": []string{"clave", "listaPrecio"},
		},
		Handler: r.handleInventory,
	})

	r.Register(&Tool{
		Name:        "sales_rules_tool",
		Description: "Verifica si un producto está en promoción y aplica sus reglas de venta.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"clave": map[string]any{
					"type":        "string",
					"description": "Clave del producto",
				},
				"listaPrecio": map[string]any{
					"type":        "integer",
					"description": "Lista de precio a la que pertenece el usuario",
				},
				"session_id": map[string]any{
					"type":        "string",
					"description": "Identificador de sesión del usuario",
				},
			},
			"required": []string{"clave", "listaPrecio", "session_id"},
		},
		Handler: r.handleSalesRules,
	})

	r.Register(&Tool{
		Name:        "dolar_convertion_tool",
		Description: "Convierte un precio en USD a MXN con el tipo de cambio vigente. Solo para cálculos de presupuesto.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"dolar": map[string]any{
					"type":        "number",
					"description": "Precio exacto del producto en USD",
				},
			},
			"required": []string{"dolar"},
		},
		Handler: r.handleDollarConversion,
	})

	r.Register(&Tool{
		Name:        "status_tool",
		Description: "Consulta el estatus de un pedido por número de factura.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"factura": map[string]any{
					"type":        "string",
					"description": "Folio de la factura del pedido",
				},
				"session_id": map[string]any{
					"type":        "string",
					"description": "Identificador de sesión del usuario",
				},
			},
			"required": []string{"factura", "session_id"},
		},
		Handler: r.handleOrderStatus,
	})
}

func (r *Registry) handleInventory(ctx context.Context, args map[string]any) (string, error) {
	clave := strings.TrimSpace(stringArg(args, "clave"))
	lista := intArg(args, "listaPrecio")
	if clave == "" || lista <= 0 {
		return "", fmt.Errorf("clave and listaPrecio are required")
	}

	row, err := r.catalog.Inventory(ctx, clave, lista)
	if errors.Is(err, catalog.ErrNotFound) {
		return "No se encontró el producto o no tiene existencias.", nil
	}
	if err != nil {
		return "", err
	}

	disponibilidad := fmt.Sprintf("%d unidades disponibles", row.Existencias)
	if row.Digital() {
		// Electronic delivery: stock counts are meaningless.
		disponibilidad = "sí hay disponibles"
	}

	enPromocion := "No"
	if row.EnPromocion {
		enPromocion = "Sí"
	}

	return fmt.Sprintf("%s: precio original: $%.2f %s, %s, ¿en promoción?: %s",
		row.Clave, row.Precio, row.Moneda, disponibilidad, enPromocion), nil
}

func (r *Registry) handleSalesRules(ctx context.Context, args map[string]any) (string, error) {
	clave := strings.TrimSpace(stringArg(args, "clave"))
	lista := intArg(args, "listaPrecio")
	sessionID := stringArg(args, "session_id")
	if clave == "" || lista <= 0 {
		return "", fmt.Errorf("clave and listaPrecio are required")
	}

	// Branch sessions see their branch's promotions on top of the
	// global ones; everyone else sees only the global set.
	branchID := 0
	if sc := scope.Parse(sessionID); sc.Kind == scope.Branch {
		branch, err := r.catalog.BranchByMnemonic(ctx, sc.BranchMnemonic)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			// Unrecognized mnemonic falls back to global promotions.
		case err != nil:
			return "", err
		default:
			branchID = branch.ID
		}
	}

	row, err := r.catalog.Promotion(ctx, clave, lista, branchID)
	if errors.Is(err, catalog.ErrNotFound) {
		return "El producto no está en promoción actualmente.", nil
	}
	if err != nil {
		return "", err
	}

	return FormatPromotion(row), nil
}

// FormatPromotion renders one promotion row's rules. Precedence: an
// offer price above the base price is a price change, not a promotion;
// a positive offer price is the final price; a positive discount shows
// the original struck through next to the discounted price; a
// buy-X-get-Y pair becomes a bundle message. Limit and expiry clauses
// append whenever present, except on price changes.
func FormatPromotion(row *catalog.PromotionRow) string {
	var mensaje []string

	switch {
	case row.PrecioOferta > 0:
		if row.PrecioOferta > row.Precio {
			return fmt.Sprintf("Cambio de precio base: $%.2f %s, ya no se considera promoción",
				row.PrecioOferta, row.Moneda)
		}
		mensaje = append(mensaje, fmt.Sprintf("$%.2f %s", row.PrecioOferta, row.Moneda))
	case row.Descuento > 0:
		final := row.Precio * (1 - row.Descuento/100)
		mensaje = append(mensaje,
			fmt.Sprintf("~$%.2f %s~ $%.2f %s", row.Precio, row.Moneda, final, row.Moneda),
			fmt.Sprintf("%.0f%% de descuento.", row.Descuento))
	case row.EnCompraDe > 0 && row.Unidades > 0:
		mensaje = append(mensaje,
			fmt.Sprintf("En compra de %g, recibe %g gratis.", row.EnCompraDe, row.Unidades))
	}

	if row.LimitadoA > 0 {
		mensaje = append(mensaje, fmt.Sprintf("Limitado a %d", row.LimitadoA))
	}
	if row.FechaFin != "" {
		mensaje = append(mensaje, fmt.Sprintf("Vigente hasta el %s.", row.FechaFin))
	}

	if len(mensaje) == 0 {
		return "El producto no está en promoción actualmente."
	}
	return strings.Join(mensaje, "\n")
}

func (r *Registry) handleDollarConversion(ctx context.Context, args map[string]any) (string, error) {
	dolar := floatArg(args, "dolar")
	if dolar <= 0 {
		return "", fmt.Errorf("dolar must be a positive amount")
	}

	rate, err := r.rates.Rate()
	if err != nil {
		return "", fmt.Errorf("exchange rate unavailable: %w", err)
	}

	return fmt.Sprintf("El equivalente de %g USD es %.3f MXN", dolar, dolar*rate), nil
}

const orderNotFound = "No se encontró el pedido."

func (r *Registry) handleOrderStatus(ctx context.Context, args map[string]any) (string, error) {
	factura := strings.TrimSpace(stringArg(args, "factura"))
	sessionID := stringArg(args, "session_id")
	if factura == "" {
		return "", fmt.Errorf("factura is required")
	}

	order, err := r.catalog.OrderByInvoice(ctx, factura)
	if errors.Is(err, catalog.ErrNotFound) {
		return orderNotFound, nil
	}
	if err != nil {
		return "", err
	}

	// Staff sees any order; a customer only their own. Everything else,
	// including authorization failures, reads as not found so order
	// existence never leaks.
	sc := scope.Parse(sessionID)
	switch sc.Kind {
	case scope.Staff:
	case scope.Customer:
		if order.Cliente != sc.CustomerCode {
			return orderNotFound, nil
		}
	default:
		return orderNotFound, nil
	}

	return r.formatOrderStatus(order), nil
}

func (r *Registry) formatOrderStatus(order *catalog.Order) string {
	switch strings.ToLower(strings.TrimSpace(order.Estatus)) {
	case "pendiente":
		return fmt.Sprintf("El pedido %s está pendiente de confirmación.", order.Folio)
	case "proceso", "en proceso":
		return fmt.Sprintf("El pedido %s está en proceso de preparación.", order.Folio)
	case "enviado":
		if order.FechaEnvio.Valid {
			when := order.FechaEnvio.Time.In(r.location).Format("02/01/2006 15:04")
			return fmt.Sprintf("El pedido %s fue enviado el %s (hora local).", order.Folio, when)
		}
		return fmt.Sprintf("El pedido %s fue enviado.", order.Folio)
	case "entregado":
		return fmt.Sprintf("El pedido %s ya fue entregado.", order.Folio)
	case "cancelado":
		return fmt.Sprintf("El pedido %s fue cancelado.", order.Folio)
	default:
		return fmt.Sprintf("El pedido %s tiene estatus: %s.", order.Folio, order.Estatus)
	}
}
