package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ctonline/salesagent/internal/catalog"
)

// companyDescription is the fixed identity text served by who_are_we.
const companyDescription = `¿Quiénes somos?
CT Internacional es una empresa 100% mexicana y el distribuidor líder de soluciones en Tecnologías de la Información (TI). Somos la opción preferida de distribuidores e integradores de tecnología para hacer negocios.

Contamos con presencia en todos los estados del país a través de 52 sucursales y un canal de distribución conformado por más de 31,000 clientes y aliados estratégicos. Les ofrecemos un amplio catálogo de productos y servicios de más de 202 marcas agrupadas en 12 unidades de negocio. Además, generamos empleo para más de 1,000 colaboradores.

Nuestros valores:
* **Pasión:** Amamos lo que hacemos y trabajamos con entusiasmo y compromiso para ganar la lealtad de nuestros socios de negocio.
* **Trabajo en equipo:** Sumamos fortalezas para alcanzar objetivos comunes y lograr resultados extraordinarios.
* **Honestidad:** Actuamos con honradez e integridad, viviendo los ideales de CT.
* **Innovación:** Somos creativos y nos reinventamos constantemente para ofrecer más valor.
* **Servicio al cliente:** El cliente es primero; trabajamos cada día para superar sus expectativas.
* **Responsabilidad:** Estamos comprometidos con el desarrollo sustentable de nuestra sociedad.
* **Calidad:** Hacemos las cosas bien desde la primera vez para obtener resultados que nos distingan.

**Misión:** Elevar la competitividad y productividad de las personas y organizaciones para que alcancen su máximo potencial mediante el uso de la tecnología.

**Visión:** Ser la empresa líder en México que proporcione soluciones integrales de tecnología a todas las personas y organizaciones.`

func (r *Registry) registerCompanyTools() {
	r.Register(&Tool{
		Name:        "who_are_we",
		Description: "Información sobre CT Internacional: quiénes somos, valores, misión y visión.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return companyDescription, nil
		},
	})

	r.Register(&Tool{
		Name:        "get_sucursales_info",
		Description: "Consulta ubicación, dirección, horarios, teléfonos y directorio de sucursales.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Consulta del usuario sobre sucursales (ciudad, nombre o mnemónico)",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleSucursalesInfo,
	})
}

// handleSucursalesInfo returns branch directory rows that match the
// query, or the full directory when nothing matches specifically. The
// model picks out what the user asked for.
func (r *Registry) handleSucursalesInfo(ctx context.Context, args map[string]any) (string, error) {
	query := strings.ToLower(strings.TrimSpace(stringArg(args, "query")))

	branches, err := r.catalog.Branches(ctx)
	if err != nil {
		return "", fmt.Errorf("load branch directory: %w", err)
	}
	if len(branches) == 0 {
		return "No hay sucursales registradas.", nil
	}

	matches := branches
	if query != "" {
		var filtered []string
		for _, b := range branches {
			haystack := strings.ToLower(strings.Join([]string{b.Mnemonico, b.Nombre, b.Direccion, b.Ciudad}, " "))
			if strings.Contains(haystack, query) {
				filtered = append(filtered, formatBranch(b))
			}
		}
		if len(filtered) > 0 {
			return strings.Join(filtered, "\n"), nil
		}
	}

	lines := make([]string, len(matches))
	for i, b := range matches {
		lines[i] = formatBranch(b)
	}
	return strings.Join(lines, "\n"), nil
}

func formatBranch(b catalog.Branch) string {
	return fmt.Sprintf("%s (%s): %s, %s. Horario: %s. Tel: %s",
		b.Nombre, b.Mnemonico, b.Direccion, b.Ciudad, b.Horario, b.Telefono)
}
