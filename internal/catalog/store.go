// Package catalog reads the commercial relational database: products,
// stock, price lists, promotions, branches, orders, and the exchange
// rate. Access is strictly read-only.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/go-sql-driver/mysql"
)

// ErrNotFound marks lookups with no matching row.
var ErrNotFound = errors.New("not found")

// Store wraps the catalog database handle.
type Store struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// Open connects to the catalog database. The DSN should carry
// parseTime so DATETIME columns scan into time.Time.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewStore(db), nil
}

// NewStore wraps an existing handle. Used directly by tests.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// Close releases the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// currencyName maps the idMoneda column to its display code.
func currencyName(id int) string {
	if id == 1 {
		return "MXN"
	}
	return "USD"
}

// InventoryRow is one product's price and stock for a price list.
type InventoryRow struct {
	Clave       string
	Existencias int
	Precio      float64
	Moneda      string
	Modelo      string
	Activo      bool
	EnPromocion bool
}

// Digital reports whether the product is delivered electronically.
// Digital products never run out of stock.
func (r *InventoryRow) Digital() bool {
	return strings.EqualFold(r.Modelo, "ESD") && r.Activo
}

// Inventory returns price, currency, and summed stock for a product on
// one price list, plus whether any promotion references it.
func (s *Store) Inventory(ctx context.Context, clave string, listaPrecio int) (*InventoryRow, error) {
	query, args, err := s.sb.
		Select(
			"pro.clave",
			"COALESCE(SUM(e.cantidad), 0) AS existencias",
			"COALESCE(pre.precio, 0) AS precio",
			"COALESCE(pre.idMoneda, 1) AS moneda",
			"COALESCE(pro.modelo, '') AS modelo",
			"pro.activo",
			"EXISTS(SELECT 1 FROM promociones WHERE producto = pro.clave) AS en_promocion",
		).
		From("productos pro").
		LeftJoin("existencias e ON pro.idProductos = e.idProductos").
		LeftJoin("precio pre ON pro.idProductos = pre.idProducto AND pre.listaPrecio = ?", listaPrecio).
		Where(sq.Eq{"pro.clave": clave}).
		GroupBy("pro.idProductos", "pre.precio", "pre.idMoneda").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build inventory query: %w", err)
	}

	var row InventoryRow
	var monedaID int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&row.Clave, &row.Existencias, &row.Precio, &monedaID,
		&row.Modelo, &row.Activo, &row.EnPromocion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory %s: %w", clave, err)
	}
	row.Moneda = currencyName(monedaID)
	return &row, nil
}

// PromotionRow holds a promotion's rule fields plus the product's base
// price on the caller's price list.
type PromotionRow struct {
	Precio       float64
	Moneda       string
	PrecioOferta float64
	Descuento    float64
	EnCompraDe   float64
	Unidades     float64
	LimitadoA    int
	FechaFin     string
}

// Promotion returns the active promotion row for a product on one
// price list. branchID narrows to branch-specific promotions when the
// session is scoped to a branch; zero matches only global promotions.
func (s *Store) Promotion(ctx context.Context, clave string, listaPrecio, branchID int) (*PromotionRow, error) {
	scope := sq.Or{sq.Eq{"prm.idSucursal": nil}, sq.Eq{"prm.idSucursal": 0}}
	if branchID > 0 {
		scope = append(scope, sq.Eq{"prm.idSucursal": branchID})
	}

	query, args, err := s.sb.
		Select(
			"COALESCE(pre.precio, 0) AS precio",
			"COALESCE(pre.idMoneda, 1) AS moneda",
			"COALESCE(prm.precio_oferta, 0)",
			"COALESCE(prm.descuento, 0)",
			"COALESCE(prm.EnCompraDe, 0)",
			"COALESCE(prm.Unidades, 0)",
			"COALESCE(prm.limitadoA, 0)",
			"COALESCE(DATE_FORMAT(prm.fecha_fin, '%d/%m/%Y'), '')",
		).
		From("promociones prm").
		Join("productos pro ON pro.clave = prm.producto").
		LeftJoin("precio pre ON pro.idProductos = pre.idProducto AND pre.listaPrecio = ?", listaPrecio).
		Where(sq.Eq{"prm.producto": clave}).
		Where(scope).
		OrderBy("prm.idSucursal DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build promotion query: %w", err)
	}

	var row PromotionRow
	var monedaID int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&row.Precio, &monedaID, &row.PrecioOferta, &row.Descuento,
		&row.EnCompraDe, &row.Unidades, &row.LimitadoA, &row.FechaFin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query promotion %s: %w", clave, err)
	}
	row.Moneda = currencyName(monedaID)
	return &row, nil
}

// Branch is one physical store from the sucursales directory.
type Branch struct {
	ID        int
	Mnemonico string
	Nombre    string
	Direccion string
	Ciudad    string
	Horario   string
	Telefono  string
}

// BranchByMnemonic resolves a branch by its short code (e.g. HMO).
// The comparison is case-insensitive; mnemonics are stored uppercased.
func (s *Store) BranchByMnemonic(ctx context.Context, mnemonic string) (*Branch, error) {
	query, args, err := s.sb.
		Select("idSucursal", "mnemonico", "nombre", "direccion", "ciudad", "horario", "telefono").
		From("sucursales").
		Where(sq.Eq{"mnemonico": strings.ToUpper(mnemonic)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build branch query: %w", err)
	}

	var b Branch
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&b.ID, &b.Mnemonico, &b.Nombre, &b.Direccion, &b.Ciudad, &b.Horario, &b.Telefono,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query branch %s: %w", mnemonic, err)
	}
	return &b, nil
}

// Branches returns the full branch directory.
func (s *Store) Branches(ctx context.Context) ([]Branch, error) {
	query, args, err := s.sb.
		Select("idSucursal", "mnemonico", "nombre", "direccion", "ciudad", "horario", "telefono").
		From("sucursales").
		OrderBy("nombre").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build branches query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query branches: %w", err)
	}
	defer rows.Close()

	var out []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.Mnemonico, &b.Nombre, &b.Direccion, &b.Ciudad, &b.Horario, &b.Telefono); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Order is one order header with its fulfillment state.
type Order struct {
	Folio      string
	Cliente    string
	Estatus    string
	FechaEnvio sql.NullTime
}

// OrderByInvoice looks up an order by its invoice folio. Authorization
// happens in the caller; this is the bare lookup.
func (s *Store) OrderByInvoice(ctx context.Context, factura string) (*Order, error) {
	query, args, err := s.sb.
		Select("folio", "cliente", "estatus", "fecha_envio").
		From("pedidos").
		Where(sq.Eq{"folio": factura}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build order query: %w", err)
	}

	var o Order
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&o.Folio, &o.Cliente, &o.Estatus, &o.FechaEnvio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order %s: %w", factura, err)
	}
	return &o, nil
}

// PriceList resolves a client key to its assigned price list.
func (s *Store) PriceList(ctx context.Context, clienteClave string) (int, error) {
	query, args, err := s.sb.
		Select("listaPrecio").
		From("clientes").
		Where(sq.Eq{"clave": clienteClave}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build price list query: %w", err)
	}

	var lista int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&lista)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query price list for %s: %w", clienteClave, err)
	}
	return lista, nil
}

// DollarRate reads the current USD to MXN conversion factor.
func (s *Store) DollarRate(ctx context.Context) (float64, error) {
	query, _, err := s.sb.
		Select("filtro").
		From("monedas_api").
		Limit(1).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build rate query: %w", err)
	}

	var rate float64
	err = s.db.QueryRowContext(ctx, query).Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query dollar rate: %w", err)
	}
	return rate, nil
}
