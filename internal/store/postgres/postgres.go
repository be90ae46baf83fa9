package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/ledger"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates any missing tables. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn in a read committed transaction. Writers take row locks with
// SELECT ... FOR UPDATE, so a waiting writer sees the committed lot state.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Items

const itemColumns = `id, name, category_id, min_stock_level, last_cost_cents, active, created_at, updated_at`

func scanItem(row rowScanner) (domain.Item, error) {
	var item domain.Item
	err := row.Scan(&item.ID, &item.Name, &item.CategoryID, &item.MinStockLevel, &item.LastCostCents, &item.Active, &item.CreatedAt, &item.UpdatedAt)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, err
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if strings.TrimSpace(item.Name) == "" || item.MinStockLevel < 0 {
		return nil, store.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	now := time.Now().UTC()
	item.Active = true
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, category_id, min_stock_level, last_cost_cents, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, item.ID, item.Name, item.CategoryID, item.MinStockLevel, item.LastCostCents, item.Active, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.Errorf(store.ErrInvalidInput, "item "+item.ID+" already exists")
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context, activeOnly bool) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE ($1 = false OR active = true)
		ORDER BY category_id, name, id
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if strings.TrimSpace(item.Name) == "" || item.MinStockLevel < 0 {
		return nil, store.ErrInvalidInput
	}

	updated, err := scanItem(s.db.QueryRowContext(ctx, `
		UPDATE items
		SET name = $2, category_id = $3, min_stock_level = $4, active = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+itemColumns, item.ID, item.Name, item.CategoryID, item.MinStockLevel, item.Active))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

// lockActiveItem takes the item row lock that serializes every lot mutation
// for the item.
func lockActiveItem(ctx context.Context, tx *sql.Tx, itemID string) error {
	var active bool
	err := tx.QueryRowContext(ctx, `SELECT active FROM items WHERE id = $1 FOR UPDATE`, itemID).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Errorf(store.ErrNotFound, "item "+itemID)
		}
		return err
	}
	if !active {
		return store.Errorf(store.ErrInactiveEntity, "item "+itemID+" is inactive")
	}
	return nil
}

// Purchases

const purchaseColumns = `id, item_id, quantity, remaining, cost_per_unit_cents, total_cost_cents, purchased_at,
	COALESCE(supplier, ''), COALESCE(notes, ''), active, created_at, updated_at`

func scanPurchase(row rowScanner) (domain.PurchaseRecord, error) {
	var p domain.PurchaseRecord
	err := row.Scan(&p.ID, &p.ItemID, &p.Quantity, &p.Remaining, &p.CostPerUnitCents, &p.TotalCostCents, &p.PurchasedAt,
		&p.Supplier, &p.Notes, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	p.PurchasedAt = p.PurchasedAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func collectPurchases(rows *sql.Rows) ([]domain.PurchaseRecord, error) {
	defer rows.Close()

	purchases := make([]domain.PurchaseRecord, 0, 32)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return purchases, nil
}

func (s *Store) CreatePurchase(ctx context.Context, purchase domain.PurchaseRecord) (*domain.PurchaseRecord, error) {
	if purchase.ItemID == "" || purchase.Quantity < 1 || purchase.CostPerUnitCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	now := time.Now().UTC()
	if purchase.PurchasedAt.IsZero() {
		purchase.PurchasedAt = now
	}
	purchase.PurchasedAt = purchase.PurchasedAt.UTC()
	purchase.Remaining = purchase.Quantity
	purchase.Active = true
	purchase.CreatedAt = now
	purchase.UpdatedAt = now
	purchase.RecomputeTotal()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockActiveItem(ctx, tx, purchase.ItemID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO purchases (
				id, item_id, quantity, remaining, cost_per_unit_cents, total_cost_cents,
				purchased_at, supplier, notes, active, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, purchase.ID, purchase.ItemID, purchase.Quantity, purchase.Remaining, purchase.CostPerUnitCents, purchase.TotalCostCents,
			purchase.PurchasedAt, nullIfEmpty(purchase.Supplier), nullIfEmpty(purchase.Notes), purchase.Active, purchase.CreatedAt, purchase.UpdatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE items SET last_cost_cents = $2, updated_at = now() WHERE id = $1
		`, purchase.ItemID, purchase.CostPerUnitCents)
		return err
	})
	if err != nil {
		return nil, err
	}

	created := purchase
	return &created, nil
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.PurchaseRecord, error) {
	p, err := scanPurchase(s.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPurchasesByItem(ctx context.Context, itemID string, activeOnly bool) ([]domain.PurchaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE item_id = $1 AND ($2 = false OR active = true)
		ORDER BY purchased_at, id
	`, itemID, activeOnly)
	if err != nil {
		return nil, err
	}
	return collectPurchases(rows)
}

func (s *Store) ListPurchasesByDateRange(ctx context.Context, from time.Time, to time.Time, activeOnly bool) ([]domain.PurchaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE purchased_at >= $1 AND purchased_at <= $2 AND ($3 = false OR active = true)
		ORDER BY purchased_at, id
	`, from.UTC(), to.UTC(), activeOnly)
	if err != nil {
		return nil, err
	}
	return collectPurchases(rows)
}

func (s *Store) UpdatePurchase(ctx context.Context, id string, patch domain.PurchaseUpdateRequest) (*domain.PurchaseRecord, error) {
	var updated domain.PurchaseRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := scanPurchase(tx.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if err := store.ApplyPurchasePatch(&p, patch, time.Now().UTC()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE purchases
			SET purchased_at = $2, supplier = $3, notes = $4, total_cost_cents = $5, updated_at = $6
			WHERE id = $1
		`, p.ID, p.PurchasedAt, nullIfEmpty(p.Supplier), nullIfEmpty(p.Notes), p.TotalCostCents, p.UpdatedAt); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) SoftDeletePurchase(ctx context.Context, id string) (*domain.PurchaseRecord, error) {
	var deleted domain.PurchaseRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := scanPurchase(tx.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if !p.Active {
			return store.Errorf(store.ErrInactiveEntity, "purchase "+id+" already deleted")
		}
		if p.Remaining != p.Quantity {
			return store.Errorf(store.ErrInvalidInput, "purchase "+id+" has sold units; delete those sales first")
		}
		p.Active = false
		p.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE purchases SET active = false, updated_at = $2 WHERE id = $1`, id, p.UpdatedAt); err != nil {
			return err
		}
		deleted = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

// Lots

func (s *Store) ListLots(ctx context.Context, itemID string) ([]domain.CostLot, error) {
	lots, err := queryLots(ctx, s.db, itemID, false)
	if err != nil {
		return nil, err
	}
	ledger.SortLIFO(lots)
	return lots, nil
}

func (s *Store) ListAllLots(ctx context.Context) (map[string][]domain.CostLot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, quantity, remaining, cost_per_unit_cents, purchased_at
		FROM purchases
		WHERE active = true
	`)
	if err != nil {
		return nil, err
	}
	lots, err := collectLots(rows)
	if err != nil {
		return nil, err
	}

	result := make(map[string][]domain.CostLot)
	for _, lot := range lots {
		result[lot.ItemID] = append(result[lot.ItemID], lot)
	}
	for itemID := range result {
		ledger.SortLIFO(result[itemID])
	}
	return result, nil
}

func queryLots(ctx context.Context, q querier, itemID string, forUpdate bool) ([]domain.CostLot, error) {
	query := `
		SELECT id, item_id, quantity, remaining, cost_per_unit_cents, purchased_at
		FROM purchases
		WHERE item_id = $1 AND active = true
		ORDER BY purchased_at DESC, id DESC`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

func collectLots(rows *sql.Rows) ([]domain.CostLot, error) {
	defer rows.Close()

	lots := make([]domain.CostLot, 0, 16)
	for rows.Next() {
		var lot domain.CostLot
		if err := rows.Scan(&lot.PurchaseID, &lot.ItemID, &lot.Quantity, &lot.Remaining, &lot.CostPerUnitCents, &lot.PurchasedAt); err != nil {
			return nil, err
		}
		lot.PurchasedAt = lot.PurchasedAt.UTC()
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lots, nil
}

// writeLots persists the remaining quantity of every lot that changed.
func writeLots(ctx context.Context, tx *sql.Tx, before []domain.CostLot, after []domain.CostLot) error {
	previous := make(map[string]int, len(before))
	for _, lot := range before {
		previous[lot.PurchaseID] = lot.Remaining
	}
	for _, lot := range after {
		if previous[lot.PurchaseID] == lot.Remaining {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE purchases SET remaining = $2, updated_at = now() WHERE id = $1
		`, lot.PurchaseID, lot.Remaining); err != nil {
			return err
		}
	}
	return nil
}

// Sales

const saleColumns = `id, item_id, quantity, cost_per_unit_cents, cost_total_cents, price_per_unit_cents,
	total_cents, profit_cents, sold_at, payment_channel, COALESCE(notes, ''), active, created_at, updated_at`

func scanSale(row rowScanner) (domain.SaleRecord, error) {
	var sale domain.SaleRecord
	err := row.Scan(&sale.ID, &sale.ItemID, &sale.Quantity, &sale.CostPerUnitCents, &sale.CostTotalCents, &sale.PricePerUnitCents,
		&sale.TotalCents, &sale.ProfitCents, &sale.SoldAt, &sale.PaymentChannel, &sale.Notes, &sale.Active, &sale.CreatedAt, &sale.UpdatedAt)
	sale.SoldAt = sale.SoldAt.UTC()
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return sale, err
}

// CreateSale locks the item and its lots, reserves stock and writes the sale
// with its allocations in one transaction.
func (s *Store) CreateSale(ctx context.Context, draft store.SaleDraft) (*domain.SaleRecord, error) {
	sale := draft.Sale
	if sale.ItemID == "" || sale.Quantity < 1 || sale.PricePerUnitCents < 0 {
		return nil, store.ErrInvalidInput
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockActiveItem(ctx, tx, sale.ItemID); err != nil {
			return err
		}
		lots, err := queryLots(ctx, tx, sale.ItemID, true)
		if err != nil {
			return err
		}

		allocations, err := ledger.Reserve(lots, sale.Quantity, ledger.Options{PinnedCostCents: draft.PinnedCostCents})
		if err != nil {
			return err
		}
		updated, err := ledger.Apply(lots, allocations)
		if err != nil {
			return err
		}
		if err := writeLots(ctx, tx, lots, updated); err != nil {
			return err
		}

		sale = ledger.BuildSale(sale, allocations)
		now := time.Now().UTC()
		if sale.ID == "" {
			sale.ID = xid.New("sale")
		}
		if sale.SoldAt.IsZero() {
			sale.SoldAt = now
		}
		sale.SoldAt = sale.SoldAt.UTC()
		sale.Active = true
		sale.CreatedAt = now
		sale.UpdatedAt = now

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales (
				id, item_id, quantity, cost_per_unit_cents, cost_total_cents, price_per_unit_cents,
				total_cents, profit_cents, sold_at, payment_channel, notes, active, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, sale.ID, sale.ItemID, sale.Quantity, sale.CostPerUnitCents, sale.CostTotalCents, sale.PricePerUnitCents,
			sale.TotalCents, sale.ProfitCents, sale.SoldAt, sale.PaymentChannel, nullIfEmpty(sale.Notes), sale.Active, sale.CreatedAt, sale.UpdatedAt); err != nil {
			return err
		}
		for i, alloc := range sale.Allocations {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sale_allocations (sale_id, purchase_id, quantity, cost_per_unit_cents, position)
				VALUES ($1,$2,$3,$4,$5)
			`, sale.ID, alloc.PurchaseID, alloc.Quantity, alloc.CostPerUnitCents, i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.SaleRecord, error) {
	sale, err := getSale(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func getSale(ctx context.Context, q querier, id string, forUpdate bool) (domain.SaleRecord, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	sale, err := scanSale(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SaleRecord{}, store.ErrNotFound
		}
		return domain.SaleRecord{}, err
	}
	allocations, err := loadAllocations(ctx, q, []string{id})
	if err != nil {
		return domain.SaleRecord{}, err
	}
	sale.Allocations = allocations[id]
	return sale, nil
}

func (s *Store) ListSalesByItem(ctx context.Context, itemID string, activeOnly bool) ([]domain.SaleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE item_id = $1 AND ($2 = false OR active = true)
		ORDER BY sold_at, id
	`, itemID, activeOnly)
	if err != nil {
		return nil, err
	}
	return s.collectSales(ctx, rows)
}

func (s *Store) ListSalesByDateRange(ctx context.Context, from time.Time, to time.Time, activeOnly bool) ([]domain.SaleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE sold_at >= $1 AND sold_at <= $2 AND ($3 = false OR active = true)
		ORDER BY sold_at, id
	`, from.UTC(), to.UTC(), activeOnly)
	if err != nil {
		return nil, err
	}
	return s.collectSales(ctx, rows)
}

func (s *Store) collectSales(ctx context.Context, rows *sql.Rows) ([]domain.SaleRecord, error) {
	sales := make([]domain.SaleRecord, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(sales) == 0 {
		return sales, nil
	}
	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}
	allocations, err := loadAllocations(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Allocations = allocations[sales[i].ID]
	}
	return sales, nil
}

func loadAllocations(ctx context.Context, q querier, saleIDs []string) (map[string][]domain.LotAllocation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sale_id, purchase_id, quantity, cost_per_unit_cents
		FROM sale_allocations
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]domain.LotAllocation, len(saleIDs))
	for rows.Next() {
		var saleID string
		var alloc domain.LotAllocation
		if err := rows.Scan(&saleID, &alloc.PurchaseID, &alloc.Quantity, &alloc.CostPerUnitCents); err != nil {
			return nil, err
		}
		result[saleID] = append(result[saleID], alloc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateSale(ctx context.Context, id string, patch domain.SaleUpdateRequest, day store.SalesDay) (*domain.SaleRecord, error) {
	var updated domain.SaleRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sale, err := getSale(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := store.ApplySalePatch(&sale, patch, time.Now().UTC()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sales
			SET price_per_unit_cents = $2, total_cents = $3, profit_cents = $4,
				payment_channel = $5, notes = $6, updated_at = $7
			WHERE id = $1
		`, sale.ID, sale.PricePerUnitCents, sale.TotalCents, sale.ProfitCents, sale.PaymentChannel, nullIfEmpty(sale.Notes), sale.UpdatedAt); err != nil {
			return err
		}
		if err := checkTransferCovered(ctx, tx, day); err != nil {
			return err
		}
		updated = sale
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// SoftDeleteSale deactivates the sale and returns its allocations to the lots
// in the same transaction.
func (s *Store) SoftDeleteSale(ctx context.Context, id string, day store.SalesDay) (*domain.SaleRecord, error) {
	var deleted domain.SaleRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sale, err := getSale(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if !sale.Active {
			return store.Errorf(store.ErrInactiveEntity, "sale "+id+" already deleted")
		}

		var itemActive bool
		if err := tx.QueryRowContext(ctx, `SELECT active FROM items WHERE id = $1 FOR UPDATE`, sale.ItemID).Scan(&itemActive); err != nil {
			return err
		}
		lots, err := queryLots(ctx, tx, sale.ItemID, true)
		if err != nil {
			return err
		}
		restored, err := ledger.Restore(lots, sale.Allocations)
		if err != nil {
			return err
		}
		if err := writeLots(ctx, tx, lots, restored); err != nil {
			return err
		}

		sale.Active = false
		sale.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE sales SET active = false, updated_at = $2 WHERE id = $1`, id, sale.UpdatedAt); err != nil {
			return err
		}
		if err := checkTransferCovered(ctx, tx, day); err != nil {
			return err
		}
		deleted = sale
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

// checkTransferCovered runs after the sale row changed so the sum sees the new
// value. The transfer row is locked to keep SaveTransfer from racing it.
func checkTransferCovered(ctx context.Context, tx *sql.Tx, day store.SalesDay) error {
	if day.Date == "" {
		return nil
	}
	var transferred int64
	err := tx.QueryRowContext(ctx, `SELECT total_cents FROM daily_transfers WHERE transfer_date = $1 FOR UPDATE`, day.Date).Scan(&transferred)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	var sold int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_cents), 0) FROM sales
		WHERE active AND sold_at >= $1 AND sold_at <= $2
	`, day.From, day.To).Scan(&sold); err != nil {
		return err
	}
	return store.CheckTransferCovered(day.Date, transferred, sold)
}

// Transfers

func (s *Store) GetTransfer(ctx context.Context, date string) (*domain.DailyTransfer, error) {
	var t domain.DailyTransfer
	var note sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT transfer_date, cash_cents, mobile_wallet_cents, bank_cents, total_cents, note, updated_at
		FROM daily_transfers
		WHERE transfer_date = $1
	`, date).Scan(&t.Date, &t.CashCents, &t.MobileWalletCents, &t.BankCents, &t.TotalCents, &note, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	t.Note = note.String
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func (s *Store) UpsertTransfer(ctx context.Context, transfer domain.DailyTransfer, maxTotalCents int64) (*domain.DailyTransfer, error) {
	if transfer.Date == "" || transfer.CashCents < 0 || transfer.MobileWalletCents < 0 || transfer.BankCents < 0 {
		return nil, store.ErrInvalidInput
	}
	transfer.RecomputeTotal()
	if transfer.TotalCents > maxTotalCents {
		return nil, store.ErrTransferExceedsSales
	}
	transfer.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_transfers (transfer_date, cash_cents, mobile_wallet_cents, bank_cents, total_cents, note, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (transfer_date)
		DO UPDATE SET
			cash_cents = EXCLUDED.cash_cents,
			mobile_wallet_cents = EXCLUDED.mobile_wallet_cents,
			bank_cents = EXCLUDED.bank_cents,
			total_cents = EXCLUDED.total_cents,
			note = EXCLUDED.note,
			updated_at = EXCLUDED.updated_at
	`, transfer.Date, transfer.CashCents, transfer.MobileWalletCents, transfer.BankCents, transfer.TotalCents, nullIfEmpty(transfer.Note), transfer.UpdatedAt)
	if err != nil {
		return nil, err
	}

	saved := transfer
	return &saved, nil
}

// Users

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
