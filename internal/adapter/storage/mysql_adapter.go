package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"

	"github.com/wineops/stocksync/internal/core/domain"
	"github.com/wineops/stocksync/internal/port"
)

// MySQLAdapter implements port.StockStore and port.OrderStore with
// conditional writes: every StockRecord/Order update carries the expected
// version and matches zero rows when it is stale.
type MySQLAdapter struct {
	db  *sql.DB
	pub port.FeedPublisher // optional; row events after committed writes
}

func NewMySQLAdapter(db *sql.DB, pub port.FeedPublisher) *MySQLAdapter {
	return &MySQLAdapter{db: db, pub: pub}
}

// classify maps driver-level failures to the transient taxonomy so callers
// can queue instead of erroring the user flow.
func classify(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, port.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (m *MySQLAdapter) GetStock(ctx context.Context, stockID string) (*domain.StockRecord, error) {
	return m.scanStock(m.db.QueryRowContext(ctx, `
		SELECT id, item_id, quantity, min_threshold, version, updated_at
		FROM stock_records WHERE id = ?`, stockID))
}

func (m *MySQLAdapter) GetStockByItem(ctx context.Context, itemID string) (*domain.StockRecord, error) {
	return m.scanStock(m.db.QueryRowContext(ctx, `
		SELECT id, item_id, quantity, min_threshold, version, updated_at
		FROM stock_records WHERE item_id = ?`, itemID))
}

func (m *MySQLAdapter) scanStock(row *sql.Row) (*domain.StockRecord, error) {
	var rec domain.StockRecord
	err := row.Scan(&rec.ID, &rec.ItemID, &rec.Quantity, &rec.MinThreshold, &rec.Version, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("query stock", err)
	}
	return &rec, nil
}

func (m *MySQLAdapter) ListStock(ctx context.Context) ([]domain.StockRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, item_id, quantity, min_threshold, version, updated_at
		FROM stock_records ORDER BY item_id`)
	if err != nil {
		return nil, classify("list stock", err)
	}
	defer rows.Close()

	var out []domain.StockRecord
	for rows.Next() {
		var rec domain.StockRecord
		if err := rows.Scan(&rec.ID, &rec.ItemID, &rec.Quantity, &rec.MinThreshold, &rec.Version, &rec.UpdatedAt); err != nil {
			return nil, classify("scan stock", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) InsertStock(ctx context.Context, rec domain.StockRecord) (*domain.StockRecord, error) {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO stock_records (id, item_id, quantity, min_threshold, version, updated_at)
		VALUES (?, ?, ?, ?, 1, NOW())`,
		rec.ID, rec.ItemID, rec.Quantity, rec.MinThreshold,
	)
	if err != nil {
		return nil, classify("insert stock", err)
	}
	stored, err := m.GetStock(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	m.publishStock(ctx, domain.EventInsert, stored)
	return stored, nil
}

func (m *MySQLAdapter) UpdateStock(ctx context.Context, rec domain.StockRecord) (*domain.StockRecord, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE stock_records
		SET quantity = ?, min_threshold = ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND version = ?`,
		rec.Quantity, rec.MinThreshold, rec.ID, rec.Version,
	)
	if err != nil {
		return nil, classify("update stock", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, port.ErrVersionConflict
	}
	stored, err := m.GetStock(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	m.publishStock(ctx, domain.EventUpdate, stored)
	return stored, nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	var item domain.Item
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, quantity FROM items WHERE id = ?`, itemID,
	).Scan(&item.ID, &item.Name, &item.Quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("query item", err)
	}
	return &item, nil
}

func (m *MySQLAdapter) UpdateItemFields(ctx context.Context, itemID string, fields map[string]string) error {
	// name is the only catalog field editable through this core
	name, ok := fields["name"]
	if !ok {
		return &domain.ValidationError{Field: "fields", Reason: "no editable field"}
	}
	_, err := m.db.ExecContext(ctx, `UPDATE items SET name = ? WHERE id = ?`, name, itemID)
	if err != nil {
		return classify("update item", err)
	}
	if m.pub != nil {
		_ = m.pub.Publish(ctx, domain.TableCatalog, domain.MarshalRowEvent(domain.EventUpdate, domain.TableCatalog, nil, itemID))
	}
	return nil
}

func (m *MySQLAdapter) publishStock(ctx context.Context, typ domain.EventType, rec *domain.StockRecord) {
	if m.pub == nil || rec == nil {
		return
	}
	_ = m.pub.Publish(ctx, domain.TableStock, domain.MarshalRowEvent(typ, domain.TableStock, rec, rec.ID))
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, supplier_ref, state, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)`,
		order.ID, order.SupplierRef, order.State, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return classify("insert order", err)
	}
	if err := insertLines(ctx, tx, order.ID, order.Lines); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var o domain.Order
	err := m.db.QueryRowContext(ctx, `
		SELECT id, supplier_ref, state, version, created_at, updated_at
		FROM orders WHERE id = ?`, orderID,
	).Scan(&o.ID, &o.SupplierRef, &o.State, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("query order", err)
	}
	if o.Lines, err = m.orderLines(ctx, orderID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (m *MySQLAdapter) orderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT item_id, quantity, unit, unit_price_cents, received_qty
		FROM order_lines WHERE order_id = ? ORDER BY position`, orderID)
	if err != nil {
		return nil, classify("query order lines", err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ItemID, &l.Quantity, &l.Unit, &l.UnitPriceCents, &l.ReceivedQty); err != nil {
			return nil, classify("scan order line", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// UpdateOrder rewrites the order row and its lines in one transaction. The
// state transition and line rewrite land together or not at all, guarded
// by the order's version.
func (m *MySQLAdapter) UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin tx", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET supplier_ref = ?, state = ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND version = ?`,
		order.SupplierRef, order.State, order.ID, order.Version,
	)
	if err != nil {
		return nil, classify("update order", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, port.ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = ?`, order.ID); err != nil {
		return nil, classify("clear order lines", err)
	}
	if err := insertLines(ctx, tx, order.ID, order.Lines); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, classify("commit order", err)
	}
	return m.GetOrder(ctx, order.ID)
}

func insertLines(ctx context.Context, tx *sql.Tx, orderID string, lines []domain.OrderLine) error {
	for i, l := range lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, position, item_id, quantity, unit, unit_price_cents, received_qty)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			orderID, i, l.ItemID, l.Quantity, l.Unit, l.UnitPriceCents, l.ReceivedQty,
		)
		if err != nil {
			return classify("insert order line", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, state domain.OrderState) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, supplier_ref, state, version, created_at, updated_at
		FROM orders WHERE state = ? ORDER BY created_at`, state)
	if err != nil {
		return nil, classify("list orders", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.SupplierRef, &o.State, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, classify("scan order", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Lines, err = m.orderLines(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
