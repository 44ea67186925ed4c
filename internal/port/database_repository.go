package port

import (
	"context"

	"github.com/wineops/stocksync/internal/core/domain"
)

type StockStore interface {
	// GetStock retrieves a stock record by its own id. Returns (nil, nil)
	// when no record exists.
	GetStock(ctx context.Context, stockID string) (*domain.StockRecord, error)

	// GetStockByItem retrieves the stock record for an item. Returns
	// (nil, nil) when the item has no record yet.
	GetStockByItem(ctx context.Context, itemID string) (*domain.StockRecord, error)

	// ListStock returns all stock records.
	ListStock(ctx context.Context) ([]domain.StockRecord, error)

	// InsertStock creates the record at version 1 and returns the stored row.
	InsertStock(ctx context.Context, rec domain.StockRecord) (*domain.StockRecord, error)

	// UpdateStock writes quantity/threshold conditional on rec.Version and
	// returns the new row. ErrVersionConflict when zero rows matched.
	UpdateStock(ctx context.Context, rec domain.StockRecord) (*domain.StockRecord, error)

	// GetItem reads the catalog row, used to seed lazy record creation.
	// Returns (nil, nil) when unknown.
	GetItem(ctx context.Context, itemID string) (*domain.Item, error)

	// UpdateItemFields patches whitelisted catalog fields; used when a
	// queued catalog edit is replayed.
	UpdateItemFields(ctx context.Context, itemID string, fields map[string]string) error
}

type OrderStore interface {
	// CreateOrder persists a new order and its lines.
	CreateOrder(ctx context.Context, order domain.Order) error

	// GetOrder retrieves an order with its lines. Returns (nil, nil) when
	// unknown.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// UpdateOrder rewrites state and lines in one transaction conditional
	// on order.Version. ErrVersionConflict when zero rows matched.
	UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)

	// ListOrders returns orders in the given state, oldest first.
	ListOrders(ctx context.Context, state domain.OrderState) ([]domain.Order, error)
}
