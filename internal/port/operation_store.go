package port

import (
	"context"

	"github.com/wineops/stocksync/internal/core/domain"
)

// OperationStore is durable local persistence for pending operations. It
// must survive process restarts.
type OperationStore interface {
	// Put inserts or overwrites an operation.
	Put(ctx context.Context, op domain.PendingOperation) error

	// Delete removes an operation entirely.
	Delete(ctx context.Context, op domain.PendingOperation) error

	// List returns all stored operations, FIFO by creation time.
	List(ctx context.Context) ([]domain.PendingOperation, error)

	Close() error
}
