package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wineops/stocksync/internal/clockx"
	"github.com/wineops/stocksync/internal/core/domain"
	"github.com/wineops/stocksync/internal/port"
)

// Engine is the surface the UI talks to. It routes transient store
// failures into the offline queue instead of failing the user flow, and it
// replays queued operations through the same updater path on drain.
type Engine struct {
	updater    *Updater
	queue      *OfflineQueue
	reconciler *Reconciler
	orders     *OrderService
	state      *StateCache
	store      port.StockStore
	log        zerolog.Logger
}

func NewEngine(stock port.StockStore, orderStore port.OrderStore, ops port.OperationStore, feed port.EventFeed, clock clockx.Clock, log zerolog.Logger) *Engine {
	state := NewStateCache()
	updater := NewUpdater(stock, state, clock, log)
	e := &Engine{
		updater: updater,
		orders:  NewOrderService(orderStore, updater, clock, log),
		state:   state,
		store:   stock,
		log:     log.With().Str("component", "engine").Logger(),
	}
	e.queue = NewOfflineQueue(ops, e, clock, log)
	e.reconciler = NewReconciler(feed, stock, state, updater, clock, log)
	return e
}

// UpdateQuantity sets an item's bottle count. Returns queued=true when the
// store was unreachable and the mutation went into the offline queue.
func (e *Engine) UpdateQuantity(ctx context.Context, itemID string, qty int) (rec *domain.StockRecord, queued bool, err error) {
	rec, err = e.updater.UpdateQuantity(ctx, itemID, qty)
	if errors.Is(err, port.ErrUnavailable) {
		return nil, true, e.enqueue(ctx, domain.OpUpdateQuantity, domain.QuantityPayload{ItemID: itemID, Quantity: domain.ClampQuantity(qty)})
	}
	return rec, false, err
}

// UpdateQuantities applies the single-item contract per item, no cross-row
// rollback.
func (e *Engine) UpdateQuantities(ctx context.Context, quantities map[string]int) []BatchResult {
	results := e.updater.UpdateQuantities(ctx, quantities)
	for i, r := range results {
		if errors.Is(r.Err, port.ErrUnavailable) {
			qerr := e.enqueue(ctx, domain.OpUpdateQuantity, domain.QuantityPayload{ItemID: r.ItemID, Quantity: domain.ClampQuantity(quantities[r.ItemID])})
			if qerr == nil {
				results[i].Err = nil
			} else {
				results[i].Err = qerr
			}
		}
	}
	return results
}

// UpdateThreshold sets an item's low-stock level.
func (e *Engine) UpdateThreshold(ctx context.Context, itemID string, min int) (rec *domain.StockRecord, queued bool, err error) {
	rec, err = e.updater.UpdateThreshold(ctx, itemID, min)
	if errors.Is(err, port.ErrUnavailable) {
		return nil, true, e.enqueue(ctx, domain.OpUpdateThreshold, domain.ThresholdPayload{ItemID: itemID, MinThreshold: min})
	}
	return rec, false, err
}

func (e *Engine) enqueue(ctx context.Context, typ domain.OpType, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = e.queue.Enqueue(ctx, typ, b)
	return err
}

// Execute replays one queued operation. Implements Executor for the
// offline queue; conflicts bubble up as port.ErrVersionConflict and the
// queue treats them as terminal.
func (e *Engine) Execute(ctx context.Context, op domain.PendingOperation) error {
	switch op.Type {
	case domain.OpUpdateQuantity:
		var p domain.QuantityPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return &domain.ValidationError{Field: "payload", Reason: "malformed quantity payload"}
		}
		_, err := e.updater.UpdateQuantity(ctx, p.ItemID, p.Quantity)
		return err
	case domain.OpUpdateThreshold:
		var p domain.ThresholdPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return &domain.ValidationError{Field: "payload", Reason: "malformed threshold payload"}
		}
		_, err := e.updater.UpdateThreshold(ctx, p.ItemID, p.MinThreshold)
		return err
	case domain.OpUpdateItemFields:
		var p domain.ItemFieldsPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return &domain.ValidationError{Field: "payload", Reason: "malformed item fields payload"}
		}
		return e.store.UpdateItemFields(ctx, p.ItemID, p.Fields)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

// Run consumes the push feed until ctx is cancelled. Subscribe failure is
// non-fatal: the engine keeps serving writes and manual refreshes.
func (e *Engine) Run(ctx context.Context) {
	if err := e.reconciler.Run(ctx); err != nil && ctx.Err() == nil {
		e.log.Warn().Err(err).Msg("realtime channel down")
	}
}

// Drain replays the offline queue; call on connectivity (re-)detection.
func (e *Engine) Drain(ctx context.Context) error { return e.queue.Drain(ctx) }

func (e *Engine) PendingOperations(ctx context.Context) ([]domain.PendingOperation, error) {
	return e.queue.PendingOperations(ctx)
}

func (e *Engine) ConfirmReceipt(ctx context.Context, orderID string, overrides map[string]int) (*ConfirmResult, error) {
	return e.orders.ConfirmReceipt(ctx, orderID, overrides)
}

func (e *Engine) MarkSent(ctx context.Context, orderID string) (*domain.Order, error) {
	return e.orders.MarkSent(ctx, orderID)
}

func (e *Engine) CreateOrder(ctx context.Context, supplierRef string, lines []domain.OrderLine) (*domain.Order, error) {
	return e.orders.CreateOrder(ctx, supplierRef, lines)
}

func (e *Engine) ActiveOrders(ctx context.Context) ([]domain.Order, error) {
	return e.orders.ActiveOrders(ctx)
}

func (e *Engine) ArchivedOrders(ctx context.Context) ([]domain.Order, error) {
	return e.orders.ArchivedOrders(ctx)
}

// Status reports the push-feed connection state.
func (e *Engine) Status() port.FeedStatus { return e.reconciler.Status() }

// Stock is the local view the UI renders from.
func (e *Engine) Stock() []domain.StockRecord { return e.state.Snapshot() }

// Notes is the externally-applied-change feed for toasts.
func (e *Engine) Notes() <-chan ChangeNote { return e.state.Notes() }
