package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wineops/stocksync/internal/clockx"
	"github.com/wineops/stocksync/internal/core/domain"
	"github.com/wineops/stocksync/internal/port"
)

var (
	// ErrDuplicateConfirm means a confirmation for the same order is
	// already in flight; the duplicate is dropped, not executed.
	ErrDuplicateConfirm = errors.New("confirmation already in flight")

	ErrOrderNotFound = errors.New("order not found")
)

// auditThrottle limits audit entries per (action, orderID) pair so rapid UI
// interaction can't flood the log.
const auditThrottle = 1 * time.Second

type auditLog struct {
	log   zerolog.Logger
	clock clockx.Clock
	mu    sync.Mutex
	last  map[string]time.Time
}

func newAuditLog(log zerolog.Logger, clock clockx.Clock) *auditLog {
	return &auditLog{log: log, clock: clock, last: make(map[string]time.Time)}
}

func (a *auditLog) Emit(action, orderID string, before, after any) {
	key := action + ":" + orderID
	now := a.clock.Now()
	a.mu.Lock()
	if prev, ok := a.last[key]; ok && now.Sub(prev) < auditThrottle {
		a.mu.Unlock()
		return
	}
	a.last[key] = now
	a.mu.Unlock()

	a.log.Info().
		Str("audit_action", action).
		Str("order_id", orderID).
		Interface("before", before).
		Interface("after", after).
		Time("at", now).
		Msg("audit")
}

// LineResult reports the stock application outcome for one order line.
type LineResult struct {
	ItemID  string
	Applied int // base units added to stock
	Err     error
}

// ConfirmResult is the outcome of a receipt confirmation.
type ConfirmResult struct {
	Order *domain.Order
	Lines []LineResult
}

// OrderService drives the supplier-order lifecycle
// (pending -> sent -> archived) and performs the one operation that
// matters: applying operator-confirmed received quantities to both the
// order record and the stock counts.
type OrderService struct {
	orders  port.OrderStore
	updater *Updater
	clock   clockx.Clock
	log     zerolog.Logger
	audit   *auditLog

	mu       sync.Mutex
	inflight map[string]struct{}
	archived map[string]struct{}
}

func NewOrderService(orders port.OrderStore, updater *Updater, clock clockx.Clock, log zerolog.Logger) *OrderService {
	l := log.With().Str("component", "orders").Logger()
	return &OrderService{
		orders:   orders,
		updater:  updater,
		clock:    clock,
		log:      l,
		audit:    newAuditLog(l, clock),
		inflight: make(map[string]struct{}),
		archived: make(map[string]struct{}),
	}
}

// CreateOrder registers a new pending order.
func (s *OrderService) CreateOrder(ctx context.Context, supplierRef string, lines []domain.OrderLine) (*domain.Order, error) {
	if len(lines) == 0 {
		return nil, &domain.ValidationError{Field: "lines", Reason: "empty"}
	}
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		if l.ItemID == "" {
			return nil, &domain.ValidationError{Field: "item_id", Reason: "required"}
		}
		// one line per item keeps confirm overrides unambiguous
		if seen[l.ItemID] {
			return nil, &domain.ValidationError{Field: "item_id", Reason: "duplicate line for item"}
		}
		seen[l.ItemID] = true
		if l.Quantity <= 0 {
			return nil, &domain.ValidationError{Field: "quantity", Reason: "must be > 0"}
		}
		if l.Unit != domain.UnitSingle && l.Unit != domain.UnitCase {
			return nil, &domain.ValidationError{Field: "unit", Reason: "must be unit or case"}
		}
		if l.UnitPriceCents < 0 {
			return nil, &domain.ValidationError{Field: "unit_price_cents", Reason: "must be >= 0"}
		}
	}
	now := s.clock.Now()
	order := domain.Order{
		ID:          uuid.NewString(),
		SupplierRef: supplierRef,
		Lines:       lines,
		State:       domain.OrderStatePending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	s.audit.Emit("order_created", order.ID, nil, order.State)
	return &order, nil
}

// MarkSent transitions pending -> sent when the order is dispatched to the
// supplier.
func (s *OrderService) MarkSent(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	before := order.State
	if err := order.Transition(domain.OrderStateSent); err != nil {
		return nil, err
	}
	order.UpdatedAt = s.clock.Now()
	updated, err := s.orders.UpdateOrder(ctx, *order)
	if err != nil {
		return nil, err
	}
	s.audit.Emit("order_sent", orderID, before, updated.State)
	return updated, nil
}

// ConfirmReceipt reconciles a delivered order: per-line received quantities
// (override or ordered) are added to stock in base units, then the order is
// rewritten with the effective quantities and archived in a single
// conditional write. Overrides are keyed by item id; CreateOrder guarantees
// at most one line per item.
//
// Guarded by an in-process idempotency set keyed by orderID: a second call
// while the first is in flight is a logged no-op, so a double click cannot
// apply the inventory deltas twice. Across processes the order row's
// version check is the arbiter.
func (s *OrderService) ConfirmReceipt(ctx context.Context, orderID string, overrides map[string]int) (*ConfirmResult, error) {
	s.mu.Lock()
	if _, busy := s.inflight[orderID]; busy {
		s.mu.Unlock()
		s.audit.Emit("confirm_receipt_duplicate", orderID, nil, nil)
		return nil, ErrDuplicateConfirm
	}
	s.inflight[orderID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, orderID)
		s.mu.Unlock()
	}()

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.State != domain.OrderStateSent {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.State, domain.OrderStateArchived)
	}
	s.audit.Emit("confirm_receipt_start", orderID, order.State, domain.OrderStateArchived)

	// Apply stock deltas line by line, best effort: a failed line is logged
	// and skipped, the rest still land.
	results := make([]LineResult, 0, len(order.Lines))
	for i := range order.Lines {
		line := &order.Lines[i]
		eff := line.EffectiveReceived()
		if ov, ok := overrides[line.ItemID]; ok {
			eff = domain.ClampQuantity(ov)
		}
		// the archived order records what actually arrived; totals and
		// unit counts are recomputed from these rewritten lines
		line.ReceivedQty = eff
		line.Quantity = eff

		base := line.Unit.BaseUnits(eff)
		_, err := s.updater.AddQuantity(ctx, line.ItemID, base)
		if err != nil {
			s.log.Error().Err(err).Str("order_id", orderID).Str("item_id", line.ItemID).Int("base_units", base).Msg("line stock apply failed")
		}
		results = append(results, LineResult{ItemID: line.ItemID, Applied: base, Err: err})
	}

	if err := order.Transition(domain.OrderStateArchived); err != nil {
		return nil, err
	}
	order.UpdatedAt = s.clock.Now()
	updated, err := s.orders.UpdateOrder(ctx, *order)
	if err != nil {
		return nil, err
	}
	s.audit.Emit("confirm_receipt_done", orderID, domain.OrderStateSent, updated.State)

	// The idempotency guard should make a duplicate archive impossible;
	// the archived set catches one anyway and logs it.
	s.mu.Lock()
	if _, dup := s.archived[orderID]; dup {
		s.log.Warn().Str("order_id", orderID).Msg("order already in archived list")
	} else {
		s.archived[orderID] = struct{}{}
	}
	s.mu.Unlock()

	return &ConfirmResult{Order: updated, Lines: results}, nil
}

// ActiveOrders lists orders still awaiting dispatch or delivery.
func (s *OrderService) ActiveOrders(ctx context.Context) ([]domain.Order, error) {
	pending, err := s.orders.ListOrders(ctx, domain.OrderStatePending)
	if err != nil {
		return nil, err
	}
	sent, err := s.orders.ListOrders(ctx, domain.OrderStateSent)
	if err != nil {
		return nil, err
	}
	return append(pending, sent...), nil
}

// ArchivedOrders lists reconciled orders.
func (s *OrderService) ArchivedOrders(ctx context.Context) ([]domain.Order, error) {
	return s.orders.ListOrders(ctx, domain.OrderStateArchived)
}
