package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wineops/stocksync/internal/clockx"
	"github.com/wineops/stocksync/internal/core/domain"
	"github.com/wineops/stocksync/internal/port"
)

// EchoTTL bounds how long a local write suppresses its own push-feed echo.
const EchoTTL = 5 * time.Second

// addRetries bounds the read-modify-CAS loop for additive deltas.
const addRetries = 3

// echoSet tracks items with a locally pending write so the reconciler can
// swallow the echo arriving back through the feed.
type echoSet struct {
	mu      sync.Mutex
	pending map[string]time.Time
	ttl     time.Duration
	clock   clockx.Clock
}

func newEchoSet(clock clockx.Clock, ttl time.Duration) *echoSet {
	return &echoSet{pending: make(map[string]time.Time), ttl: ttl, clock: clock}
}

func (e *echoSet) Mark(itemID string) {
	e.mu.Lock()
	e.pending[itemID] = e.clock.Now().Add(e.ttl)
	e.mu.Unlock()
}

// Consume reports whether itemID had a live pending mark and clears it.
func (e *echoSet) Consume(itemID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	exp, ok := e.pending[itemID]
	if !ok {
		return false
	}
	delete(e.pending, itemID)
	return !e.clock.Now().After(exp)
}

func (e *echoSet) Clear(itemID string) {
	e.mu.Lock()
	delete(e.pending, itemID)
	e.mu.Unlock()
}

// Updater performs compare-and-swap writes to stock quantities. Local state
// is updated optimistically first; a version mismatch discards the
// optimistic value, refetches the authoritative row and surfaces
// port.ErrVersionConflict. The losing write is never re-asserted: a newer
// value already exists.
type Updater struct {
	store port.StockStore
	state *StateCache
	echo  *echoSet
	clock clockx.Clock
	log   zerolog.Logger
}

func NewUpdater(store port.StockStore, state *StateCache, clock clockx.Clock, log zerolog.Logger) *Updater {
	return &Updater{
		store: store,
		state: state,
		echo:  newEchoSet(clock, EchoTTL),
		clock: clock,
		log:   log.With().Str("component", "updater").Logger(),
	}
}

// UpdateQuantity sets the absolute bottle count for an item. Negative
// values clamp to 0 before anything is sent.
func (u *Updater) UpdateQuantity(ctx context.Context, itemID string, newQty int) (*domain.StockRecord, error) {
	newQty = domain.ClampQuantity(newQty)

	rec, ok, err := u.known(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return u.insertRecord(ctx, itemID, newQty, 0)
	}

	opt := rec
	opt.Quantity = newQty
	opt.UpdatedAt = u.clock.Now()
	u.state.ApplyLocal(opt)
	u.echo.Mark(itemID)

	want := rec
	want.Quantity = newQty
	updated, err := u.store.UpdateStock(ctx, want)
	if err != nil {
		return u.recover(ctx, rec, err)
	}
	u.state.Merge(*updated, SourceLocal)
	return updated, nil
}

// UpdateThreshold sets the low-stock alarm level with the same CAS contract.
func (u *Updater) UpdateThreshold(ctx context.Context, itemID string, minThreshold int) (*domain.StockRecord, error) {
	if minThreshold < 0 {
		return nil, &domain.ValidationError{Field: "min_threshold", Reason: "must be >= 0"}
	}

	rec, ok, err := u.known(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Seed the lazy record from the catalog's displayed quantity.
		seed := 0
		if item, err := u.store.GetItem(ctx, itemID); err == nil && item != nil {
			seed = item.Quantity
		}
		return u.insertRecord(ctx, itemID, seed, minThreshold)
	}

	opt := rec
	opt.MinThreshold = minThreshold
	opt.UpdatedAt = u.clock.Now()
	u.state.ApplyLocal(opt)
	u.echo.Mark(itemID)

	want := rec
	want.MinThreshold = minThreshold
	updated, err := u.store.UpdateStock(ctx, want)
	if err != nil {
		return u.recover(ctx, rec, err)
	}
	u.state.Merge(*updated, SourceLocal)
	return updated, nil
}

// AddQuantity applies a delta, retrying the read-modify-CAS a few times.
// Unlike an absolute write, a delta stays meaningful on top of a refreshed
// row, so retrying does not re-assert stale intent.
func (u *Updater) AddQuantity(ctx context.Context, itemID string, delta int) (*domain.StockRecord, error) {
	var lastErr error
	for attempt := 0; attempt < addRetries; attempt++ {
		rec, ok, err := u.known(ctx, itemID)
		if err != nil {
			return nil, err
		}
		if !ok {
			// First observation of this item: seed the lazy record from the
			// catalog's displayed quantity so bottles already on hand are
			// not lost under the delta.
			seed := 0
			if item, ierr := u.store.GetItem(ctx, itemID); ierr == nil && item != nil {
				seed = item.Quantity
			}
			return u.insertRecord(ctx, itemID, domain.ClampQuantity(seed+delta), 0)
		}

		want := rec
		want.Quantity = domain.ClampQuantity(rec.Quantity + delta)
		u.echo.Mark(itemID)
		updated, err := u.store.UpdateStock(ctx, want)
		if err == nil {
			u.state.Merge(*updated, SourceLocal)
			return updated, nil
		}
		if !errors.Is(err, port.ErrVersionConflict) {
			u.echo.Clear(itemID)
			return nil, err
		}
		lastErr = err
		u.echo.Clear(itemID)
		if fresh, ferr := u.store.GetStock(ctx, rec.ID); ferr == nil && fresh != nil {
			u.state.Merge(*fresh, SourceConflict)
		}
	}
	return nil, fmt.Errorf("add quantity %s: %w", itemID, lastErr)
}

// BatchResult reports the outcome for one item of a batch update.
type BatchResult struct {
	ItemID string
	Record *domain.StockRecord
	Err    error
}

// UpdateQuantities applies the single-item contract sequentially per item.
// Each stock row is an independent consistency unit: a failure on one item
// does not roll back the others.
func (u *Updater) UpdateQuantities(ctx context.Context, quantities map[string]int) []BatchResult {
	items := make([]string, 0, len(quantities))
	for itemID := range quantities {
		items = append(items, itemID)
	}
	// stable order keeps logs and tests deterministic
	sort.Strings(items)

	out := make([]BatchResult, 0, len(items))
	for _, itemID := range items {
		rec, err := u.UpdateQuantity(ctx, itemID, quantities[itemID])
		out = append(out, BatchResult{ItemID: itemID, Record: rec, Err: err})
	}
	return out
}

// known resolves the current record for an item, consulting the store when
// the local cache has never seen it.
func (u *Updater) known(ctx context.Context, itemID string) (domain.StockRecord, bool, error) {
	if rec, ok := u.state.Get(itemID); ok {
		return rec, true, nil
	}
	stored, err := u.store.GetStockByItem(ctx, itemID)
	if err != nil {
		return domain.StockRecord{}, false, err
	}
	if stored == nil {
		return domain.StockRecord{}, false, nil
	}
	u.state.Merge(*stored, SourceLocal)
	return *stored, true, nil
}

func (u *Updater) insertRecord(ctx context.Context, itemID string, qty, minThreshold int) (*domain.StockRecord, error) {
	rec := domain.StockRecord{
		ID:           uuid.NewString(),
		ItemID:       itemID,
		Quantity:     qty,
		MinThreshold: minThreshold,
		Version:      1,
		UpdatedAt:    u.clock.Now(),
	}
	u.echo.Mark(itemID)
	stored, err := u.store.InsertStock(ctx, rec)
	if err != nil {
		u.echo.Clear(itemID)
		return nil, err
	}
	u.state.Merge(*stored, SourceLocal)
	return stored, nil
}

// recover handles a failed conditional write: conflicts resolve via a point
// refetch of the authoritative row, anything else rolls the optimistic
// value back.
func (u *Updater) recover(ctx context.Context, prev domain.StockRecord, err error) (*domain.StockRecord, error) {
	u.echo.Clear(prev.ItemID)
	if errors.Is(err, port.ErrVersionConflict) {
		fresh, ferr := u.store.GetStock(ctx, prev.ID)
		if ferr == nil && fresh != nil {
			u.state.Merge(*fresh, SourceConflict)
		} else {
			u.state.ApplyLocal(prev)
		}
		u.log.Info().Str("item_id", prev.ItemID).Int("local_version", prev.Version).Msg("write rejected, row refreshed")
		return fresh, fmt.Errorf("update %s: %w", prev.ItemID, port.ErrVersionConflict)
	}
	u.state.ApplyLocal(prev)
	return nil, err
}
