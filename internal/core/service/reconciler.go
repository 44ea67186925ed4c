package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wineops/stocksync/internal/clockx"
	"github.com/wineops/stocksync/internal/core/domain"
	"github.com/wineops/stocksync/internal/port"
)

const (
	// StockDebounce buffers stock row events before a batched flush.
	StockDebounce = 50 * time.Millisecond
	// CatalogDebounce gates the coarse full refresh on catalog events.
	CatalogDebounce = 150 * time.Millisecond
	// GapRefetchDelay is the wait before a point refetch when an incoming
	// version skipped past local+1.
	GapRefetchDelay = 1 * time.Second
)

// Reconciler keeps local state eventually consistent with the store by
// consuming the push feed. Ordering is enforced through the version field,
// not arrival order; echoes of our own writes are suppressed.
type Reconciler struct {
	feed  port.EventFeed
	store port.StockStore
	state *StateCache
	echo  *echoSet
	clock clockx.Clock
	log   zerolog.Logger

	mu           sync.Mutex
	batch        []domain.RowEvent
	flushTimer   clockx.Timer
	catalogTimer clockx.Timer
	refetching   map[string]bool
}

func NewReconciler(feed port.EventFeed, store port.StockStore, state *StateCache, up *Updater, clock clockx.Clock, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		feed:       feed,
		store:      store,
		state:      state,
		echo:       up.echo,
		clock:      clock,
		log:        log.With().Str("component", "reconciler").Logger(),
		refetching: make(map[string]bool),
	}
}

// Run subscribes and consumes until ctx is cancelled. A subscribe failure
// is non-fatal to the process: the caller logs it and the system degrades
// to manual refresh.
func (r *Reconciler) Run(ctx context.Context) error {
	ch, err := r.feed.Subscribe(ctx, domain.TableStock, domain.TableCatalog)
	if err != nil {
		r.log.Warn().Err(err).Msg("subscribe failed, degrading to manual refresh")
		return err
	}
	for ev := range ch {
		r.handle(ev)
	}
	return nil
}

// Status exposes the feed connection state for UI display.
func (r *Reconciler) Status() port.FeedStatus {
	return r.feed.Status()
}

func (r *Reconciler) handle(ev domain.RowEvent) {
	switch ev.Table {
	case domain.TableCatalog:
		r.markCatalogDirty()
	case domain.TableStock:
		r.mu.Lock()
		r.batch = append(r.batch, ev)
		if r.flushTimer == nil {
			r.flushTimer = r.clock.AfterFunc(StockDebounce, r.flushStock)
		}
		r.mu.Unlock()
	}
}

// flushStock applies one debounced batch of stock events.
func (r *Reconciler) flushStock() {
	r.mu.Lock()
	events := r.batch
	r.batch = nil
	r.flushTimer = nil
	r.mu.Unlock()

	for _, ev := range events {
		r.applyStock(ev)
	}
}

func (r *Reconciler) applyStock(ev domain.RowEvent) {
	if ev.Type == domain.EventDelete {
		r.state.DropByID(ev.RowID)
		return
	}
	rec := ev.Stock
	if rec == nil {
		return
	}
	if r.echo.Consume(rec.ItemID) {
		// our own write coming back around, already in local state
		return
	}
	local, ok := r.state.Get(rec.ItemID)
	if !ok {
		r.state.Merge(*rec, SourceRemote)
		return
	}
	switch {
	case rec.Version <= local.Version:
		// stale or reordered, drop
	case rec.Version == local.Version+1:
		r.state.Merge(*rec, SourceRemote)
	default:
		// version gap: apply what we got, then verify with a point read in
		// case intermediate events were missed
		r.state.Merge(*rec, SourceRemote)
		r.scheduleRefetch(rec.ItemID, rec.ID)
	}
}

func (r *Reconciler) scheduleRefetch(itemID, stockID string) {
	r.mu.Lock()
	if r.refetching[itemID] {
		r.mu.Unlock()
		return
	}
	r.refetching[itemID] = true
	r.mu.Unlock()

	r.clock.AfterFunc(GapRefetchDelay, func() {
		r.mu.Lock()
		delete(r.refetching, itemID)
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		fresh, err := r.store.GetStock(ctx, stockID)
		if err != nil {
			r.log.Warn().Err(err).Str("item_id", itemID).Msg("gap refetch failed")
			return
		}
		if fresh != nil {
			r.state.Merge(*fresh, SourceRefresh)
		}
	})
}

// markCatalogDirty arms the coarse refresh. Catalog changes are rare; a
// per-row merge is not worth the complexity.
func (r *Reconciler) markCatalogDirty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.catalogTimer != nil {
		return
	}
	r.catalogTimer = r.clock.AfterFunc(CatalogDebounce, func() {
		r.mu.Lock()
		r.catalogTimer = nil
		r.mu.Unlock()
		r.fullRefresh()
	})
}

func (r *Reconciler) fullRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	recs, err := r.store.ListStock(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("full refresh failed")
		return
	}
	r.state.ReplaceAll(recs)
}
