package service

import (
	"sort"
	"sync"

	"github.com/wineops/stocksync/internal/core/domain"
)

type ChangeSource string

const (
	SourceLocal    ChangeSource = "local"
	SourceRemote   ChangeSource = "remote"
	SourceConflict ChangeSource = "conflict"
	SourceRefresh  ChangeSource = "refresh"
)

// ChangeNote describes an externally-applied change, for toast/banner
// display. Local writes do not produce notes.
type ChangeNote struct {
	ItemID   string
	Quantity int
	Version  int
	Source   ChangeSource
	Deleted  bool
}

// StateCache is the local view the UI renders from. The updater writes
// optimistic values into it, the reconciler merges remote ones.
type StateCache struct {
	mu     sync.RWMutex
	byItem map[string]domain.StockRecord
	notes  chan ChangeNote
}

func NewStateCache() *StateCache {
	return &StateCache{
		byItem: make(map[string]domain.StockRecord),
		notes:  make(chan ChangeNote, 64),
	}
}

func (c *StateCache) Get(itemID string) (domain.StockRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byItem[itemID]
	return rec, ok
}

// ApplyLocal overwrites the cached row without version checks or notes.
// Used for optimistic application and rollback of a local write.
func (c *StateCache) ApplyLocal(rec domain.StockRecord) {
	c.mu.Lock()
	c.byItem[rec.ItemID] = rec
	c.mu.Unlock()
}

// Merge applies rec if it is at least as new as the cached row and reports
// whether it was applied. Non-local sources emit a change note.
func (c *StateCache) Merge(rec domain.StockRecord, src ChangeSource) bool {
	c.mu.Lock()
	cur, ok := c.byItem[rec.ItemID]
	if ok && rec.Version < cur.Version {
		c.mu.Unlock()
		return false
	}
	c.byItem[rec.ItemID] = rec
	c.mu.Unlock()
	if src != SourceLocal {
		c.note(ChangeNote{ItemID: rec.ItemID, Quantity: rec.Quantity, Version: rec.Version, Source: src})
	}
	return true
}

// DropByID removes the row with the given stock id, if cached.
func (c *StateCache) DropByID(stockID string) {
	c.mu.Lock()
	var dropped *domain.StockRecord
	for itemID, rec := range c.byItem {
		if rec.ID == stockID {
			r := rec
			dropped = &r
			delete(c.byItem, itemID)
			break
		}
	}
	c.mu.Unlock()
	if dropped != nil {
		c.note(ChangeNote{ItemID: dropped.ItemID, Source: SourceRemote, Deleted: true})
	}
}

// ReplaceAll swaps the whole cache, used by the coarse catalog refresh.
func (c *StateCache) ReplaceAll(recs []domain.StockRecord) {
	next := make(map[string]domain.StockRecord, len(recs))
	for _, r := range recs {
		next[r.ItemID] = r
	}
	c.mu.Lock()
	c.byItem = next
	c.mu.Unlock()
	c.note(ChangeNote{Source: SourceRefresh})
}

func (c *StateCache) Snapshot() []domain.StockRecord {
	c.mu.RLock()
	out := make([]domain.StockRecord, 0, len(c.byItem))
	for _, r := range c.byItem {
		out = append(out, r)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// Notes is the change-note feed for the UI. Notes are dropped, not
// blocked on, when nobody is listening.
func (c *StateCache) Notes() <-chan ChangeNote {
	return c.notes
}

func (c *StateCache) note(n ChangeNote) {
	select {
	case c.notes <- n:
	default:
	}
}
