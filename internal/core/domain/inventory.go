package domain

import "time"

// StockRecord is the per-item bottle count. Version is the optimistic
// locking stamp: it starts at 1 and every successful write bumps it by
// exactly 1. A write carrying a stale version must be rejected, never
// merged silently.
type StockRecord struct {
	ID           string
	ItemID       string
	Quantity     int
	MinThreshold int
	Version      int // optimistic locking
	UpdatedAt    time.Time
}

// Item is the catalog row a StockRecord hangs off. Read-only in this core;
// its displayed quantity seeds the StockRecord the first time an item is
// observed without one.
type Item struct {
	ID       string
	Name     string
	Quantity int
}

// ClampQuantity floors a requested quantity at zero.
func ClampQuantity(q int) int {
	if q < 0 {
		return 0
	}
	return q
}
