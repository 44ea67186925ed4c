package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wineops/stocksync/internal/core/domain"
	"github.com/wineops/stocksync/internal/port"
)

// memStockStore implements port.StockStore with real CAS semantics.
type memStockStore struct {
	mu           sync.Mutex
	byID         map[string]domain.StockRecord
	items        map[string]domain.Item
	failWith     error // when set, every call fails with it
	conflictNext int   // force the next N UpdateStock calls to conflict
	updateCalls  int
	blockUpdate  chan struct{} // when set, UpdateStock waits for a receive
}

func newMemStockStore() *memStockStore {
	return &memStockStore{
		byID:  make(map[string]domain.StockRecord),
		items: make(map[string]domain.Item),
	}
}

func (m *memStockStore) seed(rec domain.StockRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[rec.ID] = rec
}

func (m *memStockStore) get(id string) domain.StockRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

func (m *memStockStore) GetStock(ctx context.Context, stockID string) (*domain.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	rec, ok := m.byID[stockID]
	if !ok {
		return nil, nil
	}
	r := rec
	return &r, nil
}

func (m *memStockStore) GetStockByItem(ctx context.Context, itemID string) (*domain.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, rec := range m.byID {
		if rec.ItemID == itemID {
			r := rec
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memStockStore) ListStock(ctx context.Context) ([]domain.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := make([]domain.StockRecord, 0, len(m.byID))
	for _, rec := range m.byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (m *memStockStore) InsertStock(ctx context.Context, rec domain.StockRecord) (*domain.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	rec.Version = 1
	rec.UpdatedAt = time.Now()
	m.byID[rec.ID] = rec
	r := rec
	return &r, nil
}

func (m *memStockStore) UpdateStock(ctx context.Context, rec domain.StockRecord) (*domain.StockRecord, error) {
	if m.blockUpdate != nil {
		<-m.blockUpdate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	m.updateCalls++
	if m.conflictNext > 0 {
		m.conflictNext--
		return nil, port.ErrVersionConflict
	}
	cur, ok := m.byID[rec.ID]
	if !ok || cur.Version != rec.Version {
		return nil, port.ErrVersionConflict
	}
	cur.Quantity = rec.Quantity
	cur.MinThreshold = rec.MinThreshold
	cur.Version++
	cur.UpdatedAt = time.Now()
	m.byID[rec.ID] = cur
	r := cur
	return &r, nil
}

func (m *memStockStore) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	item, ok := m.items[itemID]
	if !ok {
		return nil, nil
	}
	i := item
	return &i, nil
}

func (m *memStockStore) UpdateItemFields(ctx context.Context, itemID string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	item := m.items[itemID]
	item.ID = itemID
	if name, ok := fields["name"]; ok {
		item.Name = name
	}
	m.items[itemID] = item
	return nil
}

// memOrderStore implements port.OrderStore with version CAS.
type memOrderStore struct {
	mu   sync.Mutex
	byID map[string]domain.Order
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{byID: make(map[string]domain.Order)}
}

func (m *memOrderStore) seed(o domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[o.ID] = o
}

func (m *memOrderStore) CreateOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[order.ID] = order
	return nil
}

func (m *memOrderStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[orderID]
	if !ok {
		return nil, nil
	}
	cp := o
	cp.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &cp, nil
}

func (m *memOrderStore) UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[order.ID]
	if !ok || cur.Version != order.Version {
		return nil, port.ErrVersionConflict
	}
	order.Version++
	m.byID[order.ID] = order
	cp := order
	cp.Lines = append([]domain.OrderLine(nil), order.Lines...)
	return &cp, nil
}

func (m *memOrderStore) ListOrders(ctx context.Context, state domain.OrderState) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.byID {
		if o.State == state {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// memOpStore implements port.OperationStore.
type memOpStore struct {
	mu   sync.Mutex
	byID map[string]domain.PendingOperation
}

func newMemOpStore() *memOpStore {
	return &memOpStore{byID: make(map[string]domain.PendingOperation)}
}

func (m *memOpStore) Put(ctx context.Context, op domain.PendingOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[op.OpID] = op
	return nil
}

func (m *memOpStore) Delete(ctx context.Context, op domain.PendingOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, op.OpID)
	return nil
}

func (m *memOpStore) List(ctx context.Context) ([]domain.PendingOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PendingOperation, 0, len(m.byID))
	for _, op := range m.byID {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memOpStore) Close() error { return nil }

// fakeFeed implements port.EventFeed over a plain channel.
type fakeFeed struct {
	ch     chan domain.RowEvent
	status port.FeedStatus
	subErr error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{ch: make(chan domain.RowEvent, 64), status: port.FeedDisconnected}
}

func (f *fakeFeed) Subscribe(ctx context.Context, tables ...string) (<-chan domain.RowEvent, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.status = port.FeedSubscribed
	return f.ch, nil
}

func (f *fakeFeed) Status() port.FeedStatus { return f.status }
func (f *fakeFeed) Close() error            { close(f.ch); return nil }

// recordingExec captures replayed operations for queue tests.
type recordingExec struct {
	mu    sync.Mutex
	seen  []string
	errOn func(op domain.PendingOperation) error
}

func (r *recordingExec) Execute(ctx context.Context, op domain.PendingOperation) error {
	r.mu.Lock()
	r.seen = append(r.seen, op.OpID)
	r.mu.Unlock()
	if r.errOn != nil {
		return r.errOn(op)
	}
	return nil
}

func (r *recordingExec) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}
