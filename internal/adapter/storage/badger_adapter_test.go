package storage

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wineops/stocksync/internal/core/domain"
)

func pendingOp(id string, createdAt time.Time) domain.PendingOperation {
	return domain.PendingOperation{
		OpID:       id,
		Type:       domain.OpUpdateQuantity,
		Payload:    []byte(`{"item_id":"item-1","quantity":5}`),
		CreatedAt:  createdAt,
		MaxRetries: 5,
		Status:     domain.OpStatusPending,
	}
}

func TestBadgerStore_PutListDelete(t *testing.T) {
	store, err := OpenBadgerStore("", zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	op := pendingOp("op-1", base)
	if err := store.Put(ctx, op); err != nil {
		t.Fatalf("put: %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].OpID != "op-1" || list[0].Status != domain.OpStatusPending {
		t.Fatalf("list = %+v", list)
	}

	// Put with the same key overwrites, it does not duplicate
	op.RetryCount = 2
	if err := store.Put(ctx, op); err != nil {
		t.Fatalf("put update: %v", err)
	}
	list, _ = store.List(ctx)
	if len(list) != 1 || list[0].RetryCount != 2 {
		t.Fatalf("update not in place: %+v", list)
	}

	if err := store.Delete(ctx, op); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if list, _ = store.List(ctx); len(list) != 0 {
		t.Errorf("delete left %+v", list)
	}
}

func TestBadgerStore_ListIsFIFO(t *testing.T) {
	store, err := OpenBadgerStore("", zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// inserted out of order; key encoding must restore creation order
	for _, op := range []domain.PendingOperation{
		pendingOp("op-c", base.Add(2 * time.Second)),
		pendingOp("op-a", base),
		pendingOp("op-b", base.Add(time.Second)),
	} {
		if err := store.Put(ctx, op); err != nil {
			t.Fatalf("put %s: %v", op.OpID, err)
		}
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"op-a", "op-b", "op-c"}
	if len(list) != 3 {
		t.Fatalf("list = %d ops", len(list))
	}
	for i, w := range want {
		if list[i].OpID != w {
			t.Fatalf("order = [%s %s %s], want %v", list[0].OpID, list[1].OpID, list[2].OpID, want)
		}
	}
}

func TestBadgerStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenBadgerStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	op := pendingOp("op-durable", time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	if err := store.Put(ctx, op); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenBadgerStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	list, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].OpID != "op-durable" {
		t.Fatalf("operation lost across restart: %+v", list)
	}
	if string(list[0].Payload) != `{"item_id":"item-1","quantity":5}` {
		t.Errorf("payload corrupted: %s", list[0].Payload)
	}
}
