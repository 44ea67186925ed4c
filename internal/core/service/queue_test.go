package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wineops/stocksync/internal/clockx"
	"github.com/wineops/stocksync/internal/core/domain"
	"github.com/wineops/stocksync/internal/port"
)

func testQueue(exec Executor) (*OfflineQueue, *memOpStore, *clockx.Fake) {
	ops := newMemOpStore()
	clock := clockx.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	return NewOfflineQueue(ops, exec, clock, zerolog.Nop()), ops, clock
}

func quantityOp(t *testing.T, q *OfflineQueue, itemID string, qty int) *domain.PendingOperation {
	t.Helper()
	payload, _ := json.Marshal(domain.QuantityPayload{ItemID: itemID, Quantity: qty})
	op, err := q.Enqueue(context.Background(), domain.OpUpdateQuantity, payload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return op
}

func TestEnqueue_PersistsBeforeReturn(t *testing.T) {
	q, ops, _ := testQueue(&recordingExec{})
	op := quantityOp(t, q, "item-1", 5)

	list, _ := ops.List(context.Background())
	if len(list) != 1 || list[0].OpID != op.OpID {
		t.Fatalf("operation not persisted: %+v", list)
	}
	if list[0].Status != domain.OpStatusPending {
		t.Errorf("status = %s, want pending", list[0].Status)
	}
}

func TestEnqueue_RejectsMalformedPayload(t *testing.T) {
	q, ops, _ := testQueue(&recordingExec{})
	_, err := q.Enqueue(context.Background(), domain.OpUpdateQuantity, []byte(`{"quantity":1}`))
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if list, _ := ops.List(context.Background()); len(list) != 0 {
		t.Error("invalid operation reached the durable queue")
	}
}

func TestDrain_FIFOAndRemoval(t *testing.T) {
	exec := &recordingExec{}
	q, ops, clock := testQueue(exec)

	a := quantityOp(t, q, "item-a", 1)
	clock.Advance(time.Second)
	b := quantityOp(t, q, "item-b", 2)
	clock.Advance(time.Second)
	c := quantityOp(t, q, "item-c", 3)

	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	want := []string{a.OpID, b.OpID, c.OpID}
	got := exec.calls()
	if len(got) != 3 {
		t.Fatalf("executed %d ops, want 3", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("execution order %v, want %v", got, want)
			break
		}
	}
	if list, _ := ops.List(context.Background()); len(list) != 0 {
		t.Errorf("completed ops not removed: %+v", list)
	}
}

func TestDrain_Throttled(t *testing.T) {
	exec := &recordingExec{errOn: func(domain.PendingOperation) error { return errors.New("still down") }}
	q, _, clock := testQueue(exec)
	quantityOp(t, q, "item-1", 5)

	_ = q.Drain(context.Background())
	first := len(exec.calls())
	if first != 1 {
		t.Fatalf("first drain ran %d ops", first)
	}

	// a second drain inside the minimum interval is a no-op
	clock.Advance(2 * time.Second)
	_ = q.Drain(context.Background())
	if len(exec.calls()) != first {
		t.Error("drain ran again inside the throttle window")
	}
}

func TestDrain_BackoffDelaysRetry(t *testing.T) {
	fail := true
	exec := &recordingExec{errOn: func(domain.PendingOperation) error {
		if fail {
			return errors.New("flaky")
		}
		return nil
	}}
	q, ops, clock := testQueue(exec)
	quantityOp(t, q, "item-1", 5)

	_ = q.Drain(context.Background())
	list, _ := ops.List(context.Background())
	if len(list) != 1 || list[0].Status != domain.OpStatusPending || list[0].RetryCount != 1 {
		t.Fatalf("after first failure: %+v", list)
	}
	if !list[0].NextRetryAt.After(clock.Now()) {
		t.Fatal("no backoff scheduled")
	}

	// drain before the retry is due: throttle passed but op skipped
	clock.Advance(MinDrainInterval + time.Millisecond)
	if clock.Now().Before(list[0].NextRetryAt) {
		_ = q.Drain(context.Background())
		if got := len(exec.calls()); got != 1 {
			t.Fatalf("op retried before NextRetryAt (calls=%d)", got)
		}
	}

	// past the backoff it succeeds and is removed
	fail = false
	clock.Advance(MaxRetryDelay + MinDrainInterval)
	_ = q.Drain(context.Background())
	if list, _ := ops.List(context.Background()); len(list) != 0 {
		t.Errorf("op not removed after successful retry: %+v", list)
	}
}

func TestDrain_RetriesExhaustToFailed(t *testing.T) {
	exec := &recordingExec{errOn: func(domain.PendingOperation) error { return errors.New("permanent") }}
	q, ops, clock := testQueue(exec)
	quantityOp(t, q, "item-1", 5)

	for i := 0; i < DefaultMaxRetries+2; i++ {
		clock.Advance(MaxRetryDelay + MinDrainInterval)
		_ = q.Drain(context.Background())
	}

	list, _ := ops.List(context.Background())
	if len(list) != 1 {
		t.Fatalf("failed op not retained: %+v", list)
	}
	if list[0].Status != domain.OpStatusFailed {
		t.Errorf("status = %s, want failed", list[0].Status)
	}
	if list[0].RetryCount != DefaultMaxRetries {
		t.Errorf("retry count = %d, want %d", list[0].RetryCount, DefaultMaxRetries)
	}

	// failed ops are never auto-retried
	before := len(exec.calls())
	clock.Advance(MaxRetryDelay + MinDrainInterval)
	_ = q.Drain(context.Background())
	if len(exec.calls()) != before {
		t.Error("failed op was retried")
	}
}

func TestDrain_RecoversStrandedProcessing(t *testing.T) {
	exec := &recordingExec{}
	q, ops, clock := testQueue(exec)

	// a previous process died between marking the op processing and
	// recording the outcome; after restart it must still be applied
	op := domain.PendingOperation{
		OpID:       "op-stranded",
		Type:       domain.OpUpdateQuantity,
		Payload:    []byte(`{"item_id":"item-1","quantity":5}`),
		CreatedAt:  clock.Now().Add(-time.Minute),
		MaxRetries: DefaultMaxRetries,
		Status:     domain.OpStatusProcessing,
	}
	if err := ops.Put(context.Background(), op); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := exec.calls(); len(got) != 1 || got[0] != "op-stranded" {
		t.Fatalf("stranded op not replayed: %v", got)
	}
	if list, _ := ops.List(context.Background()); len(list) != 0 {
		t.Errorf("stranded op not removed after replay: %+v", list)
	}
}

func TestDrain_ConflictIsTerminal(t *testing.T) {
	exec := &recordingExec{errOn: func(domain.PendingOperation) error {
		return port.ErrVersionConflict
	}}
	q, ops, _ := testQueue(exec)
	quantityOp(t, q, "item-1", 5)

	_ = q.Drain(context.Background())
	if list, _ := ops.List(context.Background()); len(list) != 0 {
		t.Errorf("conflicted replay should be dropped, got %+v", list)
	}
	if len(exec.calls()) != 1 {
		t.Errorf("conflicted replay executed %d times", len(exec.calls()))
	}
}
