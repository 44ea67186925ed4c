package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wineops/stocksync/internal/clockx"
	"github.com/wineops/stocksync/internal/core/domain"
	"github.com/wineops/stocksync/internal/port"
)

const (
	// DefaultMaxRetries before an operation is parked as failed.
	DefaultMaxRetries = 5
	// MinDrainInterval throttles drains on flapping connectivity.
	MinDrainInterval = 10 * time.Second
	// BaseRetryDelay seeds the exponential backoff.
	BaseRetryDelay = 2 * time.Second
	// MaxRetryDelay caps it.
	MaxRetryDelay = 60 * time.Second
	// InterOpDelay paces replay so a long offline period doesn't burst
	// into the store.
	InterOpDelay = 100 * time.Millisecond
)

// Executor replays one queued operation through the normal write path.
type Executor interface {
	Execute(ctx context.Context, op domain.PendingOperation) error
}

// OfflineQueue guarantees a mutation accepted while offline is eventually
// applied, without duplication. It owns PendingOperation records
// exclusively; the rest of the system only enqueues.
type OfflineQueue struct {
	ops   port.OperationStore
	exec  Executor
	clock clockx.Clock
	log   zerolog.Logger

	draining  atomic.Bool
	mu        sync.Mutex
	lastDrain time.Time
}

func NewOfflineQueue(ops port.OperationStore, exec Executor, clock clockx.Clock, log zerolog.Logger) *OfflineQueue {
	return &OfflineQueue{
		ops:   ops,
		exec:  exec,
		clock: clock,
		log:   log.With().Str("component", "offline_queue").Logger(),
	}
}

// Enqueue validates and durably persists the operation before returning.
func (q *OfflineQueue) Enqueue(ctx context.Context, typ domain.OpType, payload json.RawMessage) (*domain.PendingOperation, error) {
	if err := domain.ValidateOperation(typ, payload); err != nil {
		return nil, err
	}
	op := domain.PendingOperation{
		OpID:       uuid.NewString(),
		Type:       typ,
		Payload:    payload,
		CreatedAt:  q.clock.Now(),
		MaxRetries: DefaultMaxRetries,
		Status:     domain.OpStatusPending,
	}
	if err := q.ops.Put(ctx, op); err != nil {
		return nil, err
	}
	q.log.Info().Str("op_id", op.OpID).Str("type", string(typ)).Msg("operation queued")
	return &op, nil
}

// Drain replays pending operations FIFO. At most one drain runs at a time
// and drains are throttled to one per MinDrainInterval.
func (q *OfflineQueue) Drain(ctx context.Context) error {
	if !q.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer q.draining.Store(false)

	now := q.clock.Now()
	q.mu.Lock()
	if !q.lastDrain.IsZero() && now.Sub(q.lastDrain) < MinDrainInterval {
		q.mu.Unlock()
		return nil
	}
	q.lastDrain = now
	q.mu.Unlock()

	list, err := q.ops.List(ctx)
	if err != nil {
		return err
	}

	for _, op := range list {
		if err := ctx.Err(); err != nil {
			return err
		}
		if op.Status == domain.OpStatusProcessing {
			// A crash between marking the op processing and recording the
			// outcome left it stranded. Only one drain runs at a time, so
			// nobody else owns it; replay goes through the conditional
			// write, which makes re-execution safe. Take it back.
			q.log.Warn().Str("op_id", op.OpID).Msg("recovering op stranded in processing")
			op.Status = domain.OpStatusPending
		}
		if op.Status != domain.OpStatusPending {
			continue
		}
		if !op.NextRetryAt.IsZero() && q.clock.Now().Before(op.NextRetryAt) {
			continue
		}
		q.process(ctx, op)
		_ = q.clock.Sleep(ctx, InterOpDelay)
	}
	return nil
}

func (q *OfflineQueue) process(ctx context.Context, op domain.PendingOperation) {
	op.Status = domain.OpStatusProcessing
	if err := q.ops.Put(ctx, op); err != nil {
		q.log.Error().Err(err).Str("op_id", op.OpID).Msg("mark processing failed")
		return
	}

	err := q.exec.Execute(ctx, op)
	switch {
	case err == nil:
		if derr := q.ops.Delete(ctx, op); derr != nil {
			q.log.Error().Err(derr).Str("op_id", op.OpID).Msg("remove completed op failed")
		}
	case errors.Is(err, port.ErrVersionConflict):
		// A newer value exists; the replayed intent is stale and must not
		// be re-asserted. The conflict path already refreshed local state.
		q.log.Info().Str("op_id", op.OpID).Msg("replay rejected by version check, dropping")
		_ = q.ops.Delete(ctx, op)
	default:
		op.RetryCount++
		if op.RetryCount >= op.MaxRetries {
			op.Status = domain.OpStatusFailed
			q.log.Warn().Err(err).Str("op_id", op.OpID).Int("retries", op.RetryCount).Msg("retries exhausted, op retained as failed")
		} else {
			op.Status = domain.OpStatusPending
			op.NextRetryAt = q.clock.Now().Add(q.backoff(op.RetryCount))
			q.log.Info().Err(err).Str("op_id", op.OpID).Int("retry", op.RetryCount).Time("next_retry_at", op.NextRetryAt).Msg("replay failed, will retry")
		}
		if perr := q.ops.Put(ctx, op); perr != nil {
			q.log.Error().Err(perr).Str("op_id", op.OpID).Msg("persist retry state failed")
		}
	}
}

// backoff is min(base * 2^retry, max) plus jitter so clients don't retry
// in lockstep.
func (q *OfflineQueue) backoff(retry int) time.Duration {
	d := BaseRetryDelay << uint(retry)
	if d > MaxRetryDelay || d <= 0 {
		d = MaxRetryDelay
	}
	return d + time.Duration(rand.Int63n(int64(500*time.Millisecond)))
}

// PendingOperations lists everything still in the queue, failed ops
// included, for operator visibility.
func (q *OfflineQueue) PendingOperations(ctx context.Context) ([]domain.PendingOperation, error) {
	return q.ops.List(ctx)
}
