package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/wineops/stocksync/internal/core/domain"
)

// opKeyPrefix namespaces queue entries. The zero-padded creation stamp in
// the key makes badger's lexicographic iteration order the FIFO order.
const opKeyPrefix = "op:"

// BadgerStore persists pending operations locally so they survive process
// restarts.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the queue database at path. An empty
// path opens an in-memory instance, used in tests.
func OpenBadgerStore(path string, log zerolog.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithLogger(badgerLogger{log.With().Str("component", "badger").Logger()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func opKey(op domain.PendingOperation) []byte {
	return fmt.Appendf(nil, "%s%020d:%s", opKeyPrefix, op.CreatedAt.UnixNano(), op.OpID)
}

func (s *BadgerStore) Put(ctx context.Context, op domain.PendingOperation) error {
	val, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(opKey(op), val)
	})
}

func (s *BadgerStore) Delete(ctx context.Context, op domain.PendingOperation) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(opKey(op))
	})
}

func (s *BadgerStore) List(ctx context.Context) ([]domain.PendingOperation, error) {
	var out []domain.PendingOperation
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(opKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var op domain.PendingOperation
				if err := json.Unmarshal(val, &op); err != nil {
					return err
				}
				out = append(out, op)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger adapts zerolog to badger's Logger interface.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}
