package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/wineops/stocksync/internal/core/domain"
	"github.com/wineops/stocksync/internal/port"
)

const feedChannelPrefix = "rowfeed:"

// RedisFeed is the push feed: one pub/sub channel per table carrying
// row-event envelopes. Delivery is at-least-once from the consumer's point
// of view and may reorder across channels; the reconciler orders by
// version, never by arrival.
type RedisFeed struct {
	client *redis.Client
	log    zerolog.Logger
	status atomic.Value // port.FeedStatus

	mu sync.Mutex
	ps *redis.PubSub
}

func NewRedisFeed(client *redis.Client, log zerolog.Logger) *RedisFeed {
	f := &RedisFeed{
		client: client,
		log:    log.With().Str("component", "redis_feed").Logger(),
	}
	f.status.Store(port.FeedDisconnected)
	return f
}

func (f *RedisFeed) Subscribe(ctx context.Context, tables ...string) (<-chan domain.RowEvent, error) {
	if err := f.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("feed connect: %w: %v", port.ErrUnavailable, err)
	}
	f.status.Store(port.FeedConnected)

	channels := make([]string, len(tables))
	for i, t := range tables {
		channels[i] = feedChannelPrefix + t
	}
	ps := f.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		f.status.Store(port.FeedDisconnected)
		_ = ps.Close()
		return nil, fmt.Errorf("feed subscribe: %w: %v", port.ErrUnavailable, err)
	}
	f.mu.Lock()
	f.ps = ps
	f.mu.Unlock()
	f.status.Store(port.FeedSubscribed)

	out := make(chan domain.RowEvent, 256)
	go func() {
		<-ctx.Done()
		_ = ps.Close()
	}()
	go func() {
		defer close(out)
		defer f.status.Store(port.FeedDisconnected)
		for msg := range ps.Channel() {
			ev, err := domain.ParseRowEvent([]byte(msg.Payload))
			if err != nil {
				f.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed feed message")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Publish sends a row-event envelope on the table's channel. The store
// adapter calls this after every committed write.
func (f *RedisFeed) Publish(ctx context.Context, table string, message []byte) error {
	return f.client.Publish(ctx, feedChannelPrefix+table, message).Err()
}

func (f *RedisFeed) Status() port.FeedStatus {
	return f.status.Load().(port.FeedStatus)
}

func (f *RedisFeed) Close() error {
	f.mu.Lock()
	ps := f.ps
	f.mu.Unlock()
	if ps != nil {
		return ps.Close()
	}
	return nil
}
