package port

import (
	"context"

	"github.com/wineops/stocksync/internal/core/domain"
)

type FeedStatus string

const (
	FeedDisconnected FeedStatus = "disconnected"
	FeedConnected    FeedStatus = "connected"
	FeedSubscribed   FeedStatus = "subscribed"
)

type EventFeed interface {
	// Subscribe starts delivery of row events for the given tables. The
	// channel closes when ctx is cancelled or the feed shuts down.
	// Delivery is at-least-once and may reorder.
	Subscribe(ctx context.Context, tables ...string) (<-chan domain.RowEvent, error)

	// Status reports the current connection state for UI display.
	Status() FeedStatus

	Close() error
}

// FeedPublisher is the producing side: the store adapter publishes a row
// event after every committed write so other clients converge.
type FeedPublisher interface {
	Publish(ctx context.Context, table string, message []byte) error
}
