// Package clockx abstracts timers so debounce windows, retry backoff and
// drain throttling can be driven with virtual time in tests.
package clockx

import (
	"context"
	"time"
)

type Timer interface {
	// Stop cancels the timer; reports whether it was still pending.
	Stop() bool
}

type Clock interface {
	Now() time.Time

	// AfterFunc runs f after d. f runs on its own goroutine for the system
	// clock and inline on Advance for the fake.
	AfterFunc(d time.Duration, f func()) Timer

	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// System returns the wall clock.
func System() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
