// Package ratelimit caps how often an action may happen per key inside a
// sliding window.
package ratelimit

import (
	"context"
	"time"
)

// Limiter admits an event for key at now, or refuses it when the window is
// already full. Admitted events count towards later decisions.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
}

// EventStore is the storage side of SQLLimiter.
type EventStore interface {
	RecordEventIfUnder(ctx context.Context, key string, limit int, since, now time.Time) (bool, error)
}

// SQLLimiter keeps events in the service database.
type SQLLimiter struct {
	store  EventStore
	limit  int
	window time.Duration
}

func NewSQLLimiter(store EventStore, limit int, window time.Duration) *SQLLimiter {
	return &SQLLimiter{store: store, limit: limit, window: window}
}

func (l *SQLLimiter) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	return l.store.RecordEventIfUnder(ctx, key, l.limit, now.Add(-l.window), now)
}
