// Package idempotency mints the external ids that let the payment gateway
// deduplicate retried submissions.
package idempotency

import (
	"fmt"
	"time"
)

// Factory creates external ids of the form "<prefix>_<epochMillis>".
//
// Two calls within the same millisecond return the same id. That collision
// is accepted: the lifecycle controller allows a single in-flight
// submission per slot, so one slot never mints twice in a millisecond.
type Factory struct {
	now func() time.Time
}

// NewFactory returns a Factory backed by the wall clock.
func NewFactory() *Factory {
	return &Factory{now: time.Now}
}

// NewFactoryWithClock returns a Factory that reads time from now.
func NewFactoryWithClock(now func() time.Time) *Factory {
	return &Factory{now: now}
}

// Create returns a new external id. It must be called once per
// user-initiated submission attempt.
func (f *Factory) Create(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, f.now().UnixMilli())
}
