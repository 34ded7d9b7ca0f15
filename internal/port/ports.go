// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the lifecycle core
// from the concrete gateway, event bus and cache implementations.
package port

import (
	"context"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
)

// IDMinter mints idempotency keys for submission attempts.
type IDMinter interface {
	Create(prefix string) string
}

// TransactionGateway is the network boundary to the payment gateway.
type TransactionGateway interface {
	StatusFetcher
	Submit(ctx context.Context, req *domain.Request) (*domain.SubmitResult, error)
}

// StatusFetcher fetches the current status of a submitted transaction.
type StatusFetcher interface {
	GetStatus(ctx context.Context, remoteID string) (domain.Status, error)
}

// EventPublisher reports lifecycle outcomes to interested consumers.
type EventPublisher interface {
	PublishLifecycle(ctx context.Context, event *domain.LifecycleEvent) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
