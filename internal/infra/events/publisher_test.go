package events_test

import (
	"context"
	"testing"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/events"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSubject(t *testing.T) {
	event := &domain.LifecycleEvent{
		Transaction: domain.Transaction{Kind: domain.KindWithdrawal, Status: domain.StatusRetained},
	}
	if got := events.Subject(event); got != "txlifecycle.withdrawal.retained" {
		t.Errorf("expected 'txlifecycle.withdrawal.retained', got '%s'", got)
	}
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub := events.NewLogPublisher(zap.New(core))

	err := pub.PublishLifecycle(context.Background(), &domain.LifecycleEvent{
		Slot: "merchant-1:deposit",
		Transaction: domain.Transaction{
			ExternalID: "dep_1",
			Kind:       domain.KindDeposit,
			RemoteID:   "tx_1",
			Status:     domain.StatusCompleted,
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	entries := logs.FilterMessage("lifecycle event").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["subject"]; got != "txlifecycle.deposit.completed" {
		t.Errorf("unexpected subject %v", got)
	}
}
