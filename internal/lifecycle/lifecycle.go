package lifecycle

import (
	"context"
	"sync"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/poller"
)

// Lifecycle is one accepted submission on its way to a final status.
type Lifecycle struct {
	Slot string

	// Accepted is the transaction as the gateway acknowledged it.
	Accepted domain.Transaction

	session *poller.Session
	done    chan struct{}
	once    sync.Once
	final   domain.Transaction
	err     error
}

func newLifecycle(slotKey string, accepted domain.Transaction) *Lifecycle {
	return &Lifecycle{
		Slot:     slotKey,
		Accepted: accepted,
		done:     make(chan struct{}),
	}
}

func (l *Lifecycle) resolve(tx domain.Transaction, err error) {
	l.once.Do(func() {
		l.final, l.err = tx, err
		close(l.done)
	})
}

// Done is closed once the lifecycle has a result.
func (l *Lifecycle) Done() <-chan struct{} { return l.done }

// Wait blocks until the transaction reaches a final status, polling stops
// for another reason (domain.ErrPollingCancelled, domain.ErrPollingExpired),
// or ctx is done.
func (l *Lifecycle) Wait(ctx context.Context) (domain.Transaction, error) {
	select {
	case <-l.done:
		return l.final, l.err
	case <-ctx.Done():
		return domain.Transaction{}, ctx.Err()
	}
}
