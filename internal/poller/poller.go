// Package poller watches a submitted transaction until the gateway reports a
// final status.
//
// A Poller owns one logical slot (one form, one lifecycle) and runs at most
// one Session at a time. Every session carries a generation number; results
// fetched by a session that was cancelled or superseded in the meantime are
// discarded.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("poller")

// DefaultInterval is the status check period when none is configured.
const DefaultInterval = 5 * time.Second

// Ticker is the part of *time.Ticker the poller needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker wraps time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Config controls the polling cadence.
type Config struct {
	// Interval between status checks. Defaults to DefaultInterval.
	Interval time.Duration

	// MaxDuration ends a session with domain.ErrPollingExpired. Zero
	// polls until a final status or cancellation.
	MaxDuration time.Duration
}

// Update is one status observed by a live session.
type Update struct {
	RemoteID   string
	Generation uint64
	Status     domain.Status
}

// Option configures a Poller.
type Option func(*Poller)

// WithTicker replaces the ticker factory (tests drive ticks by hand).
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(p *Poller) { p.newTicker = newTicker }
}

// WithUpdateHandler registers fn to receive every status a live session
// observes, final statuses included.
func WithUpdateHandler(fn func(Update)) Option {
	return func(p *Poller) { p.onUpdate = fn }
}

// Poller runs status sessions for one slot.
type Poller struct {
	fetcher   port.StatusFetcher
	cfg       Config
	newTicker func(time.Duration) Ticker
	onUpdate  func(Update)
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu         sync.Mutex
	generation uint64
	current    *Session
}

// New creates a Poller that checks statuses through fetcher.
func New(fetcher port.StatusFetcher, cfg Config, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	p := &Poller{
		fetcher:   fetcher,
		cfg:       cfg,
		newTicker: NewTimeTicker,
		metrics:   metrics,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Session is one polling run for a single remote transaction id.
type Session struct {
	RemoteID string

	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	ticks      atomic.Int32

	// written once before done is closed
	status domain.Status
	err    error
}

// Generation identifies the session within its Poller.
func (s *Session) Generation() uint64 { return s.generation }

// Done is closed when the session has stopped and its ticker is released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Ticks is the number of status checks performed so far.
func (s *Session) Ticks() int { return int(s.ticks.Load()) }

// Result returns the final status, or domain.ErrPollingCancelled /
// domain.ErrPollingExpired. Only meaningful after Done is closed.
func (s *Session) Result() (domain.Status, error) {
	<-s.done
	return s.status, s.err
}

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) (domain.Status, error) {
	select {
	case <-s.done:
		return s.status, s.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Start begins polling remoteID. Any session already running on this Poller
// is cancelled first. The session ends when ctx is done, on Cancel, on a
// final status, or after MaxDuration.
func (p *Poller) Start(ctx context.Context, remoteID string) *Session {
	p.mu.Lock()
	if p.current != nil {
		p.logger.Debug("superseding polling session",
			zap.String("previous_transaction_id", p.current.RemoteID),
			zap.String("transaction_id", remoteID),
		)
		p.current.cancel()
	}
	p.generation++

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		RemoteID:   remoteID,
		generation: p.generation,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	p.current = s
	ticker := p.newTicker(p.cfg.Interval)
	p.mu.Unlock()

	p.metrics.SessionStarted()
	p.logger.Info("polling started",
		zap.String("transaction_id", remoteID),
		zap.Uint64("generation", s.generation),
		zap.Duration("interval", p.cfg.Interval),
	)

	go p.run(sctx, s, ticker)
	return s
}

// Cancel stops the active session, if any. Safe to call at any time and
// more than once.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	if p.current != nil {
		p.current.cancel()
		p.current = nil
	}
}

// Active returns the running session or nil.
func (p *Poller) Active() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Poller) run(ctx context.Context, s *Session, ticker Ticker) {
	defer func() {
		ticker.Stop()
		s.cancel()
		p.metrics.SessionEnded()
		close(s.done)
	}()

	var expired <-chan time.Time
	if p.cfg.MaxDuration > 0 {
		timer := time.NewTimer(p.cfg.MaxDuration)
		defer timer.Stop()
		expired = timer.C
	}

	var last domain.Status
	for {
		select {
		case <-ctx.Done():
			p.finish(s, last, domain.ErrPollingCancelled)
			return

		case <-expired:
			p.logger.Warn("polling expired without a final status",
				zap.String("transaction_id", s.RemoteID),
				zap.Duration("max_duration", p.cfg.MaxDuration),
			)
			p.finish(s, last, domain.ErrPollingExpired)
			return

		case <-ticker.C():
			status, ok := p.tick(ctx, s)
			if !ok {
				continue
			}
			if !p.live(s) {
				p.finish(s, last, domain.ErrPollingCancelled)
				return
			}
			last = status

			if status.Terminal() {
				if p.finish(s, status, nil) == nil {
					p.emit(s, status)
				}
				return
			}
			p.emit(s, status)
		}
	}
}

// tick performs one status check. Transport errors are logged and counted;
// the next tick is attempted regardless.
func (p *Poller) tick(ctx context.Context, s *Session) (domain.Status, bool) {
	ctx, span := tracer.Start(ctx, "Poller.tick")
	defer span.End()
	span.SetAttributes(
		attribute.String("tx.remote_id", s.RemoteID),
		attribute.Int64("poll.generation", int64(s.generation)),
	)

	s.ticks.Add(1)
	start := time.Now()
	status, err := p.fetcher.GetStatus(ctx, s.RemoteID)
	p.metrics.RecordRequestDuration("poll_status", time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		span.RecordError(err)
		p.metrics.IncrPollTick("error")
		p.logger.Warn("status check failed, will retry on next tick",
			zap.Error(&domain.ErrPollingTransport{RemoteID: s.RemoteID, Err: err}),
			zap.Int("tick", s.Ticks()),
		)
		return "", false
	}

	p.metrics.IncrPollTick(string(status))
	span.SetAttributes(attribute.String("tx.status", string(status)))
	p.logger.Debug("status checked",
		zap.String("transaction_id", s.RemoteID),
		zap.String("status", string(status)),
		zap.Int("tick", s.Ticks()),
	)
	return status, true
}

func (p *Poller) live(s *Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation == s.generation
}

// finish records the session result. A final status that lost the race
// against Cancel or Start is reported as cancelled.
func (p *Poller) finish(s *Session, status domain.Status, err error) error {
	p.mu.Lock()
	if err == nil && p.generation != s.generation {
		err = domain.ErrPollingCancelled
	}
	if p.current == s {
		p.current = nil
	}
	p.mu.Unlock()

	s.status, s.err = status, err
	p.logger.Info("polling stopped",
		zap.String("transaction_id", s.RemoteID),
		zap.Uint64("generation", s.generation),
		zap.String("status", string(status)),
		zap.Int("ticks", s.Ticks()),
		zap.NamedError("reason", err),
	)
	return err
}

func (p *Poller) emit(s *Session, status domain.Status) {
	if p.onUpdate != nil {
		p.onUpdate(Update{RemoteID: s.RemoteID, Generation: s.generation, Status: status})
	}
}
