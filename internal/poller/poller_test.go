package poller_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/poller"

	"go.uber.org/zap"
)

// ============================================================
// Test doubles
// ============================================================

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

// tick delivers one tick and fails if the session does not take it.
func (f *fakeTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case f.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("tick was not consumed")
	}
}

// taken reports whether a tick is consumed within a short window.
func (f *fakeTicker) taken() bool {
	select {
	case f.ch <- time.Now():
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

type tickerFactory struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (f *tickerFactory) New(time.Duration) poller.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *tickerFactory) at(i int) *fakeTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickers[i]
}

type step struct {
	status domain.Status
	err    error
}

// scriptedFetcher replays steps; the last one repeats forever.
type scriptedFetcher struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (f *scriptedFetcher) GetStatus(_ context.Context, _ string) (domain.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	return f.steps[i].status, f.steps[i].err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []poller.Update
}

func (r *updateRecorder) record(u poller.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *updateRecorder) all() []poller.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]poller.Update(nil), r.updates...)
}

func newPoller(fetcher *scriptedFetcher, tickers *tickerFactory, rec *updateRecorder, metrics *observability.Metrics) *poller.Poller {
	return poller.New(fetcher, poller.Config{Interval: time.Second}, metrics, zap.NewNop(),
		poller.WithTicker(tickers.New),
		poller.WithUpdateHandler(rec.record),
	)
}

func waitDone(t *testing.T, s *poller.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
}

// ============================================================
// Tests
// ============================================================

func TestPoller_StopsOnCompletedAfterThreeTicks(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{status: domain.StatusPending},
		{status: domain.StatusPending},
		{status: domain.StatusCompleted},
	}}
	tickers := &tickerFactory{}
	rec := &updateRecorder{}
	metrics := observability.NewMetrics()
	p := newPoller(fetcher, tickers, rec, metrics)

	s := p.Start(context.Background(), "tx_1")
	ticker := tickers.at(0)
	for i := 0; i < 3; i++ {
		ticker.tick(t)
	}
	waitDone(t, s)

	status, err := s.Result()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if status != domain.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", status)
	}
	if s.Ticks() != 3 || fetcher.Calls() != 3 {
		t.Errorf("expected exactly 3 ticks, got %d ticks / %d calls", s.Ticks(), fetcher.Calls())
	}
	if !ticker.stopped.Load() {
		t.Error("expected ticker to be stopped after the final status")
	}
	if ticker.taken() {
		t.Error("expected no further ticks after COMPLETED")
	}
	if len(rec.all()) != 3 {
		t.Errorf("expected 3 updates, got %d", len(rec.all()))
	}
	if p.Active() != nil {
		t.Error("expected no active session")
	}
	if snap := metrics.Snapshot(); snap.ActiveSessions != 0 || snap.PollTicks != 3 {
		t.Errorf("unexpected metrics snapshot %+v", snap)
	}
}

func TestPoller_CancelMidSessionStopsTicks(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{status: domain.StatusPending}}}
	tickers := &tickerFactory{}
	p := newPoller(fetcher, tickers, &updateRecorder{}, observability.NewMetrics())

	s := p.Start(context.Background(), "tx_1")
	ticker := tickers.at(0)
	ticker.tick(t)
	ticker.tick(t)

	p.Cancel()
	p.Cancel()
	waitDone(t, s)

	if _, err := s.Result(); !errors.Is(err, domain.ErrPollingCancelled) {
		t.Errorf("expected ErrPollingCancelled, got %v", err)
	}
	if ticker.taken() {
		t.Error("expected no ticks after cancel")
	}
	if fetcher.Calls() != 2 {
		t.Errorf("expected 2 status calls, got %d", fetcher.Calls())
	}
	if !ticker.stopped.Load() {
		t.Error("expected ticker to be stopped")
	}
}

func TestPoller_CancelWithoutSession(t *testing.T) {
	p := newPoller(&scriptedFetcher{}, &tickerFactory{}, &updateRecorder{}, observability.NewMetrics())
	p.Cancel()
	if p.Active() != nil {
		t.Error("expected no active session")
	}
}

func TestPoller_StopsOnFailed(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{status: domain.StatusPending},
		{status: domain.StatusFailed},
	}}
	tickers := &tickerFactory{}
	p := newPoller(fetcher, tickers, &updateRecorder{}, observability.NewMetrics())

	s := p.Start(context.Background(), "tx_1")
	tickers.at(0).tick(t)
	tickers.at(0).tick(t)
	waitDone(t, s)

	status, err := s.Result()
	if err != nil || status != domain.StatusFailed {
		t.Errorf("expected FAILED without error, got %s / %v", status, err)
	}
}

func TestPoller_RetainedKeepsPolling(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{status: domain.StatusRetained},
		{status: domain.StatusRetained},
		{status: domain.StatusCompleted},
	}}
	tickers := &tickerFactory{}
	rec := &updateRecorder{}
	p := newPoller(fetcher, tickers, rec, observability.NewMetrics())

	s := p.Start(context.Background(), "tx_1")
	for i := 0; i < 3; i++ {
		tickers.at(0).tick(t)
	}
	waitDone(t, s)

	updates := rec.all()
	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(updates))
	}
	if updates[0].Status != domain.StatusRetained || updates[2].Status != domain.StatusCompleted {
		t.Errorf("unexpected updates %+v", updates)
	}
}

func TestPoller_TransportErrorsDoNotStopPolling(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{status: domain.StatusCompleted},
	}}
	tickers := &tickerFactory{}
	rec := &updateRecorder{}
	metrics := observability.NewMetrics()
	p := newPoller(fetcher, tickers, rec, metrics)

	s := p.Start(context.Background(), "tx_1")
	for i := 0; i < 3; i++ {
		tickers.at(0).tick(t)
	}
	waitDone(t, s)

	if status, err := s.Result(); err != nil || status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s / %v", status, err)
	}
	if len(rec.all()) != 1 {
		t.Errorf("expected failed ticks to emit nothing, got %d updates", len(rec.all()))
	}
	snap := metrics.Snapshot()
	if snap.PollErrors != 2 || snap.PollTicks != 3 {
		t.Errorf("expected 2 errors out of 3 ticks, got %+v", snap)
	}
}

func TestPoller_StartSupersedesActiveSession(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{status: domain.StatusPending}}}
	tickers := &tickerFactory{}
	p := newPoller(fetcher, tickers, &updateRecorder{}, observability.NewMetrics())

	first := p.Start(context.Background(), "tx_1")
	second := p.Start(context.Background(), "tx_2")
	waitDone(t, first)

	if _, err := first.Result(); !errors.Is(err, domain.ErrPollingCancelled) {
		t.Errorf("expected first session cancelled, got %v", err)
	}
	if p.Active() != second {
		t.Error("expected second session to be active")
	}
	if second.Generation() <= first.Generation() {
		t.Errorf("expected increasing generations, got %d then %d", first.Generation(), second.Generation())
	}

	p.Cancel()
	waitDone(t, second)
}

// blockingFetcher answers tx_1 only after release is closed, ignoring ctx,
// like a response already in flight when the session is superseded.
type blockingFetcher struct {
	release chan struct{}
	entered chan struct{}
}

func (f *blockingFetcher) GetStatus(_ context.Context, remoteID string) (domain.Status, error) {
	if remoteID == "tx_1" {
		close(f.entered)
		<-f.release
		return domain.StatusCompleted, nil
	}
	return domain.StatusPending, nil
}

func TestPoller_DiscardsResponseFromSupersededSession(t *testing.T) {
	fetcher := &blockingFetcher{release: make(chan struct{}), entered: make(chan struct{})}
	tickers := &tickerFactory{}
	rec := &updateRecorder{}
	p := poller.New(fetcher, poller.Config{Interval: time.Second}, observability.NewMetrics(), zap.NewNop(),
		poller.WithTicker(tickers.New),
		poller.WithUpdateHandler(rec.record),
	)

	stale := p.Start(context.Background(), "tx_1")
	tickers.at(0).tick(t)
	<-fetcher.entered

	fresh := p.Start(context.Background(), "tx_2")
	close(fetcher.release)
	waitDone(t, stale)

	if _, err := stale.Result(); !errors.Is(err, domain.ErrPollingCancelled) {
		t.Errorf("expected stale session cancelled, got %v", err)
	}
	for _, u := range rec.all() {
		if u.RemoteID == "tx_1" {
			t.Errorf("stale update leaked: %+v", u)
		}
	}

	p.Cancel()
	waitDone(t, fresh)
}

func TestPoller_MaxDurationExpires(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{status: domain.StatusPending}}}
	p := poller.New(fetcher, poller.Config{Interval: time.Second, MaxDuration: 20 * time.Millisecond},
		observability.NewMetrics(), zap.NewNop(), poller.WithTicker((&tickerFactory{}).New))

	s := p.Start(context.Background(), "tx_1")
	waitDone(t, s)

	if _, err := s.Result(); !errors.Is(err, domain.ErrPollingExpired) {
		t.Errorf("expected ErrPollingExpired, got %v", err)
	}
}

func TestPoller_ParentContextEndsSession(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{status: domain.StatusPending}}}
	p := newPoller(fetcher, &tickerFactory{}, &updateRecorder{}, observability.NewMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	s := p.Start(ctx, "tx_1")
	cancel()
	waitDone(t, s)

	if _, err := s.Result(); !errors.Is(err, domain.ErrPollingCancelled) {
		t.Errorf("expected ErrPollingCancelled, got %v", err)
	}
}

func TestPoller_DefaultInterval(t *testing.T) {
	var got time.Duration
	p := poller.New(&scriptedFetcher{steps: []step{{status: domain.StatusPending}}}, poller.Config{},
		observability.NewMetrics(), zap.NewNop(),
		poller.WithTicker(func(d time.Duration) poller.Ticker {
			got = d
			return (&tickerFactory{}).New(d)
		}),
	)

	s := p.Start(context.Background(), "tx_1")
	p.Cancel()
	waitDone(t, s)

	if got != poller.DefaultInterval {
		t.Errorf("expected %s, got %s", poller.DefaultInterval, got)
	}
}
