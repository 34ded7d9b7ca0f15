// Package lifecycle drives a payment from form submission to a final
// gateway status: build and validate the request, submit it once, then poll
// until the transaction settles.
//
// Work is organised in slots. A slot is one logical form (for the HTTP
// facade, one merchant and one transaction kind). Each slot moves through
//
//	Idle → Submitting → Polling → Terminal
//
// and never holds more than one submission in flight.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/poller"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/port"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/txrequest"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("lifecycle")

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("lifecycle controller is shut down")

const publishTimeout = 5 * time.Second

// State is the position of a slot in its lifecycle.
type State string

const (
	StateIdle       State = "IDLE"
	StateSubmitting State = "SUBMITTING"
	StatePolling    State = "POLLING"
	StateTerminal   State = "TERMINAL"
)

// Busy reports whether a submission is in flight.
func (s State) Busy() bool {
	return s == StateSubmitting || s == StatePolling
}

// SlotKey builds the slot key for one merchant's form of a given kind.
func SlotKey(merchantID string, kind domain.Kind) string {
	return merchantID + ":" + string(kind)
}

// slotMerchant recovers the merchant from a key built by SlotKey. Keys
// without a kind suffix belong to a merchant named after the whole key.
func slotMerchant(key string) string {
	if i := strings.LastIndex(key, ":"); i > 0 {
		return key[:i]
	}
	return key
}

// Snapshot is a point-in-time copy of a slot.
type Snapshot struct {
	Slot        string              `json:"slot"`
	State       State               `json:"state"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`

	// PendingExternalID is kept after an attempt that never reached the
	// gateway and is reused by the next submission on the slot.
	PendingExternalID string `json:"pendingExternalId,omitempty"`
	LastError         string `json:"lastError,omitempty"`
}

type slot struct {
	key        string
	merchantID string
	state      State
	poller     *poller.Poller
	pending    txrequest.Pending
	tx         *domain.Transaction
	current    *Lifecycle
	lastErr    string
}

// Controller orchestrates request building, submission and polling for
// every slot.
type Controller struct {
	builder  *txrequest.Builder
	gateway  port.TransactionGateway
	events   port.EventPublisher
	statuses port.Cache[domain.Transaction]
	pollCfg  poller.Config
	pollOpts []poller.Option
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	slots    map[string]*slot
	byRemote map[string]*slot
	closed   bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithPollerOptions is passed to every slot's poller.
func WithPollerOptions(opts ...poller.Option) Option {
	return func(c *Controller) { c.pollOpts = append(c.pollOpts, opts...) }
}

// WithClock replaces time.Now for transaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates the lifecycle controller with all dependencies injected.
func NewController(
	builder *txrequest.Builder,
	gateway port.TransactionGateway,
	events port.EventPublisher,
	statuses port.Cache[domain.Transaction],
	pollCfg poller.Config,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *Controller {
	ctx, stop := context.WithCancel(context.Background())
	c := &Controller{
		builder:  builder,
		gateway:  gateway,
		events:   events,
		statuses: statuses,
		pollCfg:  pollCfg,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		baseCtx:  ctx,
		stop:     stop,
		slots:    make(map[string]*slot),
		byRemote: make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit validates form, submits it and starts polling the resulting
// transaction. It returns once the gateway accepted the request; the final
// status is delivered through the returned Lifecycle.
//
// Validation errors make no network call and consume no external id. An
// external id kept from an undelivered attempt is reused only if form
// still describes the same request. A second Submit on a busy slot fails
// with domain.ErrSubmissionInFlight.
func (c *Controller) Submit(ctx context.Context, slotKey string, kind domain.Kind, form txrequest.FormState) (*Lifecycle, error) {
	ctx, span := tracer.Start(ctx, "Controller.Submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("lifecycle.slot", slotKey),
		attribute.String("tx.kind", string(kind)),
	)

	start := time.Now()
	defer func() {
		c.metrics.RecordRequestDuration("submit_"+string(kind), time.Since(start))
	}()

	// --- Step 1: claim the slot ---
	s, pending, err := c.claim(slotKey)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// --- Step 2: validate, then mint or reuse the external id ---
	var req *domain.Request
	if pending.ExternalID != "" {
		req, err = c.builder.Rebuild(kind, form, pending)
	} else {
		req, err = c.builder.Build(kind, form)
	}
	if err != nil {
		c.release(s, pending, err)
		c.metrics.IncrSubmission(string(kind), "invalid")
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("tx.external_id", req.ExternalID()))

	// --- Step 3: submit once ---
	res, err := c.gateway.Submit(ctx, req)
	if err != nil {
		var subErr *domain.ErrSubmission
		var keep txrequest.Pending
		outcome := "rejected"
		if errors.As(err, &subErr) && !subErr.Delivered {
			keep = txrequest.Pending{ExternalID: req.ExternalID(), Fingerprint: req.Fingerprint()}
			outcome = "undelivered"
		}
		c.release(s, keep, err)
		c.metrics.IncrSubmission(string(kind), outcome)
		c.metrics.IncrExternalError("gateway")
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission failed")
		c.logger.Warn("submission failed",
			zap.String("slot", slotKey),
			zap.String("external_id", req.ExternalID()),
			zap.Bool("external_id_kept", keep.ExternalID != ""),
			zap.Error(err),
		)
		return nil, err
	}
	c.metrics.IncrSubmission(string(kind), "accepted")
	span.SetAttributes(attribute.String("tx.remote_id", res.RemoteID))

	// --- Step 4: start polling ---
	return c.accept(s, req, res), nil
}

// claim moves the slot to Submitting and hands back the undelivered
// attempt, if any.
func (c *Controller) claim(slotKey string) (*slot, txrequest.Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, txrequest.Pending{}, ErrClosed
	}
	s := c.slotFor(slotKey)
	if s.state.Busy() {
		return nil, txrequest.Pending{}, domain.ErrSubmissionInFlight
	}
	s.state = StateSubmitting
	s.lastErr = ""
	return s, s.pending, nil
}

// release returns a slot to Idle after a failed attempt.
func (c *Controller) release(s *slot, pending txrequest.Pending, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.state = StateIdle
	s.pending = pending
	s.lastErr = cause.Error()
}

func (c *Controller) accept(s *slot, req *domain.Request, res *domain.SubmitResult) *Lifecycle {
	now := c.now()
	amount := res.Amount
	if amount.IsZero() {
		amount = req.Amount()
	}
	tx := domain.Transaction{
		ExternalID: req.ExternalID(),
		Kind:       req.Kind(),
		Amount:     amount,
		RemoteID:   res.RemoteID,
		Status:     res.Status,
		Fee:        res.Fee,
		QRCode:     res.QRCode,
		MerchantID: s.merchantID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	lc := newLifecycle(s.key, tx)

	c.mu.Lock()
	s.pending = txrequest.Pending{}
	if s.tx != nil {
		delete(c.byRemote, s.tx.RemoteID)
	}
	s.tx = &tx
	s.current = lc
	c.byRemote[tx.RemoteID] = s
	c.statuses.Set(tx.RemoteID, tx)

	if tx.Status.Terminal() {
		s.state = StateTerminal
		c.mu.Unlock()
		c.logger.Info("gateway settled transaction on submission",
			zap.String("slot", s.key),
			zap.String("transaction_id", tx.RemoteID),
			zap.String("status", string(tx.Status)),
		)
		c.conclude(lc, tx)
		return lc
	}

	if c.closed {
		s.state = StateIdle
		c.mu.Unlock()
		lc.resolve(tx, domain.ErrPollingCancelled)
		return lc
	}

	s.state = StatePolling
	lc.session = s.poller.Start(c.baseCtx, tx.RemoteID)
	c.wg.Add(1)
	c.mu.Unlock()

	if tx.Status == domain.StatusRetained {
		c.publish(s.key, tx, "held")
	}
	go c.watch(s, lc)
	return lc
}

// watch waits for the polling session and settles the lifecycle.
func (c *Controller) watch(s *slot, lc *Lifecycle) {
	defer c.wg.Done()

	status, err := lc.session.Result()

	c.mu.Lock()
	if s.current != lc || s.state != StatePolling {
		// cancelled by Cancel, which already released the slot
		c.mu.Unlock()
		lc.resolve(lc.Accepted, domain.ErrPollingCancelled)
		return
	}
	tx := *s.tx
	if err == nil {
		tx.Status = status
		tx.UpdatedAt = c.now()
		*s.tx = tx
		s.state = StateTerminal
	} else {
		s.state = StateIdle
		s.lastErr = err.Error()
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Info("lifecycle ended without a final status",
			zap.String("slot", s.key),
			zap.String("transaction_id", tx.RemoteID),
			zap.Error(err),
		)
		lc.resolve(tx, err)
		return
	}
	c.statuses.Set(tx.RemoteID, tx)
	c.conclude(lc, tx)
}

// conclude resolves lc with its final transaction and reports it.
func (c *Controller) conclude(lc *Lifecycle, tx domain.Transaction) {
	c.metrics.IncrLifecycleOutcome(string(tx.Kind), string(tx.Status))
	c.logger.Info("transaction settled",
		zap.String("slot", lc.Slot),
		zap.String("external_id", tx.ExternalID),
		zap.String("transaction_id", tx.RemoteID),
		zap.String("status", string(tx.Status)),
	)

	c.publish(lc.Slot, tx, "settled")
	lc.resolve(tx, nil)
}

func (c *Controller) publish(slotKey string, tx domain.Transaction, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	event := &domain.LifecycleEvent{Slot: slotKey, Transaction: tx, Reason: reason}
	if err := c.events.PublishLifecycle(ctx, event); err != nil {
		c.logger.Error("failed to publish lifecycle event",
			zap.String("transaction_id", tx.RemoteID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

// onUpdate refreshes the slot's transaction with a status observed by its
// poller. The first RETAINED observation is published as a held event.
func (c *Controller) onUpdate(s *slot) func(poller.Update) {
	return func(u poller.Update) {
		c.mu.Lock()
		if s.tx == nil || s.tx.RemoteID != u.RemoteID || s.state != StatePolling {
			c.mu.Unlock()
			return
		}
		held := u.Status == domain.StatusRetained && s.tx.Status != domain.StatusRetained
		s.tx.Status = u.Status
		s.tx.UpdatedAt = c.now()
		tx := *s.tx
		c.mu.Unlock()

		c.statuses.Set(tx.RemoteID, tx)
		if held {
			c.publish(s.key, tx, "held")
		}
	}
}

// slotFor returns the slot for key, creating it. Callers hold c.mu.
func (c *Controller) slotFor(key string) *slot {
	if s, ok := c.slots[key]; ok {
		return s
	}
	s := &slot{key: key, merchantID: slotMerchant(key), state: StateIdle}
	opts := append([]poller.Option{poller.WithUpdateHandler(c.onUpdate(s))}, c.pollOpts...)
	s.poller = poller.New(c.gateway, c.pollCfg, c.metrics, c.logger.With(zap.String("slot", key)), opts...)
	c.slots[key] = s
	return s
}

// Cancel stops polling on slotKey and returns the slot to Idle before it
// returns, so a Submit right after Cancel is accepted. The pending
// Lifecycle resolves with domain.ErrPollingCancelled. Unknown or idle slots
// are a no-op.
func (c *Controller) Cancel(slotKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[slotKey]
	if !ok {
		return
	}
	s.poller.Cancel()
	if s.state == StatePolling {
		s.state = StateIdle
		s.lastErr = domain.ErrPollingCancelled.Error()
	}
}

// Snapshot returns a copy of the slot's state.
func (c *Controller) Snapshot(slotKey string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[slotKey]
	if !ok {
		return Snapshot{Slot: slotKey, State: StateIdle}
	}
	snap := Snapshot{
		Slot:              s.key,
		State:             s.state,
		PendingExternalID: s.pending.ExternalID,
		LastError:         s.lastErr,
	}
	if s.tx != nil {
		tx := *s.tx
		snap.Transaction = &tx
	}
	return snap
}

// TransactionStatus returns the status of remoteID for merchantID. A
// status is served from memory while a poller keeps it fresh or once it is
// final; otherwise the gateway is asked. Transactions this controller did
// not submit for merchantID are reported as domain.ErrNotFound.
func (c *Controller) TransactionStatus(ctx context.Context, merchantID, remoteID string) (domain.Status, error) {
	ctx, span := tracer.Start(ctx, "Controller.TransactionStatus")
	defer span.End()
	span.SetAttributes(attribute.String("tx.remote_id", remoteID))

	tx, polling, ok := c.lookup(remoteID)
	if !ok || tx.MerchantID != merchantID {
		return "", &domain.ErrNotFound{Resource: "transaction", ID: remoteID}
	}
	if polling || tx.Status.Terminal() {
		c.metrics.IncrCacheHit("status")
		return tx.Status, nil
	}
	c.metrics.IncrCacheMiss("status")

	status, err := c.gateway.GetStatus(ctx, remoteID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if !errors.As(err, &notFound) {
			c.metrics.IncrExternalError("gateway")
		}
		return "", fmt.Errorf("status fetch: %w", err)
	}
	tx.Status = status
	tx.UpdatedAt = c.now()
	c.statuses.Set(remoteID, tx)
	return status, nil
}

// lookup returns the last known state of remoteID and whether a poller is
// currently refreshing it. The status cache wins over the slot's copy,
// which stops changing once polling ends.
func (c *Controller) lookup(remoteID string) (domain.Transaction, bool, bool) {
	var (
		tracked domain.Transaction
		found   bool
		polling bool
	)
	c.mu.Lock()
	if s, ok := c.byRemote[remoteID]; ok && s.tx != nil && s.tx.RemoteID == remoteID {
		tracked, found = *s.tx, true
		polling = s.state == StatePolling
	}
	c.mu.Unlock()

	if tx, ok := c.statuses.Get(remoteID); ok {
		return tx, polling, true
	}
	return tracked, polling, found
}

// Shutdown cancels every polling session and waits for them to stop.
// Submit fails with ErrClosed afterwards.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.stop()
	c.wg.Wait()
	c.logger.Info("lifecycle controller stopped")
}
