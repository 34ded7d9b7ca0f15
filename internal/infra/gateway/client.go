// Package gateway is the HTTP client for the external PIX payment gateway:
// it submits deposits, withdrawals and transfers and fetches transaction
// status. It is the only package that knows the gateway's wire format.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/resilience"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("gateway")

const serviceName = "gateway"

// defaultStatusTimeout bounds a shared status check when the HTTP client
// has no timeout of its own.
const defaultStatusTimeout = 10 * time.Second

// StatusError is a non-2xx answer from the gateway. The request was
// delivered, so its external id must not be reused.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway returned status %d", e.StatusCode)
}

// Client talks to the payment gateway with circuit breaker, delivery-only
// retries and tracing.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bulkhead   *resilience.Bulkhead
	inflight   singleflight.Group
	logger     *zap.Logger
}

// NewClient creates a gateway Client. Concurrent status checks are capped at
// cfg.MaxConcurrency.
func NewClient(httpClient *http.Client, baseURL, apiKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		cb:         cb,
		cfg:        cfg,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
		logger:     logger,
	}
}

// Submit sends req to the gateway. Only failures that never reached the
// gateway are retried, always with the same external id. Errors are
// *domain.ErrSubmission.
func (c *Client) Submit(ctx context.Context, req *domain.Request) (*domain.SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "GatewayClient.Submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("tx.kind", string(req.Kind())),
		attribute.String("tx.external_id", req.ExternalID()),
	)

	path, body, err := submitPayload(req)
	if err != nil {
		return nil, &domain.ErrSubmission{Kind: req.Kind(), Delivered: false, Err: err}
	}

	var rejected error
	result, err := c.cb.Execute(func() (any, error) {
		var raw []byte
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, IsUndelivered, func() error {
			var err error
			raw, err = c.do(ctx, http.MethodPost, path, req.ExternalID(), body)
			return err
		})

		var statusErr *StatusError
		if errors.As(innerErr, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError {
			// A business rejection says nothing about gateway health.
			rejected = innerErr
			return nil, nil
		}
		if innerErr != nil {
			return nil, innerErr
		}
		return decodeSubmit(req.Kind(), raw)
	})
	if rejected != nil {
		err = rejected
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return nil, &domain.ErrSubmission{
			Kind:      req.Kind(),
			Delivered: !IsUndelivered(err),
			Err:       &domain.ErrExternalService{Service: serviceName, StatusCode: statusCode(err), Err: err},
		}
	}

	res := result.(*domain.SubmitResult)
	span.SetAttributes(attribute.String("tx.remote_id", res.RemoteID))
	c.logger.Info("gateway accepted submission",
		zap.String("kind", string(req.Kind())),
		zap.String("external_id", req.ExternalID()),
		zap.String("transaction_id", res.RemoteID),
		zap.String("status", string(res.Status)),
	)
	return res, nil
}

// GetStatus fetches the current status of remoteID. Concurrent calls for
// the same id share one request, which runs detached from any single
// caller's cancellation and is bounded by the HTTP client timeout. A 404
// or an unrecognized status does not count against the circuit breaker.
func (c *Client) GetStatus(ctx context.Context, remoteID string) (domain.Status, error) {
	ctx, span := tracer.Start(ctx, "GatewayClient.GetStatus")
	defer span.End()
	span.SetAttributes(attribute.String("tx.remote_id", remoteID))

	ch := c.inflight.DoChan(remoteID, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.statusTimeout())
		defer cancel()
		return c.fetchStatus(sctx, remoteID)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	span.SetAttributes(attribute.Bool("singleflight.shared", res.Shared))

	if err := res.Err; err != nil {
		span.RecordError(err)
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return "", err
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			return "", &domain.ErrCircuitOpen{Service: serviceName}
		}
		return "", &domain.ErrExternalService{Service: serviceName, StatusCode: statusCode(err), Err: err}
	}
	return res.Val.(domain.Status), nil
}

func (c *Client) fetchStatus(ctx context.Context, remoteID string) (domain.Status, error) {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return "", err
	}
	defer c.bulkhead.Release()

	var rejected error
	v, err := c.cb.Execute(func() (any, error) {
		raw, err := c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(remoteID)+"/status", "", nil)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError {
			rejected = err
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		var resp domain.StatusResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
		status, err := domain.ParseStatus(resp.Status)
		if err != nil {
			rejected = err
			return nil, nil
		}
		return status, nil
	})
	if rejected != nil {
		if statusCode(rejected) == http.StatusNotFound {
			return "", &domain.ErrNotFound{Resource: "transaction", ID: remoteID}
		}
		return "", rejected
	}
	if err != nil {
		return "", err
	}
	return v.(domain.Status), nil
}

func (c *Client) statusTimeout() time.Duration {
	if c.httpClient.Timeout > 0 {
		return c.httpClient.Timeout
	}
	return defaultStatusTimeout
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	return raw, nil
}

// IsUndelivered reports whether err proves the request never reached the
// gateway: refused or unresolvable connections and an open circuit.
func IsUndelivered(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func statusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
