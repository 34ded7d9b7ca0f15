package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/auth"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/handler"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/idempotency"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/cache"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/events"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/gateway"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/lifecycle"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/poller"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/txrequest"

	"go.uber.org/zap"
)

// TestIntegration_WithdrawalFullFlow spins up a mock payment gateway and
// drives a withdrawal from the HTTP facade to its final status.
func TestIntegration_WithdrawalFullFlow(t *testing.T) {
	// --- Mock payment gateway ---
	var (
		mu         sync.Mutex
		submitted  domain.WithdrawalRequest
		idemKey    string
		statusHits atomic.Int32
	)
	gatewayServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/withdrawals":
			mu.Lock()
			idemKey = r.Header.Get("Idempotency-Key")
			json.NewDecoder(r.Body).Decode(&submitted)
			mu.Unlock()
			w.Write([]byte(`{"withdrawal":{"transaction_id":"wd_tx_42","status":"PENDING","amount":150.75,"fee":"1.50"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/transactions/wd_tx_42/status":
			if statusHits.Add(1) < 2 {
				w.Write([]byte(`{"status":"PENDING"}`))
				return
			}
			w.Write([]byte(`{"status":"COMPLETED"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer gatewayServer.Close()

	// --- Build the stack ---
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	cb := resilience.NewCircuitBreaker("gateway-integration", logger)
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}
	client := gateway.NewClient(&http.Client{Timeout: 5 * time.Second}, gatewayServer.URL, "sk_integration", cb, cfg, logger)

	statuses := cache.New[domain.Transaction](time.Minute)
	defer statuses.Close()

	ctrl := lifecycle.NewController(
		txrequest.NewBuilder(idempotency.NewFactory(), "https://loja.example/webhook"),
		client,
		events.NewLogPublisher(logger),
		statuses,
		poller.Config{Interval: 10 * time.Millisecond},
		metrics,
		logger,
	)
	defer ctrl.Shutdown()

	verifier := auth.NewVerifier(testSecret)
	router := handler.NewRouter(ctrl, verifier, cb, metrics, logger)
	token, err := verifier.Issue("merchant-int", "11222333000181", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	// --- Submit and wait for the final status ---
	body := `{"amount":"150,75","pixKey":"(11) 98765-4321","availableBalance":"1000","description":"saque"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/withdrawals?wait=2s", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.SubmitResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.TransactionID != "wd_tx_42" || resp.Status != domain.StatusCompleted {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Fee.String() != "1.5" {
		t.Errorf("expected fee 1.5, got %s", resp.Fee)
	}

	// --- What the gateway saw ---
	mu.Lock()
	defer mu.Unlock()
	if submitted.PixKey != "11987654321" || submitted.KeyType != domain.KeyTypePhone {
		t.Errorf("expected normalized phone key, got %s (%s)", submitted.PixKey, submitted.KeyType)
	}
	if string(submitted.Amount) != "150.75" {
		t.Errorf("expected amount 150.75, got %s", submitted.Amount)
	}
	if idemKey != resp.ExternalID || !strings.HasPrefix(idemKey, "wd_") {
		t.Errorf("expected Idempotency-Key %s, got %s", resp.ExternalID, idemKey)
	}
	if statusHits.Load() != 2 {
		t.Errorf("expected 2 status checks, got %d", statusHits.Load())
	}

	// --- Metrics ---
	snap := metrics.Snapshot()
	if snap.Submitted != 1 || snap.Completed != 1 || snap.ActiveSessions != 0 {
		t.Errorf("unexpected metrics snapshot %+v", snap)
	}
}
