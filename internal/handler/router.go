package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/auth"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/lifecycle"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
// breaker is the gateway circuit breaker, reported by /healthz and /readyz.
func NewRouter(ctrl *lifecycle.Controller, verifier *auth.Verifier, breaker *gobreaker.CircuitBreaker, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(breaker))
	r.Get("/readyz", readyzHandler(breaker))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// 1. Chave PIX (stateless)
		// POST /v1/pix/keys/classify
		// =============================================
		r.Post("/pix/keys/classify", classifyHandler(logger))

		// =============================================
		// 2. Métricas do ciclo de vida
		// GET /v1/metrics/lifecycle
		// =============================================
		r.Get("/metrics/lifecycle", lifecycleMetricsHandler(metrics))

		// --- Authenticated routes ---
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(verifier, logger))

			// =============================================
			// 3. Submissões
			// POST /v1/deposits | /v1/withdrawals | /v1/transfers
			// =============================================
			r.Post("/deposits", submitHandler(ctrl, domain.KindDeposit, metrics, logger))
			r.Post("/withdrawals", submitHandler(ctrl, domain.KindWithdrawal, metrics, logger))
			r.Post("/transfers", submitHandler(ctrl, domain.KindTransfer, metrics, logger))

			// =============================================
			// 4. Ciclo de vida por formulário
			// GET | DELETE /v1/lifecycles/{kind}
			// =============================================
			r.Get("/lifecycles/{kind}", lifecycleSnapshotHandler(ctrl))
			r.Delete("/lifecycles/{kind}", lifecycleCancelHandler(ctrl, logger))

			// =============================================
			// 5. Status da transação
			// GET /v1/transactions/{transactionId}/status
			// =============================================
			r.Get("/transactions/{transactionId}/status", transactionStatusHandler(ctrl, logger))
		})
	})

	return r
}

// ============================================================
// Health
// ============================================================

func gatewayHealth(breaker *gobreaker.CircuitBreaker) domain.ServiceHealth {
	h := domain.ServiceHealth{Name: "gateway", Status: "healthy", LastChecked: time.Now().Format(time.RFC3339)}
	if breaker == nil {
		return h
	}
	h.Detail = "circuit " + breaker.State().String()
	switch breaker.State() {
	case gobreaker.StateOpen:
		h.Status = "unhealthy"
	case gobreaker.StateHalfOpen:
		h.Status = "degraded"
	}
	return h
}

func healthzHandler(breaker *gobreaker.CircuitBreaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)
		services := []domain.ServiceHealth{
			{Name: "bfa-api", Status: "healthy", LastChecked: now},
			gatewayHealth(breaker),
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

// readyzHandler fails while the gateway circuit is open: new submissions
// would be refused anyway.
func readyzHandler(breaker *gobreaker.CircuitBreaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if breaker != nil && breaker.State() == gobreaker.StateOpen {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "gateway unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func lifecycleMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
