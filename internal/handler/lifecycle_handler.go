package handler

import (
	"net/http"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/lifecycle"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Lifecycle slots: snapshot, teardown
// ============================================================

// slotFromRequest resolves the caller's slot for the {kind} URL param.
func slotFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return lifecycle.SlotKey(MerchantIDFromContext(r.Context()), kind), true
}

func lifecycleSnapshotHandler(ctrl *lifecycle.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slot, ok := slotFromRequest(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, ctrl.Snapshot(slot))
	}
}

// lifecycleCancelHandler is called when the dashboard view is torn down.
func lifecycleCancelHandler(ctrl *lifecycle.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slot, ok := slotFromRequest(w, r)
		if !ok {
			return
		}
		ctrl.Cancel(slot)
		logger.Info("lifecycle cancelled", zap.String("slot", slot))
		w.WriteHeader(http.StatusNoContent)
	}
}

// ============================================================
// Transaction status
// ============================================================

func transactionStatusHandler(ctrl *lifecycle.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transactions/{transactionId}/status")
		defer span.End()

		transactionID := chi.URLParam(r, "transactionId")
		span.SetAttributes(attribute.String("tx.remote_id", transactionID))

		status, err := ctrl.TransactionStatus(ctx, MerchantIDFromContext(ctx), transactionID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, domain.StatusResult{
			TransactionID: transactionID,
			Status:        status,
			Terminal:      status.Terminal(),
		})
	}
}
