package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/lifecycle"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/pixkey"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/txrequest"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maxWait caps the ?wait= long-poll on submissions.
const maxWait = 60 * time.Second

// ============================================================
// PIX key classification
// ============================================================

func classifyHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/pix/keys/classify")
		defer span.End()

		var req domain.ClassifyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		var key domain.PixKey
		if req.PreviousType != "" {
			key = pixkey.Edit(domain.PixKey{Type: req.PreviousType}, req.Key)
		} else {
			key = pixkey.Classify(strings.TrimSpace(req.Key))
		}
		span.SetAttributes(attribute.String("pix.key_type", string(key.Type)))
		logger.Debug("pix key classified", zap.String("type", string(key.Type)))

		writeJSON(w, http.StatusOK, domain.ClassifyResponse{PixKey: key, Submittable: key.Submittable()})
	}
}

// ============================================================
// Submissions: deposit, withdrawal, transfer
// ============================================================

func submitHandler(ctrl *lifecycle.Controller, kind domain.Kind, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/"+string(kind)+"s")
		defer span.End()

		merchantID := MerchantIDFromContext(ctx)
		if merchantID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var form txrequest.FormState
		if err := decodeJSON(r, &form); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		var wait time.Duration
		if v := r.URL.Query().Get("wait"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				writeError(w, http.StatusBadRequest, "invalid wait duration")
				return
			}
			wait = min(d, maxWait)
		}

		slot := lifecycle.SlotKey(merchantID, kind)
		span.SetAttributes(attribute.String("lifecycle.slot", slot))

		start := time.Now()
		lc, err := ctrl.Submit(ctx, slot, kind, form)
		metrics.RecordRequestDuration("http_submit", time.Since(start))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if wait == 0 {
			writeJSON(w, http.StatusAccepted, submitResponse(lc.Accepted))
			return
		}

		waitCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		tx, err := lc.Wait(waitCtx)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			// still polling; the caller follows up on /v1/lifecycles/{kind}
			latest := lc.Accepted
			if snap := ctrl.Snapshot(slot); snap.Transaction != nil && snap.Transaction.RemoteID == latest.RemoteID {
				latest = *snap.Transaction
			}
			writeJSON(w, http.StatusAccepted, submitResponse(latest))
		case err != nil:
			handleServiceError(w, err, logger)
		default:
			writeJSON(w, http.StatusOK, submitResponse(tx))
		}
	}
}

func submitResponse(tx domain.Transaction) domain.SubmitResponse {
	return domain.SubmitResponse{
		ExternalID:    tx.ExternalID,
		TransactionID: tx.RemoteID,
		Status:        tx.Status,
		Amount:        tx.Amount,
		Fee:           tx.Fee,
		QRCode:        tx.QRCode,
	}
}
