package domain

import "github.com/shopspring/decimal"

// ============================================================
// Health API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Detail      string `json:"detail,omitempty"`
	LastChecked string `json:"lastChecked"`
}

// ============================================================
// Facade API Requests / Responses
// ============================================================

// ClassifyRequest is the body of POST /v1/pix/keys/classify. PreviousType
// is the type detected before the last keystroke, if any.
type ClassifyRequest struct {
	Key          string  `json:"key"`
	PreviousType KeyType `json:"previousType,omitempty"`
}

// ClassifyResponse is a classified key plus whether it may be submitted.
type ClassifyResponse struct {
	PixKey
	Submittable bool `json:"submittable"`
}

// SubmitResponse is returned by the submission endpoints.
type SubmitResponse struct {
	ExternalID    string          `json:"externalId"`
	TransactionID string          `json:"transactionId"`
	Status        Status          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee,omitempty"`
	QRCode        string          `json:"qrcode,omitempty"`
}

// StatusResult is returned by GET /v1/transactions/{transactionId}/status.
type StatusResult struct {
	TransactionID string `json:"transactionId"`
	Status        Status `json:"status"`
	Terminal      bool   `json:"terminal"`
}
