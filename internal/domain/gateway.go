package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ============================================================
// Payment gateway wire contract
// ============================================================

// DepositRequest is the body of POST /deposits.
type DepositRequest struct {
	Amount            json.Number `json:"amount"`
	ExternalID        string      `json:"external_id"`
	ClientCallbackURL string      `json:"clientCallbackUrl,omitempty"`
	Payer             Payer       `json:"payer"`
}

// DepositResponse is returned by POST /deposits.
type DepositResponse struct {
	QRCodeResponse struct {
		TransactionID string          `json:"transactionId"`
		Status        string          `json:"status"`
		QRCode        string          `json:"qrcode"`
		Amount        decimal.Decimal `json:"amount"`
	} `json:"qrCodeResponse"`
}

// WithdrawalRequest is the body of POST /withdrawals.
type WithdrawalRequest struct {
	Amount            json.Number `json:"amount"`
	ExternalID        string      `json:"external_id"`
	PixKey            string      `json:"pix_key"`
	KeyType           KeyType     `json:"key_type"`
	Description       string      `json:"description,omitempty"`
	ClientCallbackURL string      `json:"clientCallbackUrl,omitempty"`
}

// WithdrawalResponse is returned by POST /withdrawals.
type WithdrawalResponse struct {
	Withdrawal struct {
		TransactionID string          `json:"transaction_id"`
		Status        string          `json:"status"`
		Amount        decimal.Decimal `json:"amount"`
		Fee           decimal.Decimal `json:"fee"`
	} `json:"withdrawal"`
}

// TransferRequest is the body of POST /transfers (internal account-to-account).
type TransferRequest struct {
	Amount               json.Number `json:"amount"`
	ExternalID           string      `json:"external_id"`
	DestinationAccountID string      `json:"destination_account_id"`
	Description          string      `json:"description,omitempty"`
	ClientCallbackURL    string      `json:"clientCallbackUrl,omitempty"`
}

// TransferResponse is returned by POST /transfers.
type TransferResponse struct {
	Transfer struct {
		TransactionID string          `json:"transaction_id"`
		Status        string          `json:"status"`
		Amount        decimal.Decimal `json:"amount"`
	} `json:"transfer"`
}

// StatusResponse is returned by GET /transactions/{id}/status.
type StatusResponse struct {
	Status string `json:"status"`
}

// LifecycleEvent is published when a lifecycle settles (Reason "settled")
// and when the gateway first holds a transaction for review (Reason "held").
type LifecycleEvent struct {
	Slot        string      `json:"slot"`
	Transaction Transaction `json:"transaction"`
	Reason      string      `json:"reason,omitempty"`
}
