package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Transactions
// ============================================================

// Kind is the kind of money movement a merchant initiates.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindTransfer   Kind = "transfer"
)

// ParseKind validates a kind coming from the outside (URL, CLI flag).
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindDeposit, KindWithdrawal, KindTransfer:
		return k, nil
	}
	return "", fmt.Errorf("unknown transaction kind %q", s)
}

// IDPrefix is the idempotency key prefix used for each kind.
func (k Kind) IDPrefix() string {
	switch k {
	case KindDeposit:
		return "dep"
	case KindWithdrawal:
		return "wd"
	case KindTransfer:
		return "tr"
	}
	return string(k)
}

// Status is the gateway-reported state of a transaction.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	// StatusRetained is a compliance hold. An operator resolves it out of
	// band; it is neither terminal nor a failure.
	StatusRetained Status = "RETAINED"
)

// ParseStatus maps a wire status onto the known vocabulary.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusCompleted, StatusFailed, StatusRetained:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Terminal reports whether no further automatic transition can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction is the client-side view of a submitted money movement.
type Transaction struct {
	ExternalID string          `json:"externalId"`
	Kind       Kind            `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	RemoteID   string          `json:"transactionId,omitempty"`
	Status     Status          `json:"status"`
	Fee        decimal.Decimal `json:"fee,omitempty"`
	QRCode     string          `json:"qrcode,omitempty"`
	MerchantID string          `json:"merchantId,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Payer identifies who pays a deposit's QR code.
type Payer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Document string `json:"document"`
}

// RequestParams carries the already-validated fields of a Request.
type RequestParams struct {
	ExternalID         string
	Kind               Kind
	Amount             decimal.Decimal
	PixKey             PixKey
	Payer              Payer
	DestinationAccount string
	Description        string
	CallbackURL        string
}

// Request is an immutable, validated payment request ready for dispatch.
// Fields are only reachable through getters so nothing downstream can
// change the external id or amount after validation.
type Request struct {
	p RequestParams
}

// NewRequest freezes params into a Request. Amounts are fixed to cents.
func NewRequest(p RequestParams) *Request {
	p.Amount = p.Amount.Round(2)
	return &Request{p: p}
}

func (r *Request) ExternalID() string         { return r.p.ExternalID }
func (r *Request) Kind() Kind                 { return r.p.Kind }
func (r *Request) Amount() decimal.Decimal    { return r.p.Amount }
func (r *Request) PixKey() PixKey             { return r.p.PixKey }
func (r *Request) Payer() Payer               { return r.p.Payer }
func (r *Request) DestinationAccount() string { return r.p.DestinationAccount }
func (r *Request) Description() string        { return r.p.Description }
func (r *Request) CallbackURL() string        { return r.p.CallbackURL }

// Fingerprint identifies the attempt this request represents: two requests
// with the same fingerprint move the same money to the same party. The
// external id and callback are excluded.
func (r *Request) Fingerprint() string {
	return strings.Join([]string{
		string(r.p.Kind),
		r.p.Amount.StringFixed(2),
		r.p.PixKey.Normalized,
		r.p.Payer.Name,
		r.p.Payer.Email,
		r.p.Payer.Document,
		r.p.DestinationAccount,
		r.p.Description,
	}, "\x1f")
}

// AmountString formats the amount with exactly two decimals.
func (r *Request) AmountString() string {
	return r.p.Amount.StringFixed(2)
}

// SubmitResult is the gateway's submission response normalized across kinds.
type SubmitResult struct {
	RemoteID string
	Status   Status
	Amount   decimal.Decimal
	Fee      decimal.Decimal
	QRCode   string
}
