// Package txrequest turns dashboard form state into validated, immutable
// payment requests. Every rule is checked before an external id is minted.
package txrequest

import (
	"errors"
	"strings"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/pixkey"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/port"

	"github.com/shopspring/decimal"
)

// FormState is what a dashboard form collected for one submission.
type FormState struct {
	// Amount as typed: "100", "100.50", "100,50" or "1.234,56".
	Amount string `json:"amount"`

	// Withdrawal target, exactly as typed. It is re-classified here.
	PixKey string `json:"pixKey,omitempty"`

	// AvailableBalance bounds withdrawals and transfers.
	AvailableBalance decimal.Decimal `json:"availableBalance"`

	Description        string       `json:"description,omitempty"`
	Payer              domain.Payer `json:"payer"`
	DestinationAccount string       `json:"destinationAccount,omitempty"`
}

// Builder validates form state and stamps requests with an external id.
type Builder struct {
	ids         port.IDMinter
	callbackURL string
}

// NewBuilder creates a Builder. callbackURL is sent as clientCallbackUrl
// on every request and may be empty.
func NewBuilder(ids port.IDMinter, callbackURL string) *Builder {
	return &Builder{ids: ids, callbackURL: callbackURL}
}

// Build validates form and, only when every rule passes, mints a new
// external id for it.
func (b *Builder) Build(kind domain.Kind, form FormState) (*domain.Request, error) {
	params, err := b.validate(kind, form)
	if err != nil {
		return nil, err
	}
	params.ExternalID = b.ids.Create(kind.IDPrefix())
	return domain.NewRequest(params), nil
}

// Pending is an attempt that never reached the gateway.
type Pending struct {
	ExternalID  string
	Fingerprint string
}

// Rebuild validates form for a retry. The pending external id is reused
// only when the validated request matches the pending attempt's
// fingerprint; an edited form is a new attempt and gets a new id.
func (b *Builder) Rebuild(kind domain.Kind, form FormState, pending Pending) (*domain.Request, error) {
	params, err := b.validate(kind, form)
	if err != nil {
		return nil, err
	}
	params.ExternalID = pending.ExternalID
	req := domain.NewRequest(params)
	if pending.ExternalID != "" && req.Fingerprint() == pending.Fingerprint {
		return req, nil
	}
	params.ExternalID = b.ids.Create(kind.IDPrefix())
	return domain.NewRequest(params), nil
}

func (b *Builder) validate(kind domain.Kind, form FormState) (domain.RequestParams, error) {
	params := domain.RequestParams{
		Kind:        kind,
		Description: strings.TrimSpace(form.Description),
		CallbackURL: b.callbackURL,
	}

	amount, err := ParseAmount(form.Amount)
	if err != nil {
		return params, &domain.ErrValidation{Reason: domain.InvalidAmount, Field: "amount", Message: "Valor inválido"}
	}
	params.Amount = amount

	switch kind {
	case domain.KindWithdrawal:
		key := pixkey.Classify(strings.TrimSpace(form.PixKey))
		if !key.Submittable() {
			return params, &domain.ErrValidation{Reason: domain.UndefinedKeyType, Field: "pixKey", Message: "Chave PIX não reconhecida"}
		}
		if amount.GreaterThan(form.AvailableBalance) {
			return params, insufficient(amount, form.AvailableBalance)
		}
		params.PixKey = key

	case domain.KindTransfer:
		dest := strings.TrimSpace(form.DestinationAccount)
		if dest == "" {
			return params, &domain.ErrValidation{Reason: domain.MissingField, Field: "destinationAccount", Message: "Conta de destino obrigatória"}
		}
		if amount.GreaterThan(form.AvailableBalance) {
			return params, insufficient(amount, form.AvailableBalance)
		}
		params.DestinationAccount = dest

	case domain.KindDeposit:
		payer := domain.Payer{
			Name:     strings.TrimSpace(form.Payer.Name),
			Email:    strings.TrimSpace(form.Payer.Email),
			Document: pixkey.Digits(form.Payer.Document),
		}
		if payer.Name == "" {
			return params, &domain.ErrValidation{Reason: domain.MissingField, Field: "payer.name", Message: "Nome do pagador obrigatório"}
		}
		if payer.Document == "" {
			return params, &domain.ErrValidation{Reason: domain.MissingField, Field: "payer.document", Message: "Documento do pagador obrigatório"}
		}
		params.Payer = payer

	default:
		return params, &domain.ErrValidation{Reason: domain.MissingField, Field: "kind", Message: "unknown transaction kind " + string(kind)}
	}

	return params, nil
}

func insufficient(amount, balance decimal.Decimal) error {
	return &domain.ErrValidation{
		Reason:  domain.InsufficientBalance,
		Field:   "amount",
		Message: "Saldo insuficiente: disponível " + balance.StringFixed(2) + ", solicitado " + amount.StringFixed(2),
	}
}

// ParseAmount parses a positive amount and rounds it to cents. Both "."
// and "," are accepted as decimal separator; when both appear the last one
// is the decimal separator and the other groups thousands.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0 && dot > comma:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Zero, errNotPositive
	}
	return d, nil
}

var errNotPositive = errors.New("amount must be greater than zero")
