package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
)

// submitPayload maps a validated request onto the gateway endpoint and body
// for its kind. The PIX key is always sent in normalized form.
func submitPayload(req *domain.Request) (string, []byte, error) {
	amount := json.Number(req.AmountString())

	var (
		path string
		body any
	)
	switch req.Kind() {
	case domain.KindDeposit:
		path = "/deposits"
		body = domain.DepositRequest{
			Amount:            amount,
			ExternalID:        req.ExternalID(),
			ClientCallbackURL: req.CallbackURL(),
			Payer:             req.Payer(),
		}
	case domain.KindWithdrawal:
		path = "/withdrawals"
		body = domain.WithdrawalRequest{
			Amount:            amount,
			ExternalID:        req.ExternalID(),
			PixKey:            req.PixKey().Normalized,
			KeyType:           req.PixKey().Type,
			Description:       req.Description(),
			ClientCallbackURL: req.CallbackURL(),
		}
	case domain.KindTransfer:
		path = "/transfers"
		body = domain.TransferRequest{
			Amount:               amount,
			ExternalID:           req.ExternalID(),
			DestinationAccountID: req.DestinationAccount(),
			Description:          req.Description(),
			ClientCallbackURL:    req.CallbackURL(),
		}
	default:
		return "", nil, fmt.Errorf("unsupported transaction kind %q", req.Kind())
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s request: %w", req.Kind(), err)
	}
	return path, raw, nil
}

// decodeSubmit normalizes the kind-specific submission response.
func decodeSubmit(kind domain.Kind, raw []byte) (*domain.SubmitResult, error) {
	res := &domain.SubmitResult{}
	var status string

	switch kind {
	case domain.KindDeposit:
		var resp domain.DepositResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode deposit response: %w", err)
		}
		q := resp.QRCodeResponse
		res.RemoteID, status, res.Amount, res.QRCode = q.TransactionID, q.Status, q.Amount, q.QRCode
	case domain.KindWithdrawal:
		var resp domain.WithdrawalResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode withdrawal response: %w", err)
		}
		w := resp.Withdrawal
		res.RemoteID, status, res.Amount, res.Fee = w.TransactionID, w.Status, w.Amount, w.Fee
	case domain.KindTransfer:
		var resp domain.TransferResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode transfer response: %w", err)
		}
		tr := resp.Transfer
		res.RemoteID, status, res.Amount = tr.TransactionID, tr.Status, tr.Amount
	}

	if res.RemoteID == "" {
		return nil, fmt.Errorf("gateway response for %s has no transaction id", kind)
	}

	res.Status = domain.StatusPending
	if status != "" {
		st, err := domain.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		res.Status = st
	}
	return res, nil
}
