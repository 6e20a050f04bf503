package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/adapter"
)

const bankTransferProvider = "banktransfer"

var _ adapter.PaymentGateway = (*BankTransferGateway)(nil)

type BankTransferFactory struct{}

func (BankTransferFactory) Provider() string { return bankTransferProvider }

func (BankTransferFactory) NewGateway(cfg adapter.GatewayConfig) (adapter.PaymentGateway, error) {
	return &BankTransferGateway{cfg: cfg}, nil
}

// BankTransferGateway leaves orders pending until an operator approves them.
// It never reports success on its own.
type BankTransferGateway struct {
	cfg adapter.GatewayConfig
}

func (g *BankTransferGateway) Name() string { return g.cfg.Name }

func (g *BankTransferGateway) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Redirect: g.cfg.Credential("instructions_url") != "", CallTimeout: g.cfg.Timeout}
}

// CreateCharge sends the user to the instructions page, if one is configured,
// with the payment id to quote on the transfer.
func (g *BankTransferGateway) CreateCharge(_ context.Context, order *model.PlanOrder, _ *model.PurchaseRequest) (adapter.ChargeResult, error) {
	res := adapter.ChargeResult{ProviderReference: order.PaymentID}
	instructions := g.cfg.Credential("instructions_url")
	if instructions == "" {
		return res, nil
	}
	u, err := url.Parse(instructions)
	if err != nil {
		return adapter.ChargeResult{}, fmt.Errorf("%w: bad instructions url", domain.ErrGatewayRejected)
	}
	q := u.Query()
	q.Set(paymentIDParam, order.PaymentID)
	u.RawQuery = q.Encode()
	res.RedirectURL = u.String()
	return res, nil
}

func (g *BankTransferGateway) Reference(adapter.Callback) (adapter.CallbackReference, error) {
	return adapter.CallbackReference{}, errors.New("bank transfers are confirmed by an operator")
}

func (g *BankTransferGateway) Verify(context.Context, adapter.Callback, *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	return adapter.VerifiedOutcome{}, domain.VerificationError(domain.ErrVerificationFailed, "bank transfers are confirmed by an operator")
}
