package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/alima/internal/payment/domain"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

var ErrMissingSecretKey = errors.New("stripe_secret_key_missing")

type Config struct {
	SecretKey string
	// APIURL overrides the API host, used against fake servers.
	APIURL            string
	MaxNetworkRetries int64
	HTTPClient        *http.Client
}

// Adapter collects card and SPEI payments through Stripe PaymentIntents.
type Adapter struct {
	api *client.API
	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, ErrMissingSecretKey
	}
	if log == nil {
		log = zap.NewNop()
	}

	backendCfg := &stripe.BackendConfig{
		LeveledLogger:     log.Named("stripe.sdk").Sugar(),
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
	}
	if cfg.HTTPClient != nil {
		backendCfg.HTTPClient = cfg.HTTPClient
	}
	if url := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"); url != "" {
		backendCfg.URL = stripe.String(url)
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}

	return &Adapter{
		api: client.New(cfg.SecretKey, backends),
		log: log.Named("payment.stripe"),
	}, nil
}

func (a *Adapter) ListCards(ctx context.Context, customerRef string) ([]paymentdomain.Card, error) {
	if strings.TrimSpace(customerRef) == "" {
		return nil, paymentdomain.ErrMissingCustomerRef
	}
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerRef),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Context = ctx

	cards := []paymentdomain.Card{}
	iter := a.api.PaymentMethods.List(params)
	for iter.Next() {
		pm := iter.PaymentMethod()
		card := paymentdomain.Card{ID: pm.ID}
		if pm.Card != nil {
			card.Brand = string(pm.Card.Brand)
			card.Last4 = pm.Card.Last4
			card.ExpMonth = pm.Card.ExpMonth
			card.ExpYear = pm.Card.ExpYear
		}
		cards = append(cards, card)
	}
	if err := iter.Err(); err != nil {
		return nil, mapError(err)
	}
	return cards, nil
}

func (a *Adapter) IsDefaultCard(ctx context.Context, customerRef, cardID string) (bool, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := a.api.Customers.Get(customerRef, params)
	if err != nil {
		return false, mapError(err)
	}
	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		return cust.InvoiceSettings.DefaultPaymentMethod.ID == cardID, nil
	}
	if cust.DefaultSource != nil {
		return cust.DefaultSource.ID == cardID, nil
	}
	return false, nil
}

// CreateCardIntent confirms an off-session charge on the given card.
func (a *Adapter) CreateCardIntent(ctx context.Context, req paymentdomain.CardIntentRequest) (paymentdomain.IntentResult, error) {
	amount, err := minorUnits(req.Amount)
	if err != nil {
		return paymentdomain.IntentResult{}, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(req.CardID),
		Description:   stripe.String(req.Description),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := a.api.PaymentIntents.New(params)
	if err != nil {
		a.log.Warn("payment.intent.failed",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err),
		)
		return paymentdomain.IntentResult{}, mapError(err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		perr := &paymentdomain.ProviderError{Code: string(pi.Status), Message: "payment intent not succeeded"}
		if pi.LastPaymentError != nil {
			perr.DeclineCode = string(pi.LastPaymentError.DeclineCode)
			perr.Message = pi.LastPaymentError.Msg
		}
		return paymentdomain.IntentResult{ID: pi.ID, Status: string(pi.Status)}, perr
	}
	return paymentdomain.IntentResult{ID: pi.ID, Status: string(pi.Status)}, nil
}

// CreateTransferIntent opens a customer balance intent funded by a
// Mexican bank transfer and returns the SPEI instructions.
func (a *Adapter) CreateTransferIntent(ctx context.Context, req paymentdomain.TransferIntentRequest) (paymentdomain.TransferIntentResult, error) {
	amount, err := minorUnits(req.Amount)
	if err != nil {
		return paymentdomain.TransferIntentResult{}, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amount),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		Customer:           stripe.String(req.CustomerRef),
		Description:        stripe.String(req.Description),
		PaymentMethodTypes: stripe.StringSlice([]string{"customer_balance"}),
		PaymentMethodData: &stripe.PaymentIntentPaymentMethodDataParams{
			Type: stripe.String("customer_balance"),
		},
		PaymentMethodOptions: &stripe.PaymentIntentPaymentMethodOptionsParams{
			CustomerBalance: &stripe.PaymentIntentPaymentMethodOptionsCustomerBalanceParams{
				FundingType: stripe.String("bank_transfer"),
				BankTransfer: &stripe.PaymentIntentPaymentMethodOptionsCustomerBalanceBankTransferParams{
					Type: stripe.String("mx_bank_transfer"),
				},
			},
		},
		Confirm: stripe.Bool(true),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := a.api.PaymentIntents.New(params)
	if err != nil {
		a.log.Warn("payment.intent.failed",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err),
		)
		return paymentdomain.TransferIntentResult{}, mapError(err)
	}

	result := paymentdomain.TransferIntentResult{ID: pi.ID, Status: string(pi.Status)}
	bank, ok := bankInstructions(pi)
	if !ok {
		return result, paymentdomain.ErrNoBankInstructions
	}
	result.Bank = bank
	return result, nil
}

func bankInstructions(pi *stripe.PaymentIntent) (paymentdomain.BankInstructions, bool) {
	if pi == nil || pi.NextAction == nil || pi.NextAction.DisplayBankTransferInstructions == nil {
		return paymentdomain.BankInstructions{}, false
	}
	instr := pi.NextAction.DisplayBankTransferInstructions
	for _, addr := range instr.FinancialAddresses {
		if addr == nil || addr.Spei == nil || addr.Spei.Clabe == "" {
			continue
		}
		return paymentdomain.BankInstructions{
			Clabe:     addr.Spei.Clabe,
			BankName:  addr.Spei.BankName,
			BankCode:  addr.Spei.BankCode,
			Reference: instr.Reference,
			HostedURL: instr.HostedInstructionsURL,
		}, true
	}
	return paymentdomain.BankInstructions{}, false
}

func minorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, paymentdomain.ErrInvalidAmount
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), nil
}

func mapError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &paymentdomain.ProviderError{
			Code:        string(se.Code),
			DeclineCode: string(se.DeclineCode),
			Message:     se.Msg,
			HTTPStatus:  se.HTTPStatusCode,
		}
	}
	return err
}
