package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/alima/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_payment_collector_config")

// roundRobinAfter is the attempt after which cards are rotated instead of
// retrying the default one.
const roundRobinAfter = 3

type CollectorParams struct {
	fx.In

	Log      *zap.Logger
	Provider paymentdomain.Provider
	Ledger   invoicedomain.Ledger
	Accounts accountdomain.Service
}

// Collector drives card and SPEI collection for one account and period.
type Collector struct {
	log      *zap.Logger
	provider paymentdomain.Provider
	ledger   invoicedomain.Ledger
	accounts accountdomain.Service
}

func NewCollector(p CollectorParams) (*Collector, error) {
	if p.Log == nil || p.Provider == nil || p.Ledger == nil || p.Accounts == nil {
		return nil, ErrInvalidConfig
	}
	return &Collector{
		log:      p.Log.Named("payment.collector"),
		provider: p.Provider,
		ledger:   p.Ledger,
		accounts: p.Accounts,
	}, nil
}

type CardCollection struct {
	Account     accountdomain.BillingAccount
	Label       string
	Attempt     int
	Amount      decimal.Decimal
	Currency    string
	Description string
}

type CardResult struct {
	IntentID string
	CardID   string
}

// CollectCard charges the customer's default card, or the first stored
// card when none is marked default. Past the third attempt the cards are
// rotated by attempt number.
func (c *Collector) CollectCard(ctx context.Context, in CardCollection) (CardResult, error) {
	pm := in.Account.PaymentMethod
	if pm == nil {
		return CardResult{}, paymentdomain.ErrMissingPaymentMethod
	}
	customerRef := strings.TrimSpace(pm.ProviderRef)
	if customerRef == "" {
		return CardResult{}, paymentdomain.ErrMissingCustomerRef
	}

	cards, err := c.provider.ListCards(ctx, customerRef)
	if err != nil {
		return CardResult{}, err
	}
	if len(cards) == 0 {
		return CardResult{}, paymentdomain.ErrNoCards
	}

	card, err := c.selectCard(ctx, customerRef, cards, in.Attempt)
	if err != nil {
		return CardResult{}, err
	}

	accountID := in.Account.Account.ID.String()
	intent, err := c.provider.CreateCardIntent(ctx, paymentdomain.CardIntentRequest{
		CustomerRef: customerRef,
		CardID:      card.ID,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Description: in.Description,
		Metadata: map[string]string{
			paymentdomain.MetadataAttempt:      strconv.Itoa(in.Attempt),
			paymentdomain.MetadataInvoiceLabel: in.Label,
			paymentdomain.MetadataAccountID:    accountID,
		},
		IdempotencyKey: CardIdempotencyKey(accountID, in.Label, in.Attempt),
	})
	if err != nil {
		c.log.Warn("payment.card.failed",
			zap.String("account_id", accountID),
			zap.String("period", in.Label),
			zap.Int("attempt", in.Attempt),
			zap.Error(err),
		)
		return CardResult{IntentID: intent.ID, CardID: card.ID}, err
	}
	return CardResult{IntentID: intent.ID, CardID: card.ID}, nil
}

func (c *Collector) selectCard(ctx context.Context, customerRef string, cards []paymentdomain.Card, attempt int) (paymentdomain.Card, error) {
	if attempt > roundRobinAfter {
		return cards[attempt%len(cards)], nil
	}
	for _, card := range cards {
		ok, err := c.provider.IsDefaultCard(ctx, customerRef, card.ID)
		if err != nil {
			return paymentdomain.Card{}, err
		}
		if ok {
			return card, nil
		}
	}
	return cards[0], nil
}

// IsTransferIntentCreated reports whether the period's active invoice
// already carries a transfer reference.
func (c *Collector) IsTransferIntentCreated(ctx context.Context, account accountdomain.BillingAccount, label string) (bool, error) {
	_, ok, err := c.ledger.TransactionForPeriod(ctx, account.Account.ID, label)
	return ok, err
}

type TransferCollection struct {
	// Account is updated in place with the bank details once they are
	// stored.
	Account     *accountdomain.BillingAccount
	Label       string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

type TransferResult struct {
	IntentID string
	Bank     paymentdomain.BankInstructions
}

func (c *Collector) CollectTransfer(ctx context.Context, in TransferCollection) (TransferResult, error) {
	if in.Account == nil || in.Account.PaymentMethod == nil {
		return TransferResult{}, paymentdomain.ErrMissingPaymentMethod
	}
	pm := in.Account.PaymentMethod
	customerRef := strings.TrimSpace(pm.ProviderRef)
	if customerRef == "" {
		return TransferResult{}, paymentdomain.ErrMissingCustomerRef
	}

	created, err := c.IsTransferIntentCreated(ctx, *in.Account, in.Label)
	if err != nil {
		return TransferResult{}, err
	}
	if created {
		return TransferResult{}, paymentdomain.ErrTransferAlreadyCreated
	}

	accountID := in.Account.Account.ID.String()
	intent, err := c.provider.CreateTransferIntent(ctx, paymentdomain.TransferIntentRequest{
		CustomerRef: customerRef,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Description: in.Description,
		Metadata: map[string]string{
			paymentdomain.MetadataInvoiceLabel: in.Label,
			paymentdomain.MetadataAccountID:    accountID,
		},
		IdempotencyKey: TransferIdempotencyKey(accountID, in.Label),
	})
	if err != nil {
		return TransferResult{IntentID: intent.ID}, err
	}

	result := TransferResult{IntentID: intent.ID, Bank: intent.Bank}
	if pm.HasBankAccount() {
		return result, nil
	}

	if err := c.accounts.SaveBankAccount(ctx, pm.ID, intent.Bank.Clabe, intent.Bank.BankName); err != nil {
		// reminders fall back to the instructions kept on the invoice metadata
		c.log.Error("payment.transfer.bank_account_not_saved",
			zap.String("account_id", accountID),
			zap.String("payment_method_id", pm.ID.String()),
			zap.Error(err),
		)
		return result, nil
	}
	clabe, bank := intent.Bank.Clabe, intent.Bank.BankName
	pm.BankAccountNumber = &clabe
	pm.BankName = &bank
	return result, nil
}

func CardIdempotencyKey(accountID, label string, attempt int) string {
	return fmt.Sprintf("card:%s:%s:%d", accountID, label, attempt)
}

func TransferIdempotencyKey(accountID, label string) string {
	return fmt.Sprintf("spei:%s:%s", accountID, label)
}
