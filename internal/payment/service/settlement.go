package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/alima/internal/clock"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/alima/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/alima/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SettlementParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     paymentdomain.Repository
	Ledger   invoicedomain.Ledger
	Verifier paymentdomain.WebhookVerifier
	Metrics  *obsmetrics.BillingMetrics `optional:"true"`
}

// Settlement applies processor webhooks to the invoice ledger. A settled
// SPEI transfer appends a paid paystatus to the period's active invoice.
type Settlement struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     paymentdomain.Repository
	ledger   invoicedomain.Ledger
	verifier paymentdomain.WebhookVerifier
	metrics  *obsmetrics.BillingMetrics
}

func NewSettlement(p SettlementParams) (*Settlement, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Repo == nil || p.Ledger == nil || p.Verifier == nil {
		return nil, ErrInvalidConfig
	}
	return &Settlement{
		db:       p.DB,
		log:      p.Log.Named("payment.settlement"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		ledger:   p.Ledger,
		verifier: p.Verifier,
		metrics:  p.Metrics,
	}, nil
}

func (s *Settlement) IngestWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	if err := s.verifier.Verify(ctx, payload, headers); err != nil {
		return err
	}
	event, err := s.verifier.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}
	return s.ProcessEvent(ctx, event, payload)
}

// ProcessEvent records the delivery and applies it once. Redelivery of an
// event that failed to apply retries it.
func (s *Settlement) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	now := s.clock.Now()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return paymentdomain.ErrEventProcessed
		}
	}

	if err := s.apply(ctx, event); err != nil {
		return err
	}
	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, now); err != nil {
		return err
	}
	if inserted {
		s.metrics.IncPaymentEvent(event.Provider, event.Type)
	}
	return nil
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.Provider == "" || event.ProviderEventID == "" || event.AccountID == 0 {
		return paymentdomain.ErrInvalidEvent
	}
	if strings.TrimSpace(event.InvoiceLabel) == "" {
		return paymentdomain.ErrInvalidEvent
	}
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded, paymentdomain.EventTypePaymentFailed:
		return nil
	}
	return paymentdomain.ErrInvalidEvent
}

func (s *Settlement) apply(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	logger := s.log.With(
		zap.String("account_id", event.AccountID.String()),
		zap.String("period", event.InvoiceLabel),
		zap.String("payment_id", event.ProviderPaymentID),
	)

	if event.Type == paymentdomain.EventTypePaymentFailed {
		logger.Warn("payment.intent.failed", zap.String("reason", event.FailureMessage))
		return nil
	}

	invoice, err := s.activeInvoice(ctx, event.AccountID, event.InvoiceLabel)
	if err != nil {
		return err
	}
	statuses, err := s.ledger.FetchInvoicePaystatuses(ctx, []snowflake.ID{invoice.ID})
	if err != nil {
		return err
	}
	current, ok := statuses[invoice.ID]
	if ok && current.Status == invoicedomain.PayStatusPaid {
		logger.Info("payment.settlement.already_paid", zap.String("invoice_id", invoice.ID.String()))
		return nil
	}

	paid := invoicedomain.PayStatusPaid
	txID := event.ProviderPaymentID
	update := invoicedomain.UpdateInvoiceInput{
		InvoiceID:     invoice.ID,
		PayStatus:     &paid,
		TransactionID: &txID,
	}
	if ok {
		update.PaymentMethodID = current.PaymentMethodID
	}
	if _, err := s.ledger.UpdateInvoice(ctx, update); err != nil {
		return err
	}
	logger.Info("payment.settlement.paid",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("amount", event.Amount.String()),
	)
	return nil
}

func (s *Settlement) activeInvoice(ctx context.Context, accountID snowflake.ID, label string) (*invoicedomain.Invoice, error) {
	invoices, err := s.ledger.FindInvoiceByPeriod(ctx, accountID, label)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		if invoices[i].Status == invoicedomain.InvoiceStatusActive {
			return &invoices[i], nil
		}
	}
	return nil, invoicedomain.ErrInvoiceNotFound
}
