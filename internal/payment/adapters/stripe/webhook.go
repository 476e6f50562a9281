package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/alima/internal/payment/domain"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Webhook verifies Stripe-Signature headers and decodes intent events.
type Webhook struct {
	secret string
}

func NewWebhook(secret string) *Webhook {
	return &Webhook{secret: strings.TrimSpace(secret)}
}

func (w *Webhook) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if w == nil || w.secret == "" {
		return paymentdomain.ErrWebhookDisabled
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayload(payload, sigHeader, w.secret); err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (w *Webhook) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType string
	switch string(event.Type) {
	case "payment_intent.succeeded":
		eventType = paymentdomain.EventTypePaymentSucceeded
	case "payment_intent.payment_failed":
		eventType = paymentdomain.EventTypePaymentFailed
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	accountRaw := strings.TrimSpace(intent.Metadata[paymentdomain.MetadataAccountID])
	label := strings.TrimSpace(intent.Metadata[paymentdomain.MetadataInvoiceLabel])
	if accountRaw == "" || label == "" {
		// intents not opened by the billing routine
		return nil, paymentdomain.ErrEventIgnored
	}
	accountID, err := snowflake.ParseString(accountRaw)
	if err != nil {
		return nil, paymentdomain.ErrInvalidEvent
	}

	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}
	parsed := &paymentdomain.PaymentEvent{
		Provider:          "stripe",
		ProviderEventID:   event.ID,
		ProviderPaymentID: intent.ID,
		Type:              eventType,
		AccountID:         accountID,
		InvoiceLabel:      label,
		Amount:            decimal.New(amount, -2),
		Currency:          strings.ToUpper(string(intent.Currency)),
		OccurredAt:        timestamp(intent.Created, event.Created),
	}
	if intent.LastPaymentError != nil {
		parsed.FailureMessage = intent.LastPaymentError.Msg
	}
	return parsed, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
