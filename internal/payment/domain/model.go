package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNoCards                = errors.New("customer_has_no_cards")
	ErrMissingCustomerRef     = errors.New("missing_provider_customer_ref")
	ErrMissingPaymentMethod   = errors.New("missing_payment_method")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrTransferAlreadyCreated = errors.New("transfer_intent_already_created")
	ErrNoBankInstructions     = errors.New("transfer_intent_without_bank_instructions")

	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrEventProcessed   = errors.New("event_already_processed")
	ErrWebhookDisabled  = errors.New("webhook_disabled")
)

// Intent metadata keys set on every payment intent the routine opens.
const (
	MetadataAccountID    = "account_id"
	MetadataInvoiceLabel = "invoice_label"
	MetadataAttempt      = "attempt_number"
)

// ProviderError is a rejection returned by the payment processor.
type ProviderError struct {
	Code        string
	DeclineCode string
	Message     string
	HTTPStatus  int
}

func (e *ProviderError) Error() string {
	if e.DeclineCode != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.DeclineCode, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

type Card struct {
	ID       string
	Brand    string
	Last4    string
	ExpMonth int64
	ExpYear  int64
}

type CardIntentRequest struct {
	CustomerRef    string
	CardID         string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

type TransferIntentRequest struct {
	CustomerRef    string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

type IntentResult struct {
	ID     string
	Status string
}

// BankInstructions are the SPEI coordinates the customer pays into.
type BankInstructions struct {
	Clabe     string
	BankName  string
	BankCode  string
	Reference string
	HostedURL string
}

type TransferIntentResult struct {
	ID     string
	Status string
	Bank   BankInstructions
}

// Provider is the payment processor used for card and SPEI collection.
type Provider interface {
	ListCards(ctx context.Context, customerRef string) ([]Card, error)
	IsDefaultCard(ctx context.Context, customerRef, cardID string) (bool, error)
	CreateCardIntent(ctx context.Context, req CardIntentRequest) (IntentResult, error)
	CreateTransferIntent(ctx context.Context, req TransferIntentRequest) (TransferIntentResult, error)
}

// EventRecord deduplicates processor webhook deliveries.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
)

// PaymentEvent is a processor notification about one of our intents.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	ProviderPaymentID string
	Type              string
	AccountID         snowflake.ID
	InvoiceLabel      string
	Amount            decimal.Decimal
	Currency          string
	FailureMessage    string
	OccurredAt        time.Time
}

// WebhookVerifier authenticates and decodes processor webhooks.
type WebhookVerifier interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
