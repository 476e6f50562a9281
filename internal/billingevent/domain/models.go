package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const DefaultExchange = "alima.billing"

// Event types double as AMQP routing keys.
const (
	InvoiceIssued    = "invoice.issued"
	PaymentCollected = "payment.collected"
	PaymentFailed    = "payment.failed"
	AccountSuspended = "account.suspended"
	RoutineCompleted = "routine.completed"
)

var (
	ErrUnknownEventType = errors.New("unknown_billing_event_type")
	ErrPublisherClosed  = errors.New("billing_event_publisher_closed")
)

func ValidType(t string) bool {
	switch t {
	case InvoiceIssued, PaymentCollected, PaymentFailed, AccountSuspended, RoutineCompleted:
		return true
	}
	return false
}

// Event is the envelope published for every billing state change.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	AccountID  snowflake.ID   `json:"account_id,omitempty"`
	Period     string         `json:"period,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, event Event) error
	Close() error
}
