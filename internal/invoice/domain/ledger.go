package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Ledger is the persisted record of issued invoices and their payment
// history.
type Ledger interface {
	FetchInvoices(ctx context.Context, accountIDs []snowflake.ID, from, until time.Time) ([]Invoice, error)
	// FetchInvoicePaystatuses returns the newest paystatus per invoice.
	FetchInvoicePaystatuses(ctx context.Context, invoiceIDs []snowflake.ID) (map[snowflake.ID]Paystatus, error)
	FindInvoiceByPeriod(ctx context.Context, accountID snowflake.ID, label string) ([]Invoice, error)
	// CreateInvoice writes the invoice, its charges and its first paystatus
	// atomically. A second active invoice for the same period fails with
	// ErrInvoiceAlreadyExists.
	CreateInvoice(ctx context.Context, in CreateInvoiceInput) (snowflake.ID, error)
	UpdateInvoice(ctx context.Context, in UpdateInvoiceInput) (bool, error)
	// TransactionForPeriod reports the transaction id on the current
	// paystatus of the period's active invoice.
	TransactionForPeriod(ctx context.Context, accountID snowflake.ID, label string) (string, bool, error)
	// FetchInvoiceCharges returns the line items recorded with an invoice.
	FetchInvoiceCharges(ctx context.Context, invoiceID snowflake.ID) ([]InvoiceCharge, error)
	GetInvoice(ctx context.Context, id snowflake.ID) (*Invoice, error)
	ListAccountInvoices(ctx context.Context, accountID snowflake.ID) ([]Invoice, error)
}

type CreateInvoiceInput struct {
	AccountID snowflake.ID
	// Status defaults to active. A draft holds a collected charge whose
	// tax invoice is not issued yet.
	Status          InvoiceStatus
	Country         string
	Period          string
	TaxInvoiceID    string
	TaxStampUUID    string
	Folio           string
	Total           decimal.Decimal
	Currency        string
	PaymentTerm     PaymentTerm
	Result          string
	Metadata        map[string]any
	Charges         []InvoiceCharge
	PayStatus       PayStatus
	PaymentMethodID *snowflake.ID
	TransactionID   *string
}

type UpdateInvoiceInput struct {
	InvoiceID    snowflake.ID
	TaxInvoiceID *string
	TaxStampUUID *string
	Folio        *string
	Result       *string
	PDF          []byte
	XML          []byte
	Status       *InvoiceStatus
	// PayStatus, when set, appends a new paystatus row.
	PayStatus       *PayStatus
	PaymentMethodID *snowflake.ID
	TransactionID   *string
}
