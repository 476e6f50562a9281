package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
)

var (
	ErrMissingReceiver    = errors.New("tax_invoice_missing_receiver")
	ErrNoItems            = errors.New("tax_invoice_without_items")
	ErrInvalidPaymentTerm = errors.New("tax_invoice_invalid_payment_term")
	ErrNotFound           = errors.New("tax_invoice_not_found")
)

// CFDI payment form codes.
const (
	PaymentFormTransfer    = "03"
	PaymentFormCard        = "04"
	PaymentFormToBeDefined = "99"
	GeneralPublicName      = "PUBLICO EN GENERAL"
	GeneralPublicCFDIUse   = "S01"
	GeneralPublicRegime    = "616"
	DefaultCFDIUse         = "G03"
	DefaultServiceCode     = "81112100"
	DefaultServiceUnitCode = "E48"
	// CancelMotiveIssuedWithErrors is the SAT motive for a voucher issued
	// with errors and not replaced.
	CancelMotiveIssuedWithErrors = "02"
)

// IssuerError is a rejection returned by the tax invoicing provider.
type IssuerError struct {
	Status  int
	Message string
}

func (e *IssuerError) Error() string {
	return fmt.Sprintf("tax invoice provider returned %d: %s", e.Status, e.Message)
}

// Profile is the fiscal identity of an invoice receiver.
type Profile struct {
	TaxID        string
	LegalName    string
	Email        string
	FiscalRegime string
	TaxZipCode   string
	CFDIUse      string
}

type Item struct {
	Code        string
	Description string
	Quantity    decimal.Decimal
	// UnitPrice and Subtotal are before tax.
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
}

type InvoiceRequest struct {
	CustomerRef   string
	Receiver      Profile
	GeneralPublic bool
	Items         []Item
	Currency      string
	Term          invoicedomain.PaymentTerm
	PaymentForm   string
	// Period is the MM-YYYY label the invoice covers.
	Period string
}

type InvoiceResult struct {
	ID           string
	Folio        string
	Result       string
	TaxStampUUID string
}

// Issuer produces fiscal documents (CFDI) for Alima's customers.
type Issuer interface {
	CreateCustomer(ctx context.Context, profile Profile) (string, error)
	CreateInvoice(ctx context.Context, req InvoiceRequest) (InvoiceResult, error)
	GetPDF(ctx context.Context, id string) ([]byte, error)
	GetXML(ctx context.Context, id string) ([]byte, error)
	// CancelInvoice voids an issued CFDI that was never recorded.
	CancelInvoice(ctx context.Context, id string) error
}

// PaymentFormFor picks the CFDI payment form. Deferred invoices carry 99.
func PaymentFormFor(term invoicedomain.PaymentTerm, card bool) string {
	if term == invoicedomain.PaymentTermPPD {
		return PaymentFormToBeDefined
	}
	if card {
		return PaymentFormCard
	}
	return PaymentFormTransfer
}

// ItemsFromLines converts computed charges into CFDI concepts.
func ItemsFromLines(lines []chargedomain.LineItem) []Item {
	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		qty := l.Quantity
		if !qty.IsPositive() {
			qty = decimal.NewFromInt(1)
		}
		items = append(items, Item{
			Code:        DefaultServiceCode,
			Description: l.Label,
			Quantity:    qty,
			UnitPrice:   l.Subtotal.Div(qty).Round(6),
			Subtotal:    l.Subtotal,
			Tax:         l.Tax,
			Total:       l.Total,
		})
	}
	return items
}

func (r InvoiceRequest) Validate() error {
	if len(r.Items) == 0 {
		return ErrNoItems
	}
	if !r.Term.Valid() {
		return ErrInvalidPaymentTerm
	}
	if !r.GeneralPublic && r.Receiver.TaxID == "" {
		return ErrMissingReceiver
	}
	return nil
}
