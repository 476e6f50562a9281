package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	"gorm.io/datatypes"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft    InvoiceStatus = "draft"
	InvoiceStatusActive   InvoiceStatus = "active"
	InvoiceStatusCanceled InvoiceStatus = "canceled"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusActive, InvoiceStatusCanceled:
		return true
	}
	return false
}

type PayStatus string

const (
	PayStatusUnpaid PayStatus = "unpaid"
	PayStatusPaid   PayStatus = "paid"
)

func (s PayStatus) Valid() bool {
	return s == PayStatusUnpaid || s == PayStatusPaid
}

// PaymentTerm is the CFDI payment method code.
type PaymentTerm string

const (
	// PaymentTermPUE means paid in a single installment at issuance.
	PaymentTermPUE PaymentTerm = "PUE"
	// PaymentTermPPD means deferred payment.
	PaymentTermPPD PaymentTerm = "PPD"
)

func (t PaymentTerm) Valid() bool {
	return t == PaymentTermPUE || t == PaymentTermPPD
}

var (
	ErrInvoiceAlreadyExists = errors.New("invoice_already_exists")
	ErrInvoiceNotFound      = errors.New("invoice_not_found")
	ErrEmptyInvoice         = errors.New("invoice_without_charges")
	ErrInvalidInvoice       = errors.New("invalid_invoice")
)

type Invoice struct {
	ID            snowflake.ID      `json:"id" gorm:"primaryKey"`
	PaidAccountID snowflake.ID      `json:"paid_account_id" gorm:"column:paid_account_id;not null;index;uniqueIndex:ux_billing_invoices_active_period,where:status = 'active'"`
	Country       string            `json:"country" gorm:"type:text;not null"`
	InvoicePeriod string            `json:"invoice_period" gorm:"column:invoice_period;type:text;not null;uniqueIndex:ux_billing_invoices_active_period,where:status = 'active'"`
	TaxInvoiceID  string            `json:"tax_invoice_id" gorm:"column:tax_invoice_id;type:text"`
	TaxStampUUID  string            `json:"tax_stamp_uuid,omitempty" gorm:"column:tax_stamp_uuid;type:text"`
	Folio         string            `json:"folio" gorm:"type:text"`
	Total         decimal.Decimal   `json:"total" gorm:"type:numeric(18,4);not null"`
	Currency      string            `json:"currency" gorm:"type:text;not null"`
	Status        InvoiceStatus     `json:"status" gorm:"type:text;not null"`
	PaymentTerm   PaymentTerm       `json:"payment_term" gorm:"column:payment_term;type:text;not null"`
	Result        string            `json:"result,omitempty" gorm:"type:text"`
	PDF           []byte            `json:"-" gorm:"column:pdf_file"`
	XML           []byte            `json:"-" gorm:"column:xml_file"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:json"`
	CreatedAt     time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time         `json:"updated_at" gorm:"not null"`
}

func (Invoice) TableName() string { return "billing_invoices" }

// InvoiceCharge snapshots a computed line item. Rows are never updated.
type InvoiceCharge struct {
	ID           snowflake.ID            `json:"id" gorm:"primaryKey"`
	InvoiceID    snowflake.ID            `json:"invoice_id" gorm:"column:invoice_id;not null;index"`
	ChargeID     snowflake.ID            `json:"charge_id" gorm:"column:charge_id"`
	Kind         chargedomain.ChargeKind `json:"kind" gorm:"type:text;not null"`
	Description  string                  `json:"description" gorm:"type:text"`
	BaseQuantity decimal.Decimal         `json:"base_quantity" gorm:"column:base_quantity;type:numeric(18,4);not null"`
	UnitAmount   decimal.Decimal         `json:"unit_amount" gorm:"column:unit_amount;type:numeric(18,4);not null"`
	AmountKind   chargedomain.AmountKind `json:"amount_kind" gorm:"column:amount_kind;type:text;not null"`
	Subtotal     decimal.Decimal         `json:"subtotal" gorm:"type:numeric(18,4);not null;default:0"`
	Tax          decimal.Decimal         `json:"tax" gorm:"type:numeric(18,4);not null;default:0"`
	Total        decimal.Decimal         `json:"total" gorm:"type:numeric(18,4);not null"`
	Currency     string                  `json:"currency" gorm:"type:text;not null"`
	CreatedAt    time.Time               `json:"created_at" gorm:"not null"`
}

func (InvoiceCharge) TableName() string { return "billing_invoice_charges" }

// Paystatus rows are append-only. The current status is the newest row.
type Paystatus struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey"`
	InvoiceID       snowflake.ID  `json:"invoice_id" gorm:"column:invoice_id;not null;index"`
	Status          PayStatus     `json:"status" gorm:"type:text;not null"`
	PaymentMethodID *snowflake.ID `json:"payment_method_id,omitempty" gorm:"column:payment_method_id"`
	TransactionID   *string       `json:"transaction_id,omitempty" gorm:"column:transaction_id;type:text"`
	CreatedAt       time.Time     `json:"created_at" gorm:"not null"`
}

func (Paystatus) TableName() string { return "billing_invoice_paystatuses" }

// ChargesFromLines converts computed line items into invoice snapshots.
// IDs and invoice ids are assigned by the ledger.
func ChargesFromLines(lines []chargedomain.LineItem) []InvoiceCharge {
	out := make([]InvoiceCharge, 0, len(lines))
	for _, l := range lines {
		out = append(out, InvoiceCharge{
			ChargeID:     l.ChargeID,
			Kind:         l.Kind,
			Description:  l.Label,
			BaseQuantity: l.Quantity,
			UnitAmount:   l.UnitAmount,
			AmountKind:   l.AmountKind,
			Subtotal:     l.Subtotal,
			Tax:          l.Tax,
			Total:        l.Total,
			Currency:     l.Currency,
		})
	}
	return out
}

// LinesFromCharges rebuilds the computed line items of a recorded invoice.
func LinesFromCharges(charges []InvoiceCharge) []chargedomain.LineItem {
	out := make([]chargedomain.LineItem, 0, len(charges))
	for _, c := range charges {
		out = append(out, chargedomain.LineItem{
			ChargeID:   c.ChargeID,
			Kind:       c.Kind,
			Label:      c.Description,
			Quantity:   c.BaseQuantity,
			UnitAmount: c.UnitAmount,
			AmountKind: c.AmountKind,
			Subtotal:   c.Subtotal,
			Tax:        c.Tax,
			Total:      c.Total,
			Currency:   c.Currency,
		})
	}
	return out
}
