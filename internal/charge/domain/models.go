package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type ChargeKind string

const (
	SaasFee               ChargeKind = "saas_fee"
	FinanceFee            ChargeKind = "finance_fee"
	ReportsFee            ChargeKind = "reports_fee"
	MarketplaceCommission ChargeKind = "marketplace_commission"
	InvoiceFolioFee       ChargeKind = "invoice_folio_fee"
)

func (k ChargeKind) Valid() bool {
	switch k {
	case SaasFee, FinanceFee, ReportsFee, MarketplaceCommission, InvoiceFolioFee:
		return true
	}
	return false
}

// AmountKind tells whether an amount is a currency value or a fraction.
// Percentages are stored as fractions: 0.10 is ten percent.
type AmountKind string

const (
	Fixed      AmountKind = "fixed"
	Percentage AmountKind = "percentage"
)

func (k AmountKind) Valid() bool {
	return k == Fixed || k == Percentage
}

var (
	ErrInvalidChargeKind = errors.New("invalid_charge_kind")
	ErrInvalidAmountKind = errors.New("invalid_amount_kind")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrPlanNotValid      = errors.New("plan_not_valid")
	ErrChargeNotFound    = errors.New("charge_not_found")
)

type Charge struct {
	ID            snowflake.ID    `json:"id" gorm:"primaryKey"`
	PaidAccountID snowflake.ID    `json:"paid_account_id" gorm:"column:paid_account_id;not null;index"`
	Kind          ChargeKind      `json:"kind" gorm:"type:text;not null"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:numeric(18,4);not null"`
	AmountKind    AmountKind      `json:"amount_kind" gorm:"column:amount_kind;type:text;not null"`
	Currency      string          `json:"currency" gorm:"type:text;not null"`
	Active        bool            `json:"active" gorm:"not null"`
	Description   string          `json:"description,omitempty" gorm:"type:text"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"not null"`
}

func (Charge) TableName() string { return "paid_account_charges" }

type ChargeDiscount struct {
	ID         snowflake.ID    `json:"id" gorm:"primaryKey"`
	ChargeID   snowflake.ID    `json:"charge_id" gorm:"column:charge_id;not null;index"`
	Kind       string          `json:"kind" gorm:"type:text;not null"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:numeric(18,4);not null"`
	AmountKind AmountKind      `json:"amount_kind" gorm:"column:amount_kind;type:text;not null"`
	ValidUpto  time.Time       `json:"valid_upto" gorm:"column:valid_upto;not null"`
	CreatedAt  time.Time       `json:"created_at" gorm:"not null"`
}

func (ChargeDiscount) TableName() string { return "paid_account_charge_discounts" }

// LineItem is one computed charge for a billing period. Subtotal is the
// discounted pre-tax base, Total includes VAT.
type LineItem struct {
	ChargeID   snowflake.ID    `json:"charge_id"`
	Kind       ChargeKind      `json:"kind"`
	Label      string          `json:"label"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitAmount decimal.Decimal `json:"unit_amount"`
	AmountKind AmountKind      `json:"amount_kind"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
}

// Usage carries the marketplace figures a period's charges depend on.
type Usage struct {
	Folios int64
	GMV    decimal.Decimal
}

// Due is the amount owed for one period. A zero Total means there is
// nothing to invoice.
type Due struct {
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
	Lines    []LineItem      `json:"lines"`
}

func (d Due) IsZero() bool {
	return !d.Total.IsPositive()
}
