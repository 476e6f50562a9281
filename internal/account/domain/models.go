package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
)

var (
	ErrAccountNotFound       = errors.New("account_not_found")
	ErrPaymentMethodNotFound = errors.New("payment_method_not_found")
	ErrInvalidPayProvider    = errors.New("invalid_pay_provider")
	ErrInvalidAccountID      = errors.New("invalid_account_id")
)

// PayProvider identifies the rail a payment method collects through.
type PayProvider string

const (
	ProviderStripeCard   PayProvider = "stripe_card"
	ProviderStripeSPEI   PayProvider = "stripe_spei"
	ProviderBankTransfer PayProvider = "bank_transfer"
)

func (p PayProvider) Valid() bool {
	switch p {
	case ProviderStripeCard, ProviderStripeSPEI, ProviderBankTransfer:
		return true
	}
	return false
}

func ParsePayProvider(raw string) (PayProvider, error) {
	p := PayProvider(strings.ToLower(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", ErrInvalidPayProvider
	}
	return p, nil
}

type PaymentType string

const (
	PaymentTypeCard     PaymentType = "card"
	PaymentTypeTransfer PaymentType = "transfer"
)

// TypeOf returns the payment type implied by a provider.
func TypeOf(p PayProvider) PaymentType {
	if p == ProviderStripeCard {
		return PaymentTypeCard
	}
	return PaymentTypeTransfer
}

// BillingCustomer is the supplier business billed by Alima.
type BillingCustomer struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	DisplayName  string       `json:"display_name" gorm:"type:text;not null"`
	Emails       string       `json:"emails" gorm:"type:text"`
	TaxID        string       `json:"tax_id" gorm:"column:tax_id;type:text"`
	LegalName    string       `json:"legal_name" gorm:"type:text"`
	FiscalRegime string       `json:"fiscal_regime" gorm:"type:text"`
	TaxZipCode   string       `json:"tax_zip_code" gorm:"type:text"`
	CFDIUse      string       `json:"cfdi_use" gorm:"column:cfdi_use;type:text"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null"`
}

func (BillingCustomer) TableName() string { return "billing_customers" }

// EmailList splits the stored comma separated contact list.
func (c BillingCustomer) EmailList() []string {
	parts := strings.Split(c.Emails, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type PaidAccount struct {
	ID                   snowflake.ID          `json:"id" gorm:"primaryKey"`
	CustomerID           snowflake.ID          `json:"customer_id" gorm:"column:customer_id;not null;uniqueIndex:ux_paid_accounts_customer,where:deleted = false"`
	Plan                 chargedomain.PlanKind `json:"plan" gorm:"type:text;not null"`
	ActiveCedis          int64                 `json:"active_cedis" gorm:"column:active_cedis;not null;default:1"`
	InvoicingCustomerRef *string               `json:"invoicing_customer_ref,omitempty" gorm:"column:invoicing_customer_ref;type:text"`
	Active               bool                  `json:"active" gorm:"not null"`
	Deleted              bool                  `json:"deleted" gorm:"not null"`
	CreatedAt            time.Time             `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time             `json:"updated_at" gorm:"not null"`
}

func (PaidAccount) TableName() string { return "paid_accounts" }

type PaymentMethod struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	PaidAccountID     snowflake.ID `json:"paid_account_id" gorm:"column:paid_account_id;not null;index"`
	PaymentType       PaymentType  `json:"payment_type" gorm:"column:payment_type;type:text;not null"`
	PaymentProvider   PayProvider  `json:"payment_provider" gorm:"column:payment_provider;type:text;not null"`
	ProviderRef       string       `json:"provider_ref" gorm:"column:provider_ref;type:text"`
	BankAccountNumber *string      `json:"bank_account_number,omitempty" gorm:"column:bank_account_number;type:text"`
	BankName          *string      `json:"bank_name,omitempty" gorm:"column:bank_name;type:text"`
	Active            bool         `json:"active" gorm:"not null"`
	CreatedBy         string       `json:"created_by" gorm:"column:created_by;type:text"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"not null"`
}

func (PaymentMethod) TableName() string { return "billing_payment_methods" }

// HasBankAccount reports whether the SPEI reference is already known.
func (m *PaymentMethod) HasBankAccount() bool {
	return m != nil && m.BankAccountNumber != nil && strings.TrimSpace(*m.BankAccountNumber) != ""
}

// Usage is the marketplace activity of one account in one period.
type Usage struct {
	PaidAccountID snowflake.ID    `gorm:"column:paid_account_id;primaryKey"`
	PeriodLabel   string          `gorm:"column:period_label;primaryKey;type:text"`
	Folios        int64           `gorm:"column:folios;not null;default:0"`
	GMV           decimal.Decimal `gorm:"column:gmv;type:numeric(18,4);not null;default:0"`
}

func (Usage) TableName() string { return "paid_account_usage" }

// BillingAccount is a paid account joined with its customer and active
// payment method.
type BillingAccount struct {
	Account       PaidAccount     `json:"account"`
	Customer      BillingCustomer `json:"customer"`
	PaymentMethod *PaymentMethod  `json:"payment_method,omitempty"`
}

// Provider returns the rail of the active payment method, if any.
func (a BillingAccount) Provider() PayProvider {
	if a.PaymentMethod == nil {
		return ""
	}
	return a.PaymentMethod.PaymentProvider
}
