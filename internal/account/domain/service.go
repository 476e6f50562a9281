package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/alima/internal/billingperiod"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
)

type Service interface {
	ListBillingAccounts(ctx context.Context, period billingperiod.Period) ([]BillingAccount, error)
	GetBillingAccount(ctx context.Context, id snowflake.ID) (*BillingAccount, error)
	Disable(ctx context.Context, id snowflake.ID) error
	Reactivate(ctx context.Context, id snowflake.ID) error
	SetInvoicingCustomerRef(ctx context.Context, id snowflake.ID, ref string) error
	SaveBankAccount(ctx context.Context, paymentMethodID snowflake.ID, number, bank string) error
	CreatePaymentMethod(ctx context.Context, req CreatePaymentMethodRequest) (*PaymentMethod, error)
	Usage(ctx context.Context, id snowflake.ID, label string) (chargedomain.Usage, error)
}

type CreatePaymentMethodRequest struct {
	AccountID         snowflake.ID `json:"-"`
	PaymentProvider   PayProvider  `json:"payment_provider"`
	ProviderRef       string       `json:"provider_ref"`
	BankAccountNumber string       `json:"bank_account_number"`
	BankName          string       `json:"bank_name"`
	CreatedBy         string       `json:"created_by"`
}
