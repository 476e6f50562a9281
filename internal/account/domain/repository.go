package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	"gorm.io/gorm"
)

type Repository interface {
	// ListBillable returns active, non-deleted accounts on the given plans.
	ListBillable(ctx context.Context, db *gorm.DB, plans []chargedomain.PlanKind) ([]PaidAccount, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaidAccount, error)
	FindCustomers(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]BillingCustomer, error)
	FindActivePaymentMethods(ctx context.Context, db *gorm.DB, accountIDs []snowflake.ID) (map[snowflake.ID]PaymentMethod, error)
	SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool, at time.Time) (bool, error)
	SetInvoicingCustomerRef(ctx context.Context, db *gorm.DB, id snowflake.ID, ref string, at time.Time) error
	SaveBankAccount(ctx context.Context, db *gorm.DB, paymentMethodID snowflake.ID, number, bank string, at time.Time) error
	InsertPaymentMethod(ctx context.Context, db *gorm.DB, method *PaymentMethod) error
	DeactivateOtherPaymentMethods(ctx context.Context, db *gorm.DB, accountID, keepID snowflake.ID, at time.Time) error
	FindUsage(ctx context.Context, db *gorm.DB, accountID snowflake.ID, label string) (*Usage, error)
}
