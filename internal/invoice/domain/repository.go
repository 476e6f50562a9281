package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertCharges(ctx context.Context, db *gorm.DB, charges []InvoiceCharge) error
	ListCharges(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceCharge, error)
	InsertPaystatus(ctx context.Context, db *gorm.DB, status *Paystatus) error
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	ListByAccounts(ctx context.Context, db *gorm.DB, accountIDs []snowflake.ID, from, until time.Time) ([]Invoice, error)
	ListByPeriod(ctx context.Context, db *gorm.DB, accountID snowflake.ID, label string) ([]Invoice, error)
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]Invoice, error)
	LatestPaystatuses(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) (map[snowflake.ID]Paystatus, error)
}
