package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	ListActive(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]Charge, error)
	// ListValidDiscounts returns discounts with valid_upto >= at, grouped by
	// charge and ordered by insertion.
	ListValidDiscounts(ctx context.Context, db *gorm.DB, chargeIDs []snowflake.ID, at time.Time) (map[snowflake.ID][]ChargeDiscount, error)
	DeactivateKind(ctx context.Context, db *gorm.DB, accountID snowflake.ID, kind ChargeKind, at time.Time) error
	Insert(ctx context.Context, db *gorm.DB, charge *Charge) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Charge, error)
	InsertDiscount(ctx context.Context, db *gorm.DB, discount *ChargeDiscount) error
}
