package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() chargedomain.Repository {
	return &repo{}
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]chargedomain.Charge, error) {
	var items []chargedomain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT id, paid_account_id, kind, amount, amount_kind, currency, active,
		 description, created_at, updated_at
		 FROM paid_account_charges
		 WHERE paid_account_id = ? AND active = ?
		 ORDER BY created_at ASC, id ASC`,
		accountID,
		true,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListValidDiscounts(ctx context.Context, db *gorm.DB, chargeIDs []snowflake.ID, at time.Time) (map[snowflake.ID][]chargedomain.ChargeDiscount, error) {
	out := make(map[snowflake.ID][]chargedomain.ChargeDiscount, len(chargeIDs))
	if len(chargeIDs) == 0 {
		return out, nil
	}

	var items []chargedomain.ChargeDiscount
	err := db.WithContext(ctx).Raw(
		`SELECT id, charge_id, kind, amount, amount_kind, valid_upto, created_at
		 FROM paid_account_charge_discounts
		 WHERE charge_id IN ? AND valid_upto >= ?
		 ORDER BY created_at ASC, id ASC`,
		chargeIDs,
		at.UTC(),
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	for _, d := range items {
		out[d.ChargeID] = append(out[d.ChargeID], d)
	}
	return out, nil
}

func (r *repo) DeactivateKind(ctx context.Context, db *gorm.DB, accountID snowflake.ID, kind chargedomain.ChargeKind, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE paid_account_charges SET active = ?, updated_at = ?
		 WHERE paid_account_id = ? AND kind = ? AND active = ?`,
		false,
		at,
		accountID,
		kind,
		true,
	).Error
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, c *chargedomain.Charge) error {
	return db.WithContext(ctx).Create(c).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*chargedomain.Charge, error) {
	var c chargedomain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT id, paid_account_id, kind, amount, amount_kind, currency, active,
		 description, created_at, updated_at
		 FROM paid_account_charges WHERE id = ?`,
		id,
	).Scan(&c).Error
	if err != nil {
		return nil, err
	}
	if c.ID == 0 {
		return nil, nil
	}
	return &c, nil
}

func (r *repo) InsertDiscount(ctx context.Context, db *gorm.DB, d *chargedomain.ChargeDiscount) error {
	return db.WithContext(ctx).Create(d).Error
}
