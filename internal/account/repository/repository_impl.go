package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() accountdomain.Repository {
	return &repo{}
}

const paidAccountColumns = `id, customer_id, plan, active_cedis, invoicing_customer_ref,
	 active, deleted, created_at, updated_at`

func (r *repo) ListBillable(ctx context.Context, db *gorm.DB, plans []chargedomain.PlanKind) ([]accountdomain.PaidAccount, error) {
	if len(plans) == 0 {
		return nil, nil
	}
	var items []accountdomain.PaidAccount
	err := db.WithContext(ctx).Raw(
		`SELECT `+paidAccountColumns+`
		 FROM paid_accounts
		 WHERE active = ? AND deleted = ? AND plan IN ?
		 ORDER BY created_at ASC, id ASC`,
		true,
		false,
		plans,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*accountdomain.PaidAccount, error) {
	var a accountdomain.PaidAccount
	err := db.WithContext(ctx).Raw(
		`SELECT `+paidAccountColumns+`
		 FROM paid_accounts WHERE id = ? AND deleted = ?`,
		id,
		false,
	).Scan(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == 0 {
		return nil, nil
	}
	return &a, nil
}

func (r *repo) FindCustomers(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]accountdomain.BillingCustomer, error) {
	out := make(map[snowflake.ID]accountdomain.BillingCustomer, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var items []accountdomain.BillingCustomer
	err := db.WithContext(ctx).Raw(
		`SELECT id, display_name, emails, tax_id, legal_name, fiscal_regime,
		 tax_zip_code, cfdi_use, created_at, updated_at
		 FROM billing_customers WHERE id IN ?`,
		ids,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	for _, c := range items {
		out[c.ID] = c
	}
	return out, nil
}

// FindActivePaymentMethods keeps the newest active method per account.
func (r *repo) FindActivePaymentMethods(ctx context.Context, db *gorm.DB, accountIDs []snowflake.ID) (map[snowflake.ID]accountdomain.PaymentMethod, error) {
	out := make(map[snowflake.ID]accountdomain.PaymentMethod, len(accountIDs))
	if len(accountIDs) == 0 {
		return out, nil
	}
	var items []accountdomain.PaymentMethod
	err := db.WithContext(ctx).Raw(
		`SELECT id, paid_account_id, payment_type, payment_provider, provider_ref,
		 bank_account_number, bank_name, active, created_by, created_at, updated_at
		 FROM billing_payment_methods
		 WHERE paid_account_id IN ? AND active = ?
		 ORDER BY created_at ASC, id ASC`,
		accountIDs,
		true,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	for _, m := range items {
		out[m.PaidAccountID] = m
	}
	return out, nil
}

func (r *repo) SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE paid_accounts SET active = ?, updated_at = ?
		 WHERE id = ? AND deleted = ?`,
		active,
		at,
		id,
		false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetInvoicingCustomerRef(ctx context.Context, db *gorm.DB, id snowflake.ID, ref string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE paid_accounts SET invoicing_customer_ref = ?, updated_at = ? WHERE id = ?`,
		ref,
		at,
		id,
	).Error
}

func (r *repo) SaveBankAccount(ctx context.Context, db *gorm.DB, paymentMethodID snowflake.ID, number, bank string, at time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_payment_methods
		 SET bank_account_number = ?, bank_name = ?, updated_at = ?
		 WHERE id = ?`,
		number,
		bank,
		at,
		paymentMethodID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return accountdomain.ErrPaymentMethodNotFound
	}
	return nil
}

func (r *repo) InsertPaymentMethod(ctx context.Context, db *gorm.DB, m *accountdomain.PaymentMethod) error {
	return db.WithContext(ctx).Create(m).Error
}

func (r *repo) DeactivateOtherPaymentMethods(ctx context.Context, db *gorm.DB, accountID, keepID snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_payment_methods SET active = ?, updated_at = ?
		 WHERE paid_account_id = ? AND id <> ? AND active = ?`,
		false,
		at,
		accountID,
		keepID,
		true,
	).Error
}

func (r *repo) FindUsage(ctx context.Context, db *gorm.DB, accountID snowflake.ID, label string) (*accountdomain.Usage, error) {
	var u accountdomain.Usage
	err := db.WithContext(ctx).Raw(
		`SELECT paid_account_id, period_label, folios, gmv
		 FROM paid_account_usage WHERE paid_account_id = ? AND period_label = ?`,
		accountID,
		label,
	).Scan(&u).Error
	if err != nil {
		return nil, err
	}
	if u.PaidAccountID == 0 {
		return nil, nil
	}
	return &u, nil
}
