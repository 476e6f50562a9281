package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

// Artifacts are excluded from list queries.
const invoiceColumns = `id, paid_account_id, country, invoice_period, tax_invoice_id,
	 tax_stamp_uuid, folio, total, currency, status, payment_term, result, metadata,
	 created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) error {
	return db.WithContext(ctx).Create(invoice).Error
}

func (r *repo) InsertCharges(ctx context.Context, db *gorm.DB, charges []invoicedomain.InvoiceCharge) error {
	if len(charges) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&charges).Error
}

func (r *repo) ListCharges(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]invoicedomain.InvoiceCharge, error) {
	var items []invoicedomain.InvoiceCharge
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, charge_id, kind, description, base_quantity, unit_amount,
		 amount_kind, subtotal, tax, total, currency, created_at
		 FROM billing_invoice_charges
		 WHERE invoice_id = ?
		 ORDER BY created_at ASC, id ASC`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertPaystatus(ctx context.Context, db *gorm.DB, status *invoicedomain.Paystatus) error {
	return db.WithContext(ctx).Create(status).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) (bool, error) {
	res := db.WithContext(ctx).Model(&invoicedomain.Invoice{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var inv invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`, pdf_file, xml_file
		 FROM billing_invoices WHERE id = ?`,
		id,
	).Scan(&inv).Error
	if err != nil {
		return nil, err
	}
	if inv.ID == 0 {
		return nil, nil
	}
	return &inv, nil
}

func (r *repo) ListByAccounts(ctx context.Context, db *gorm.DB, accountIDs []snowflake.ID, from, until time.Time) ([]invoicedomain.Invoice, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	var items []invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM billing_invoices
		 WHERE paid_account_id IN ? AND created_at >= ? AND created_at <= ?
		 ORDER BY created_at ASC, id ASC`,
		accountIDs,
		from,
		until,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByPeriod(ctx context.Context, db *gorm.DB, accountID snowflake.ID, label string) ([]invoicedomain.Invoice, error) {
	var items []invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM billing_invoices
		 WHERE paid_account_id = ? AND invoice_period = ?
		 ORDER BY created_at ASC, id ASC`,
		accountID,
		label,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]invoicedomain.Invoice, error) {
	var items []invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM billing_invoices
		 WHERE paid_account_id = ?
		 ORDER BY created_at DESC, id DESC`,
		accountID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) LatestPaystatuses(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) (map[snowflake.ID]invoicedomain.Paystatus, error) {
	out := make(map[snowflake.ID]invoicedomain.Paystatus, len(invoiceIDs))
	if len(invoiceIDs) == 0 {
		return out, nil
	}
	var rows []invoicedomain.Paystatus
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, status, payment_method_id, transaction_id, created_at
		 FROM billing_invoice_paystatuses
		 WHERE invoice_id IN ?
		 ORDER BY invoice_id ASC, created_at DESC, id DESC`,
		invoiceIDs,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if _, seen := out[row.InvoiceID]; seen {
			continue
		}
		out[row.InvoiceID] = row
	}
	return out, nil
}
