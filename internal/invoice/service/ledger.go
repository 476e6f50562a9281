package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/alima/internal/clock"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
	"github.com/smallbiznis/alima/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_invoice_ledger_config")

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  invoicedomain.Repository
	Clock clock.Clock
}

type Ledger struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  invoicedomain.Repository
	clock clock.Clock
}

func New(p Params) (invoicedomain.Ledger, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Repo == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Ledger{
		db:    p.DB,
		log:   p.Log.Named("invoice.ledger"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}, nil
}

func (l *Ledger) FetchInvoices(ctx context.Context, accountIDs []snowflake.ID, from, until time.Time) ([]invoicedomain.Invoice, error) {
	return l.repo.ListByAccounts(ctx, l.db, accountIDs, from, until)
}

func (l *Ledger) FetchInvoicePaystatuses(ctx context.Context, invoiceIDs []snowflake.ID) (map[snowflake.ID]invoicedomain.Paystatus, error) {
	return l.repo.LatestPaystatuses(ctx, l.db, invoiceIDs)
}

func (l *Ledger) FindInvoiceByPeriod(ctx context.Context, accountID snowflake.ID, label string) ([]invoicedomain.Invoice, error) {
	return l.repo.ListByPeriod(ctx, l.db, accountID, label)
}

func (l *Ledger) GetInvoice(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	inv, err := l.repo.FindByID(ctx, l.db, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return inv, nil
}

func (l *Ledger) FetchInvoiceCharges(ctx context.Context, invoiceID snowflake.ID) ([]invoicedomain.InvoiceCharge, error) {
	return l.repo.ListCharges(ctx, l.db, invoiceID)
}

func (l *Ledger) ListAccountInvoices(ctx context.Context, accountID snowflake.ID) ([]invoicedomain.Invoice, error) {
	return l.repo.ListByAccount(ctx, l.db, accountID)
}

func (l *Ledger) CreateInvoice(ctx context.Context, in invoicedomain.CreateInvoiceInput) (snowflake.ID, error) {
	if in.AccountID == 0 || strings.TrimSpace(in.Period) == "" || !in.PaymentTerm.Valid() {
		return 0, invoicedomain.ErrInvalidInvoice
	}
	if len(in.Charges) == 0 || !in.Total.IsPositive() {
		return 0, invoicedomain.ErrEmptyInvoice
	}
	payStatus := in.PayStatus
	if payStatus == "" {
		payStatus = invoicedomain.PayStatusUnpaid
	}
	if !payStatus.Valid() {
		return 0, invoicedomain.ErrInvalidInvoice
	}
	status := in.Status
	if status == "" {
		status = invoicedomain.InvoiceStatusActive
	}
	if status != invoicedomain.InvoiceStatusActive && status != invoicedomain.InvoiceStatusDraft {
		return 0, invoicedomain.ErrInvalidInvoice
	}

	now := l.clock.Now().UTC()
	invoice := &invoicedomain.Invoice{
		ID:            l.genID.Generate(),
		PaidAccountID: in.AccountID,
		Country:       in.Country,
		InvoicePeriod: in.Period,
		TaxInvoiceID:  in.TaxInvoiceID,
		TaxStampUUID:  in.TaxStampUUID,
		Folio:         in.Folio,
		Total:         in.Total,
		Currency:      in.Currency,
		Status:        status,
		PaymentTerm:   in.PaymentTerm,
		Result:        in.Result,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.Metadata != nil {
		invoice.Metadata = datatypes.JSONMap(in.Metadata)
	}

	charges := make([]invoicedomain.InvoiceCharge, 0, len(in.Charges))
	for _, c := range in.Charges {
		c.ID = l.genID.Generate()
		c.InvoiceID = invoice.ID
		c.CreatedAt = now
		charges = append(charges, c)
	}
	first := &invoicedomain.Paystatus{
		ID:              l.genID.Generate(),
		InvoiceID:       invoice.ID,
		Status:          payStatus,
		PaymentMethodID: in.PaymentMethodID,
		TransactionID:   in.TransactionID,
		CreatedAt:       now,
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.repo.Insert(ctx, tx, invoice); err != nil {
			return err
		}
		if err := l.repo.InsertCharges(ctx, tx, charges); err != nil {
			return err
		}
		return l.repo.InsertPaystatus(ctx, tx, first)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return 0, invoicedomain.ErrInvoiceAlreadyExists
		}
		return 0, err
	}

	l.log.Info("invoice.created",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("account_id", in.AccountID.String()),
		zap.String("period", in.Period),
		zap.String("status", string(status)),
		zap.String("pay_status", string(payStatus)),
	)
	return invoice.ID, nil
}

// UpdateInvoice changes result, artifacts or status and optionally appends a
// paystatus row, all in one transaction. It returns false when the invoice
// does not exist.
func (l *Ledger) UpdateInvoice(ctx context.Context, in invoicedomain.UpdateInvoiceInput) (bool, error) {
	if in.Status != nil && !in.Status.Valid() {
		return false, invoicedomain.ErrInvalidInvoice
	}
	if in.PayStatus != nil && !in.PayStatus.Valid() {
		return false, invoicedomain.ErrInvalidInvoice
	}

	now := l.clock.Now().UTC()
	fields := map[string]any{"updated_at": now}
	if in.TaxInvoiceID != nil {
		fields["tax_invoice_id"] = *in.TaxInvoiceID
	}
	if in.TaxStampUUID != nil {
		fields["tax_stamp_uuid"] = *in.TaxStampUUID
	}
	if in.Folio != nil {
		fields["folio"] = *in.Folio
	}
	if in.Result != nil {
		fields["result"] = *in.Result
	}
	if in.PDF != nil {
		fields["pdf_file"] = in.PDF
	}
	if in.XML != nil {
		fields["xml_file"] = in.XML
	}
	if in.Status != nil {
		fields["status"] = *in.Status
	}

	updated := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := l.repo.Update(ctx, tx, in.InvoiceID, fields)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		updated = true
		if in.PayStatus == nil {
			return nil
		}
		return l.repo.InsertPaystatus(ctx, tx, &invoicedomain.Paystatus{
			ID:              l.genID.Generate(),
			InvoiceID:       in.InvoiceID,
			Status:          *in.PayStatus,
			PaymentMethodID: in.PaymentMethodID,
			TransactionID:   in.TransactionID,
			CreatedAt:       now,
		})
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, invoicedomain.ErrInvoiceAlreadyExists
		}
		return false, err
	}
	return updated, nil
}

func (l *Ledger) TransactionForPeriod(ctx context.Context, accountID snowflake.ID, label string) (string, bool, error) {
	invoices, err := l.repo.ListByPeriod(ctx, l.db, accountID, label)
	if err != nil {
		return "", false, err
	}
	ids := make([]snowflake.ID, 0, len(invoices))
	for _, inv := range invoices {
		if inv.Status == invoicedomain.InvoiceStatusActive {
			ids = append(ids, inv.ID)
		}
	}
	statuses, err := l.repo.LatestPaystatuses(ctx, l.db, ids)
	if err != nil {
		return "", false, err
	}
	for _, id := range ids {
		st, ok := statuses[id]
		if ok && st.TransactionID != nil && strings.TrimSpace(*st.TransactionID) != "" {
			return *st.TransactionID, true, nil
		}
	}
	return "", false, nil
}
