package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	"github.com/smallbiznis/alima/internal/clock"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
	"github.com/smallbiznis/alima/internal/invoice/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestLedger(t *testing.T) (*Ledger, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&invoicedomain.Invoice{}, &invoicedomain.InvoiceCharge{}, &invoicedomain.Paystatus{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC))

	ledger, err := New(Params{DB: db, Log: zaptest.NewLogger(t), GenID: node, Repo: repository.Provide(), Clock: clk})
	require.NoError(t, err)
	return ledger.(*Ledger), db, clk
}

func sampleInput(accountID snowflake.ID, period string) invoicedomain.CreateInvoiceInput {
	return invoicedomain.CreateInvoiceInput{
		AccountID:    accountID,
		Country:      "MX",
		Period:       period,
		TaxInvoiceID: "cfdi-1",
		Folio:        "ALM-1",
		Total:        decimal.RequireFromString("1160"),
		Currency:     "MXN",
		PaymentTerm:  invoicedomain.PaymentTermPPD,
		Charges: invoicedomain.ChargesFromLines([]chargedomain.LineItem{{
			ChargeID: 1, Kind: chargedomain.SaasFee, Label: "Licencia",
			Quantity: decimal.NewFromInt(1), UnitAmount: decimal.NewFromInt(1000),
			AmountKind: chargedomain.Fixed, Total: decimal.NewFromInt(1160), Currency: "MXN",
		}}),
	}
}

func TestCreateInvoiceWritesChargesAndPaystatus(t *testing.T) {
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()

	id, err := ledger.CreateInvoice(ctx, sampleInput(7, "03-2024"))
	require.NoError(t, err)

	var charges int64
	require.NoError(t, db.Model(&invoicedomain.InvoiceCharge{}).Where("invoice_id = ?", id).Count(&charges).Error)
	assert.Equal(t, int64(1), charges)

	statuses, err := ledger.FetchInvoicePaystatuses(ctx, []snowflake.ID{id})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.PayStatusUnpaid, statuses[id].Status)
}

func TestCreateInvoiceRejectsSecondActiveInvoiceForPeriod(t *testing.T) {
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := ledger.CreateInvoice(ctx, sampleInput(7, "03-2024"))
	require.NoError(t, err)

	_, err = ledger.CreateInvoice(ctx, sampleInput(7, "03-2024"))
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceAlreadyExists)

	var count int64
	require.NoError(t, db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	require.NoError(t, db.Model(&invoicedomain.InvoiceCharge{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "failed attempt leaves no orphan charges")

	canceled := invoicedomain.InvoiceStatusCanceled
	ok, err := ledger.UpdateInvoice(ctx, invoicedomain.UpdateInvoiceInput{InvoiceID: first, Status: &canceled})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = ledger.CreateInvoice(ctx, sampleInput(7, "03-2024"))
	assert.NoError(t, err, "canceled invoices do not block a new one")
}

func TestCreateInvoiceRollsBackOnPaystatusFailure(t *testing.T) {
	ledger, db, _ := newTestLedger(t)
	boom := errors.New("paystatus write failed")
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("fail_paystatus", func(tx *gorm.DB) {
		if tx.Statement.Table == "billing_invoice_paystatuses" {
			_ = tx.AddError(boom)
		}
	}))

	_, err := ledger.CreateInvoice(context.Background(), sampleInput(7, "03-2024"))
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&invoicedomain.InvoiceCharge{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateInvoiceRejectsEmptyInvoices(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	in := sampleInput(7, "03-2024")
	in.Charges = nil
	_, err := ledger.CreateInvoice(context.Background(), in)
	assert.ErrorIs(t, err, invoicedomain.ErrEmptyInvoice)
}

func TestUpdateInvoiceAppendsPaystatus(t *testing.T) {
	ledger, _, clk := newTestLedger(t)
	ctx := context.Background()

	id, err := ledger.CreateInvoice(ctx, sampleInput(7, "03-2024"))
	require.NoError(t, err)

	_, found, err := ledger.TransactionForPeriod(ctx, 7, "03-2024")
	require.NoError(t, err)
	assert.False(t, found)

	clk.Advance(time.Hour)
	paid := invoicedomain.PayStatusPaid
	tx := "pi_123"
	result := "stamped"
	ok, err := ledger.UpdateInvoice(ctx, invoicedomain.UpdateInvoiceInput{
		InvoiceID: id, Result: &result, PDF: []byte("%PDF"), PayStatus: &paid, TransactionID: &tx,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	statuses, err := ledger.FetchInvoicePaystatuses(ctx, []snowflake.ID{id})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.PayStatusPaid, statuses[id].Status)

	txID, found, err := ledger.TransactionForPeriod(ctx, 7, "03-2024")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "pi_123", txID)

	inv, err := ledger.GetInvoice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), inv.PDF)
	assert.Equal(t, "stamped", inv.Result)

	ok, err = ledger.UpdateInvoice(ctx, invoicedomain.UpdateInvoiceInput{InvoiceID: 999})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchInvoicesWindow(t *testing.T) {
	ledger, _, clk := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.CreateInvoice(ctx, sampleInput(7, "03-2024"))
	require.NoError(t, err)
	now := clk.Now()

	invoices, err := ledger.FetchInvoices(ctx, []snowflake.ID{7, 8}, now.AddDate(0, 0, -1), now.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, invoices, 1)

	invoices, err = ledger.FetchInvoices(ctx, []snowflake.ID{7}, now.AddDate(0, 0, 1), now.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestDraftInvoiceIsPromotedWithTaxFields(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	in := sampleInput(7, "04-2024")
	in.Status = invoicedomain.InvoiceStatusDraft
	in.TaxInvoiceID, in.Folio = "", ""
	in.PaymentTerm = invoicedomain.PaymentTermPUE
	in.PayStatus = invoicedomain.PayStatusPaid
	tx := "pi_ok"
	in.TransactionID = &tx
	in.Charges[0].Subtotal = decimal.NewFromInt(1000)
	in.Charges[0].Tax = decimal.NewFromInt(160)
	draft, err := ledger.CreateInvoice(ctx, in)
	require.NoError(t, err)

	_, found, err := ledger.TransactionForPeriod(ctx, 7, "04-2024")
	require.NoError(t, err)
	assert.False(t, found, "drafts do not count as invoiced")

	charges, err := ledger.FetchInvoiceCharges(ctx, draft)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.True(t, decimal.NewFromInt(1000).Equal(charges[0].Subtotal))
	assert.True(t, decimal.NewFromInt(160).Equal(charges[0].Tax))
	lines := invoicedomain.LinesFromCharges(charges)
	assert.Equal(t, "Licencia", lines[0].Label)

	active := invoicedomain.InvoiceStatusActive
	taxID, stamp, folio, result := "cfdi-9", "uuid-9", "ALM-9", "issued"
	ok, err := ledger.UpdateInvoice(ctx, invoicedomain.UpdateInvoiceInput{
		InvoiceID: draft, Status: &active, TaxInvoiceID: &taxID, TaxStampUUID: &stamp, Folio: &folio, Result: &result,
	})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := ledger.GetInvoice(ctx, draft)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusActive, got.Status)
	assert.Equal(t, "cfdi-9", got.TaxInvoiceID)
	assert.Equal(t, "ALM-9", got.Folio)

	txID, found, err := ledger.TransactionForPeriod(ctx, 7, "04-2024")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "pi_ok", txID)
}

func TestCreateInvoiceRejectsUnknownStatus(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	in := sampleInput(7, "04-2024")
	in.Status = invoicedomain.InvoiceStatusCanceled
	_, err := ledger.CreateInvoice(context.Background(), in)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidInvoice)
}
