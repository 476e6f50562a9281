package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	runnerdomain "github.com/smallbiznis/alima/internal/billingrunner/domain"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/alima/internal/observability/metrics"
	"go.uber.org/zap"
)

// recordedCharge is a card payment collected for a period whose tax invoice
// has not been issued. It lives as a draft invoice with a paid paystatus.
type recordedCharge struct {
	invoice invoicedomain.Invoice
	status  invoicedomain.Paystatus
}

func (c *recordedCharge) transactionID() string {
	if c.status.TransactionID == nil {
		return ""
	}
	return *c.status.TransactionID
}

// chargedDraft returns the period's recorded charge, if any.
func (r *Runner) chargedDraft(ctx context.Context, accountID snowflake.ID, label string) (*recordedCharge, error) {
	invoices, err := r.ledger.FindInvoiceByPeriod(ctx, accountID, label)
	if err != nil {
		return nil, err
	}
	var drafts []invoicedomain.Invoice
	for _, inv := range invoices {
		if inv.Status == invoicedomain.InvoiceStatusDraft {
			drafts = append(drafts, inv)
		}
	}
	if len(drafts) == 0 {
		return nil, nil
	}

	ids := make([]snowflake.ID, 0, len(drafts))
	for _, inv := range drafts {
		ids = append(ids, inv.ID)
	}
	statuses, err := r.ledger.FetchInvoicePaystatuses(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, inv := range drafts {
		st, ok := statuses[inv.ID]
		if !ok || st.Status != invoicedomain.PayStatusPaid || st.TransactionID == nil || *st.TransactionID == "" {
			continue
		}
		return &recordedCharge{invoice: inv, status: st}, nil
	}
	return nil, nil
}

// recordCharge stores a collected card payment before its tax invoice is
// requested.
func (r *Runner) recordCharge(ctx context.Context, acc accountdomain.BillingAccount, label string, due chargedomain.Due, txID string) (snowflake.ID, error) {
	pmID := acc.PaymentMethod.ID
	return r.ledger.CreateInvoice(ctx, invoicedomain.CreateInvoiceInput{
		AccountID:       acc.Account.ID,
		Status:          invoicedomain.InvoiceStatusDraft,
		Country:         r.billing.Get().Country,
		Period:          label,
		Total:           due.Total,
		Currency:        due.Currency,
		PaymentTerm:     invoicedomain.PaymentTermPUE,
		Charges:         invoicedomain.ChargesFromLines(due.Lines),
		PayStatus:       invoicedomain.PayStatusPaid,
		PaymentMethodID: &pmID,
		TransactionID:   &txID,
	})
}

// recordedChargeInput rebuilds the dispatch of a recorded charge from the
// draft's stored lines.
func (r *Runner) recordedChargeInput(ctx context.Context, acc accountdomain.BillingAccount, label string, charge *recordedCharge) (DispatchInput, error) {
	charges, err := r.ledger.FetchInvoiceCharges(ctx, charge.invoice.ID)
	if err != nil {
		return DispatchInput{}, fmt.Errorf("load recorded charge lines: %w", err)
	}
	txID := charge.transactionID()
	return DispatchInput{
		Account: acc,
		Label:   label,
		Due: chargedomain.Due{
			Total:    charge.invoice.Total,
			Currency: charge.invoice.Currency,
			Lines:    invoicedomain.LinesFromCharges(charges),
		},
		Term:            invoicedomain.PaymentTermPUE,
		PayStatus:       invoicedomain.PayStatusPaid,
		Card:            true,
		PaymentMethodID: charge.status.PaymentMethodID,
		TransactionID:   &txID,
		DraftID:         charge.invoice.ID,
	}, nil
}

// invoiceRecordedCharge retries only the invoicing of a period already paid.
func (r *Runner) invoiceRecordedCharge(ctx context.Context, run *routine, item DueAccount, charge *recordedCharge) runnerdomain.Report {
	txID := charge.transactionID()
	run.log.Info("billing.charge.recorded_found",
		zap.String("account_id", item.Account.Account.ID.String()),
		zap.String("invoice_label", item.Label),
		zap.String("intent_id", txID),
	)
	in, err := r.recordedChargeInput(ctx, item.Account, item.Label, charge)
	if err != nil {
		return r.report(run, item, obsmetrics.OutcomeFailed, false, fmt.Sprintf("charge %s collected, invoice pending: %v", txID, err))
	}
	out, err := r.DispatchInvoice(ctx, in)
	if err != nil {
		return r.report(run, item, obsmetrics.OutcomeFailed, false, fmt.Sprintf("charge %s collected, invoice pending: %v", txID, err))
	}
	if out.NotifyErr != nil {
		return r.report(run, item, obsmetrics.OutcomeCharged, false, "invoiced collected charge, email not sent: "+out.NotifyErr.Error())
	}
	return r.report(run, item, obsmetrics.OutcomeCharged, true, "invoiced collected charge "+txID+", folio "+out.Folio)
}
