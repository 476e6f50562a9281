package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	"github.com/smallbiznis/alima/internal/billingperiod"
	runnerdomain "github.com/smallbiznis/alima/internal/billingrunner/domain"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
	"go.uber.org/zap"
)

var ErrInvalidManualRequest = errors.New("invalid_manual_invoice_request")

// ManualInvoiceRequest issues the invoice of one account and period outside
// the routine, e.g. after an offline payment.
type ManualInvoiceRequest struct {
	AccountID     snowflake.ID              `json:"-"`
	Month         int                       `json:"month"`
	Year          int                       `json:"year"`
	Term          invoicedomain.PaymentTerm `json:"payment_term"`
	Paid          bool                      `json:"paid"`
	TransactionID string                    `json:"transaction_id"`
}

// InvoiceAccount computes the period's due and dispatches its invoice. It
// refuses periods that already carry an active invoice. A card charge
// already collected for the period is invoiced as paid.
func (r *Runner) InvoiceAccount(ctx context.Context, req ManualInvoiceRequest) (DispatchResult, error) {
	if req.AccountID == 0 || req.Month < 1 || req.Month > 12 || req.Year < 1 {
		return DispatchResult{}, ErrInvalidManualRequest
	}
	if req.Term == "" {
		req.Term = invoicedomain.PaymentTermPPD
	}
	if !req.Term.Valid() {
		return DispatchResult{}, ErrInvalidManualRequest
	}

	acc, err := r.accounts.GetBillingAccount(ctx, req.AccountID)
	if err != nil {
		return DispatchResult{}, err
	}
	if acc.Account.Deleted {
		return DispatchResult{}, runnerdomain.ErrAccountInactive
	}

	month := time.Month(req.Month)
	label := billingperiod.Label(month, req.Year)
	existing, err := r.activeInvoice(ctx, acc.Account.ID, label)
	if err != nil {
		return DispatchResult{}, err
	}
	if existing != nil {
		return DispatchResult{}, invoicedomain.ErrInvoiceAlreadyExists
	}

	charged, err := r.chargedDraft(ctx, acc.Account.ID, label)
	if err != nil {
		return DispatchResult{}, err
	}
	if charged != nil {
		in, err := r.recordedChargeInput(ctx, *acc, label, charged)
		if err != nil {
			return DispatchResult{}, err
		}
		return r.dispatchManual(ctx, in)
	}

	usage, err := r.accounts.Usage(ctx, acc.Account.ID, label)
	if err != nil {
		return DispatchResult{}, err
	}
	due, err := r.charges.TotalDue(ctx, chargedomain.DueRequest{
		AccountID: acc.Account.ID,
		Plan:      acc.Account.Plan,
		Cedis:     acc.Account.ActiveCedis,
		Usage:     usage,
		At:        billingperiod.Checkday(acc.Account.CreatedAt, month, req.Year),
	})
	if err != nil {
		return DispatchResult{}, err
	}

	in := DispatchInput{
		Account:   *acc,
		Label:     label,
		Due:       due,
		Term:      req.Term,
		PayStatus: invoicedomain.PayStatusUnpaid,
	}
	if req.Paid {
		in.PayStatus = invoicedomain.PayStatusPaid
	}
	if acc.PaymentMethod != nil {
		pmID := acc.PaymentMethod.ID
		in.PaymentMethodID = &pmID
		in.Card = acc.PaymentMethod.PaymentType == accountdomain.PaymentTypeCard
	}
	if req.TransactionID != "" {
		tx := req.TransactionID
		in.TransactionID = &tx
	}

	return r.dispatchManual(ctx, in)
}

func (r *Runner) dispatchManual(ctx context.Context, in DispatchInput) (DispatchResult, error) {
	out, err := r.DispatchInvoice(ctx, in)
	if err != nil {
		return DispatchResult{}, err
	}
	r.log.Info("billing.invoice.manual",
		zap.String("account_id", in.Account.Account.ID.String()),
		zap.String("invoice_label", in.Label),
		zap.String("folio", out.Folio),
		zap.Bool("recorded_charge", in.DraftID != 0),
	)
	return out, nil
}
