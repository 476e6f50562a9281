package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	eventdomain "github.com/smallbiznis/alima/internal/billingevent/domain"
	"github.com/smallbiznis/alima/internal/billingperiod"
	runnerdomain "github.com/smallbiznis/alima/internal/billingrunner/domain"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
	"github.com/smallbiznis/alima/internal/notification"
	obsmetrics "github.com/smallbiznis/alima/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/alima/internal/payment/domain"
	paymentservice "github.com/smallbiznis/alima/internal/payment/service"
	"go.uber.org/zap"
)

// Invoice metadata keys holding the SPEI instructions of a deferred invoice.
const (
	metaClabe     = "clabe"
	metaBank      = "bank"
	metaBankCode  = "bank_code"
	metaReference = "reference"
	metaHostedURL = "hosted_url"
)

// cardFlow charges the stored card every day of the collection window and
// issues a paid invoice on the first successful charge. A charge collected
// by an earlier run is only invoiced.
func (r *Runner) cardFlow(ctx context.Context, run *routine, item DueAccount, el elements) runnerdomain.Report {
	charged, err := r.chargedDraft(ctx, item.Account.Account.ID, item.Label)
	if err != nil {
		return r.report(run, item, obsmetrics.OutcomeFailed, false, "check recorded charge: "+err.Error())
	}
	if charged != nil {
		return r.invoiceRecordedCharge(ctx, run, item, charged)
	}
	switch {
	case el.days < billingperiod.CollectionWindow:
		return r.collectCard(ctx, run, item, el)
	case el.days == billingperiod.CollectionWindow:
		return r.suspendIfOwed(ctx, run, item)
	default:
		return r.unexpected(run, item, el.days)
	}
}

func (r *Runner) collectCard(ctx context.Context, run *routine, item DueAccount, el elements) runnerdomain.Report {
	acc := item.Account
	due, err := r.totalDue(ctx, run, item)
	if err != nil {
		return r.report(run, item, obsmetrics.OutcomeFailed, false, "compute total due: "+err.Error())
	}
	if due.IsZero() {
		return r.report(run, item, obsmetrics.OutcomeSkipped, true, "nothing due for the period")
	}

	res, err := r.collector.CollectCard(ctx, paymentservice.CardCollection{
		Account:     acc,
		Label:       item.Label,
		Attempt:     el.days,
		Amount:      due.Total,
		Currency:    due.Currency,
		Description: description(item),
	})
	if err != nil {
		return r.cardFailed(ctx, run, item, el, due, err)
	}
	r.emit(ctx, eventdomain.PaymentCollected, acc.Account.ID, item.Label, map[string]any{
		"provider":  string(run.provider),
		"intent_id": res.IntentID,
		"attempt":   el.days,
		"total":     due.Total.String(),
		"currency":  due.Currency,
		"card_id":   res.CardID,
	})

	pmID := acc.PaymentMethod.ID
	txID := res.IntentID
	if item.Invoice != nil {
		paid := invoicedomain.PayStatusPaid
		_, err := r.ledger.UpdateInvoice(ctx, invoicedomain.UpdateInvoiceInput{
			InvoiceID:       item.Invoice.ID,
			PayStatus:       &paid,
			PaymentMethodID: &pmID,
			TransactionID:   &txID,
		})
		if err != nil {
			return r.report(run, item, obsmetrics.OutcomeFailed, false, fmt.Sprintf("charged %s but invoice not marked paid: %v", txID, err))
		}
		return r.report(run, item, obsmetrics.OutcomeCharged, true, "charged, invoice "+item.Invoice.Folio+" marked paid")
	}

	draftID, err := r.recordCharge(ctx, acc, item.Label, due, txID)
	if err != nil {
		run.log.Error("billing.charge.not_recorded",
			zap.String("account_id", acc.Account.ID.String()),
			zap.String("invoice_label", item.Label),
			zap.String("intent_id", txID),
			zap.Error(err),
		)
		return r.report(run, item, obsmetrics.OutcomeFailed, false, fmt.Sprintf("charged %s but charge not recorded: %v", txID, err))
	}
	out, err := r.DispatchInvoice(ctx, DispatchInput{
		Account:         acc,
		Label:           item.Label,
		Due:             due,
		Term:            invoicedomain.PaymentTermPUE,
		PayStatus:       invoicedomain.PayStatusPaid,
		Card:            true,
		PaymentMethodID: &pmID,
		TransactionID:   &txID,
		DraftID:         draftID,
	})
	if err != nil {
		return r.report(run, item, obsmetrics.OutcomeFailed, false, fmt.Sprintf("charged %s, invoice pending: %v", txID, err))
	}
	if out.NotifyErr != nil {
		return r.report(run, item, obsmetrics.OutcomeCharged, false, "charged and invoiced, email not sent: "+out.NotifyErr.Error())
	}
	return r.report(run, item, obsmetrics.OutcomeCharged, true, "charged and invoiced, folio "+out.Folio)
}

func (r *Runner) cardFailed(ctx context.Context, run *routine, item DueAccount, el elements, due chargedomain.Due, cause error) runnerdomain.Report {
	acc := item.Account
	reason := failureReason(cause)
	r.emit(ctx, eventdomain.PaymentFailed, acc.Account.ID, item.Label, map[string]any{
		"provider": string(run.provider),
		"attempt":  el.days,
		"reason":   reason,
	})
	err := r.notifier.PaymentFailed(ctx, notification.PaymentFailedInput{
		Account:  acc,
		Label:    item.Label,
		Attempt:  el.days,
		Amount:   due.Total,
		Currency: due.Currency,
		Reason:   reason,
		DaysLeft: billingperiod.CollectionWindow - el.days,
	})
	if err != nil {
		run.log.Warn("billing.notification.failed",
			zap.String("account_id", acc.Account.ID.String()),
			zap.String("kind", "payment_failed"),
			zap.Error(err),
		)
	}
	return r.report(run, item, obsmetrics.OutcomeFailed, false, fmt.Sprintf("payment attempt %d failed: %s", el.days, reason))
}

// transferFlow opens one SPEI intent per period, issues a deferred invoice
// for it and reminds the customer every day until the window closes.
func (r *Runner) transferFlow(ctx context.Context, run *routine, item DueAccount, el elements) runnerdomain.Report {
	switch {
	case el.days < billingperiod.CollectionWindow:
		return r.collectTransfer(ctx, run, item, el)
	case el.days == billingperiod.CollectionWindow:
		return r.suspendIfOwed(ctx, run, item)
	default:
		return r.unexpected(run, item, el.days)
	}
}

// suspendIfOwed closes the collection window. Accounts that owe nothing for
// the period keep their service.
func (r *Runner) suspendIfOwed(ctx context.Context, run *routine, item DueAccount) runnerdomain.Report {
	due := chargedomain.Due{}
	if item.Invoice != nil {
		due.Total, due.Currency = item.Invoice.Total, item.Invoice.Currency
	} else {
		var err error
		due, err = r.totalDue(ctx, run, item)
		if err != nil {
			return r.report(run, item, obsmetrics.OutcomeFailed, false, "compute total due: "+err.Error())
		}
	}
	if due.IsZero() {
		return r.report(run, item, obsmetrics.OutcomeSkipped, true, "nothing due for the period")
	}
	return r.suspend(ctx, run, item, due)
}

func (r *Runner) collectTransfer(ctx context.Context, run *routine, item DueAccount, el elements) runnerdomain.Report {
	acc := item.Account
	created, err := r.collector.IsTransferIntentCreated(ctx, acc, item.Label)
	if err != nil {
		return r.report(run, item, obsmetrics.OutcomeFailed, false, "check transfer intent: "+err.Error())
	}

	var (
		bank     paymentdomain.BankInstructions
		amount   decimal.Decimal
		currency string
		outcome  = obsmetrics.OutcomeReminded
		reason   string
	)

	if !created {
		due, err := r.totalDue(ctx, run, item)
		if err != nil {
			return r.report(run, item, obsmetrics.OutcomeFailed, false, "compute total due: "+err.Error())
		}
		if due.IsZero() {
			return r.report(run, item, obsmetrics.OutcomeSkipped, true, "nothing due for the period")
		}

		res, err := r.collector.CollectTransfer(ctx, paymentservice.TransferCollection{
			Account:     &acc,
			Label:       item.Label,
			Amount:      due.Total,
			Currency:    due.Currency,
			Description: description(item),
		})
		if err != nil {
			msg := failureReason(err)
			r.emit(ctx, eventdomain.PaymentFailed, acc.Account.ID, item.Label, map[string]any{
				"provider": string(run.provider),
				"reason":   msg,
			})
			return r.report(run, item, obsmetrics.OutcomeFailed, false, "transfer intent failed: "+msg)
		}

		pmID := acc.PaymentMethod.ID
		txID := res.IntentID
		out, err := r.DispatchInvoice(ctx, DispatchInput{
			Account:         acc,
			Label:           item.Label,
			Due:             due,
			Term:            invoicedomain.PaymentTermPPD,
			PayStatus:       invoicedomain.PayStatusUnpaid,
			PaymentMethodID: &pmID,
			TransactionID:   &txID,
			Metadata:        bankMetadata(res.Bank),
		})
		if err != nil {
			return r.report(run, item, obsmetrics.OutcomeFailed, false, fmt.Sprintf("transfer intent %s opened but invoice failed: %v", txID, err))
		}
		bank, amount, currency = res.Bank, due.Total, due.Currency
		outcome = obsmetrics.OutcomeInvoiced
		reason = "transfer requested, invoice folio " + out.Folio
		if out.NotifyErr != nil {
			reason += ", invoice email not sent: " + out.NotifyErr.Error()
		}
	} else {
		invoice := item.Invoice
		if invoice == nil {
			invoice, err = r.activeInvoice(ctx, acc.Account.ID, item.Label)
			if err != nil {
				return r.report(run, item, obsmetrics.OutcomeFailed, false, err.Error())
			}
		}
		if invoice != nil {
			bank = bankFromMetadata(invoice.Metadata)
			amount, currency = invoice.Total, invoice.Currency
		}
		reason = "payment pending"
	}
	bank = withStoredAccount(bank, acc.PaymentMethod)

	daysLeft := billingperiod.CollectionWindow - el.days
	err = r.notifier.TransferPending(ctx, notification.TransferPendingInput{
		Account:  acc,
		Label:    item.Label,
		Amount:   amount,
		Currency: currency,
		Bank:     bank,
		DaysLeft: daysLeft,
	})
	if err != nil {
		return r.report(run, item, outcome, false, reason+", reminder not sent: "+err.Error())
	}
	return r.report(run, item, outcome, true, fmt.Sprintf("%s, %d days left", reason, daysLeft))
}

// annualCardFlow reports every account; annual card collection is not
// offered.
func (r *Runner) annualCardFlow(ctx context.Context, run *routine, item DueAccount, el elements) runnerdomain.Report {
	return r.report(run, item, obsmetrics.OutcomeNotApplicable, false, "not implemented")
}

func description(item DueAccount) string {
	return fmt.Sprintf("Alima %s %s", item.Account.Account.Plan, item.Label)
}

func failureReason(err error) string {
	var perr *paymentdomain.ProviderError
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	return err.Error()
}

func bankMetadata(bank paymentdomain.BankInstructions) map[string]any {
	return map[string]any{
		metaClabe:     bank.Clabe,
		metaBank:      bank.BankName,
		metaBankCode:  bank.BankCode,
		metaReference: bank.Reference,
		metaHostedURL: bank.HostedURL,
	}
}

func bankFromMetadata(meta map[string]any) paymentdomain.BankInstructions {
	str := func(key string) string {
		v, _ := meta[key].(string)
		return v
	}
	return paymentdomain.BankInstructions{
		Clabe:     str(metaClabe),
		BankName:  str(metaBank),
		BankCode:  str(metaBankCode),
		Reference: str(metaReference),
		HostedURL: str(metaHostedURL),
	}
}

// withStoredAccount prefers the CLABE saved on the payment method.
func withStoredAccount(bank paymentdomain.BankInstructions, pm *accountdomain.PaymentMethod) paymentdomain.BankInstructions {
	if !pm.HasBankAccount() {
		return bank
	}
	bank.Clabe = *pm.BankAccountNumber
	if pm.BankName != nil && *pm.BankName != "" {
		bank.BankName = *pm.BankName
	}
	return bank
}
