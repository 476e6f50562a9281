package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	eventdomain "github.com/smallbiznis/alima/internal/billingevent/domain"
	runnerdomain "github.com/smallbiznis/alima/internal/billingrunner/domain"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
	"github.com/smallbiznis/alima/internal/notification"
	taxdomain "github.com/smallbiznis/alima/internal/taxinvoice/domain"
	"go.uber.org/zap"
)

// ErrOrphanTaxInvoice marks a CFDI that exists at the provider but neither
// in the ledger nor canceled.
var ErrOrphanTaxInvoice = errors.New("orphan_tax_invoice")

type DispatchInput struct {
	Account         accountdomain.BillingAccount
	Label           string
	Due             chargedomain.Due
	Term            invoicedomain.PaymentTerm
	PayStatus       invoicedomain.PayStatus
	Card            bool
	PaymentMethodID *snowflake.ID
	TransactionID   *string
	Metadata        map[string]any
	// DraftID is the draft holding an already collected charge. The issued
	// CFDI is recorded on it instead of a new invoice.
	DraftID snowflake.ID
}

type DispatchResult struct {
	InvoiceID    snowflake.ID
	TaxInvoiceID string
	Folio        string
	Recipients   []string
	// NotifyErr is set when the invoice was issued and stored but the email
	// could not be sent.
	NotifyErr error
}

// DispatchInvoice issues the CFDI for a computed due, records it in the
// ledger with its charges and first paystatus, stores the PDF and XML and
// emails them.
func (r *Runner) DispatchInvoice(ctx context.Context, in DispatchInput) (DispatchResult, error) {
	if in.Due.IsZero() || len(in.Due.Lines) == 0 {
		return DispatchResult{}, runnerdomain.ErrNothingToInvoice
	}
	acc := in.Account
	cfg := r.billing.Get()
	generalPublic := cfg.IsGeneralPublic(acc.Customer.TaxID)
	logger := r.log.With(
		zap.String("account_id", acc.Account.ID.String()),
		zap.String("invoice_label", in.Label),
		zap.String("payment_term", string(in.Term)),
	)

	customerRef := ""
	if !generalPublic {
		ref, err := r.ensureCustomerRef(ctx, acc)
		if err != nil {
			return DispatchResult{}, fmt.Errorf("register invoicing customer: %w", err)
		}
		customerRef = ref
	}

	issued, err := r.issuer.CreateInvoice(ctx, taxdomain.InvoiceRequest{
		CustomerRef:   customerRef,
		Receiver:      profileOf(acc.Customer),
		GeneralPublic: generalPublic,
		Items:         taxdomain.ItemsFromLines(in.Due.Lines),
		Currency:      in.Due.Currency,
		Term:          in.Term,
		PaymentForm:   taxdomain.PaymentFormFor(in.Term, in.Card),
		Period:        in.Label,
	})
	if err != nil {
		return DispatchResult{}, fmt.Errorf("issue tax invoice: %w", err)
	}

	invoiceID, err := r.recordIssued(ctx, in, cfg.Country, issued)
	if err != nil {
		return DispatchResult{}, r.cancelUnrecorded(ctx, logger, issued, err)
	}

	out := DispatchResult{InvoiceID: invoiceID, TaxInvoiceID: issued.ID, Folio: issued.Folio}
	pdf, xml := r.fetchArtifacts(ctx, logger, issued.ID)
	if len(pdf) > 0 || len(xml) > 0 {
		if _, err := r.ledger.UpdateInvoice(ctx, invoicedomain.UpdateInvoiceInput{InvoiceID: invoiceID, PDF: pdf, XML: xml}); err != nil {
			logger.Warn("billing.invoice.artifacts_not_stored", zap.Error(err))
		}
	}

	out.Recipients = r.recipients(acc.Customer)
	out.NotifyErr = r.notifier.InvoiceIssued(ctx, notification.InvoiceIssuedInput{
		To:       out.Recipients,
		Account:  acc,
		Label:    in.Label,
		Folio:    issued.Folio,
		Total:    in.Due.Total,
		Currency: in.Due.Currency,
		Paid:     in.PayStatus == invoicedomain.PayStatusPaid,
		PDF:      pdf,
		XML:      xml,
	})
	if out.NotifyErr != nil {
		logger.Warn("billing.invoice.email_failed", zap.Error(out.NotifyErr))
	}

	r.metrics.AddAmountInvoiced(in.Due.Currency, in.Due.Total)
	r.emit(ctx, eventdomain.InvoiceIssued, acc.Account.ID, in.Label, map[string]any{
		"invoice_id":     invoiceID.String(),
		"tax_invoice_id": issued.ID,
		"folio":          issued.Folio,
		"total":          in.Due.Total.String(),
		"currency":       in.Due.Currency,
		"payment_term":   string(in.Term),
		"pay_status":     string(in.PayStatus),
	})
	logger.Info("billing.invoice.dispatched",
		zap.String("invoice_id", invoiceID.String()),
		zap.String("folio", issued.Folio),
		zap.String("total", in.Due.Total.String()),
		zap.Strings("recipients", out.Recipients),
	)
	return out, nil
}

func (r *Runner) recordIssued(ctx context.Context, in DispatchInput, country string, issued taxdomain.InvoiceResult) (snowflake.ID, error) {
	if in.DraftID != 0 {
		active := invoicedomain.InvoiceStatusActive
		ok, err := r.ledger.UpdateInvoice(ctx, invoicedomain.UpdateInvoiceInput{
			InvoiceID:    in.DraftID,
			Status:       &active,
			TaxInvoiceID: &issued.ID,
			TaxStampUUID: &issued.TaxStampUUID,
			Folio:        &issued.Folio,
			Result:       &issued.Result,
		})
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, invoicedomain.ErrInvoiceNotFound
		}
		return in.DraftID, nil
	}
	return r.ledger.CreateInvoice(ctx, invoicedomain.CreateInvoiceInput{
		AccountID:       in.Account.Account.ID,
		Country:         country,
		Period:          in.Label,
		TaxInvoiceID:    issued.ID,
		TaxStampUUID:    issued.TaxStampUUID,
		Folio:           issued.Folio,
		Total:           in.Due.Total,
		Currency:        in.Due.Currency,
		PaymentTerm:     in.Term,
		Result:          issued.Result,
		Metadata:        in.Metadata,
		Charges:         invoicedomain.ChargesFromLines(in.Due.Lines),
		PayStatus:       in.PayStatus,
		PaymentMethodID: in.PaymentMethodID,
		TransactionID:   in.TransactionID,
	})
}

// cancelUnrecorded voids a CFDI the ledger refused, so the next run can
// issue the period again without leaving a second valid document.
func (r *Runner) cancelUnrecorded(ctx context.Context, logger *zap.Logger, issued taxdomain.InvoiceResult, cause error) error {
	logger = logger.With(
		zap.String("tax_invoice_id", issued.ID),
		zap.String("folio", issued.Folio),
		zap.NamedError("cause", cause),
	)
	if err := r.issuer.CancelInvoice(context.WithoutCancel(ctx), issued.ID); err != nil {
		logger.Error("billing.invoice.orphaned", zap.Error(err))
		return fmt.Errorf("%w: tax invoice %s not recorded and not canceled (%v): %w", ErrOrphanTaxInvoice, issued.ID, err, cause)
	}
	logger.Warn("billing.invoice.canceled_unrecorded")
	if errors.Is(cause, invoicedomain.ErrInvoiceAlreadyExists) {
		return fmt.Errorf("period already invoiced, tax invoice %s canceled: %w", issued.ID, cause)
	}
	return fmt.Errorf("record invoice, tax invoice %s canceled: %w", issued.ID, cause)
}

func (r *Runner) ensureCustomerRef(ctx context.Context, acc accountdomain.BillingAccount) (string, error) {
	if ref := acc.Account.InvoicingCustomerRef; ref != nil && strings.TrimSpace(*ref) != "" {
		return *ref, nil
	}
	ref, err := r.issuer.CreateCustomer(ctx, profileOf(acc.Customer))
	if err != nil {
		return "", err
	}
	if err := r.accounts.SetInvoicingCustomerRef(ctx, acc.Account.ID, ref); err != nil {
		return "", err
	}
	return ref, nil
}

func (r *Runner) fetchArtifacts(ctx context.Context, logger *zap.Logger, id string) ([]byte, []byte) {
	pdf, err := r.issuer.GetPDF(ctx, id)
	if err != nil {
		logger.Warn("billing.invoice.pdf_unavailable", zap.Error(err))
	}
	xml, err := r.issuer.GetXML(ctx, id)
	if err != nil {
		logger.Warn("billing.invoice.xml_unavailable", zap.Error(err))
	}
	return pdf, xml
}

// recipients sends general public invoices to the finance mailbox only.
func (r *Runner) recipients(customer accountdomain.BillingCustomer) []string {
	cfg := r.billing.Get()
	if cfg.IsGeneralPublic(customer.TaxID) {
		return []string{cfg.FinanceMailbox}
	}
	return append(customer.EmailList(), cfg.FinanceMailbox)
}

func profileOf(c accountdomain.BillingCustomer) taxdomain.Profile {
	name := c.LegalName
	if strings.TrimSpace(name) == "" {
		name = c.DisplayName
	}
	use := c.CFDIUse
	if strings.TrimSpace(use) == "" {
		use = taxdomain.DefaultCFDIUse
	}
	p := taxdomain.Profile{
		TaxID:        strings.ToUpper(strings.TrimSpace(c.TaxID)),
		LegalName:    name,
		FiscalRegime: c.FiscalRegime,
		TaxZipCode:   c.TaxZipCode,
		CFDIUse:      use,
	}
	if emails := c.EmailList(); len(emails) > 0 {
		p.Email = emails[0]
	}
	return p
}
