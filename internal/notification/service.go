package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	runnerdomain "github.com/smallbiznis/alima/internal/billingrunner/domain"
	"github.com/smallbiznis/alima/internal/clock"
	"github.com/smallbiznis/alima/internal/config"
	paymentdomain "github.com/smallbiznis/alima/internal/payment/domain"
	"github.com/smallbiznis/alima/internal/providers/email"
	"github.com/smallbiznis/alima/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_notification_config")

type Params struct {
	fx.In

	Log     *zap.Logger
	Email   email.Provider
	PDF     pdf.Renderer
	Billing *config.BillingConfigHolder
	Clock   clock.Clock
}

// Service renders and sends customer and operator billing emails.
type Service struct {
	log     *zap.Logger
	email   email.Provider
	pdf     pdf.Renderer
	billing *config.BillingConfigHolder
	clock   clock.Clock
	tpl     *renderer
}

func New(p Params) (*Service, error) {
	if p.Log == nil || p.Email == nil || p.PDF == nil || p.Billing == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Service{
		log:     p.Log.Named("notification"),
		email:   p.Email,
		pdf:     p.PDF,
		billing: p.Billing,
		clock:   p.Clock,
		tpl:     newRenderer(),
	}, nil
}

type PaymentFailedInput struct {
	Account  accountdomain.BillingAccount
	Label    string
	Attempt  int
	Amount   decimal.Decimal
	Currency string
	Reason   string
	DaysLeft int
}

func (s *Service) PaymentFailed(ctx context.Context, in PaymentFailedInput) error {
	html, err := s.tpl.render(tplPaymentFailed, struct {
		PaymentFailedInput
		CustomerName string
	}{in, in.Account.Customer.DisplayName})
	if err != nil {
		return err
	}
	return s.send(ctx, "payment_failed", email.Message{
		To:      in.Account.Customer.EmailList(),
		Subject: fmt.Sprintf("Intento de pago %d fallido · Alima %s", in.Attempt, in.Label),
		HTML:    html,
	})
}

type AccountSuspendedInput struct {
	Account  accountdomain.BillingAccount
	Label    string
	Amount   decimal.Decimal
	Currency string
}

func (s *Service) AccountSuspended(ctx context.Context, in AccountSuspendedInput) error {
	html, err := s.tpl.render(tplAccountSuspended, struct {
		AccountSuspendedInput
		CustomerName string
	}{in, in.Account.Customer.DisplayName})
	if err != nil {
		return err
	}
	return s.send(ctx, "account_suspended", email.Message{
		To:      in.Account.Customer.EmailList(),
		Cc:      []string{s.billing.Get().FinanceMailbox},
		Subject: "Cuenta Alima suspendida por falta de pago",
		HTML:    html,
	})
}

type TransferPendingInput struct {
	Account  accountdomain.BillingAccount
	Label    string
	Amount   decimal.Decimal
	Currency string
	Bank     paymentdomain.BankInstructions
	DaysLeft int
}

// TransferPending reminds the customer of the SPEI coordinates and the days
// left before suspension.
func (s *Service) TransferPending(ctx context.Context, in TransferPendingInput) error {
	html, err := s.tpl.render(tplTransferPending, struct {
		TransferPendingInput
		CustomerName string
		BankName     string
		Clabe        string
		Reference    string
		HostedURL    string
	}{in, in.Account.Customer.DisplayName, in.Bank.BankName, in.Bank.Clabe, in.Bank.Reference, in.Bank.HostedURL})
	if err != nil {
		return err
	}
	return s.send(ctx, "transfer_pending", email.Message{
		To:      in.Account.Customer.EmailList(),
		Subject: fmt.Sprintf("Pago pendiente Alima %s · %d días restantes", in.Label, in.DaysLeft),
		HTML:    html,
	})
}

type InvoiceIssuedInput struct {
	To       []string
	Account  accountdomain.BillingAccount
	Label    string
	Folio    string
	Total    decimal.Decimal
	Currency string
	Paid     bool
	PDF      []byte
	XML      []byte
}

func (s *Service) InvoiceIssued(ctx context.Context, in InvoiceIssuedInput) error {
	html, err := s.tpl.render(tplInvoiceIssued, struct {
		InvoiceIssuedInput
		CustomerName string
	}{in, in.Account.Customer.DisplayName})
	if err != nil {
		return err
	}
	base := fmt.Sprintf("alima-factura-%s-%s", in.Label, in.Folio)
	msg := email.Message{
		To:      in.To,
		Subject: fmt.Sprintf("Factura Alima %s · Folio %s", in.Label, in.Folio),
		HTML:    html,
	}
	if len(in.PDF) > 0 {
		msg.Attachments = append(msg.Attachments, email.Attachment{Filename: base + ".pdf", ContentType: "application/pdf", Data: in.PDF})
	}
	if len(in.XML) > 0 {
		msg.Attachments = append(msg.Attachments, email.Attachment{Filename: base + ".xml", ContentType: "application/xml", Data: in.XML})
	}
	return s.send(ctx, "invoice_issued", msg)
}

// OperatorReport emails the routine outcome table with a PDF copy to the
// operations mailboxes.
func (s *Service) OperatorReport(ctx context.Context, title string, reports []runnerdomain.Report) error {
	now := s.clock.Now()
	html, err := s.tpl.render(tplOperatorReport, struct {
		Title       string
		GeneratedAt time.Time
		Reports     []runnerdomain.Report
		Failed      int
	}{title, now, reports, len(runnerdomain.Failed(reports))})
	if err != nil {
		return err
	}
	msg := email.Message{
		To:      s.billing.Get().OperationsMailboxes,
		Subject: fmt.Sprintf("%s · %s", title, now.Format("2006-01-02")),
		HTML:    html,
	}
	doc, err := s.pdf.RenderReport(title, now, reports)
	if err != nil {
		s.log.Warn("notification.report.pdf_failed", zap.Error(err))
	} else {
		msg.Attachments = append(msg.Attachments, email.Attachment{
			Filename:    pdf.FileName(title, now, "pdf"),
			ContentType: "application/pdf",
			Data:        doc,
		})
	}
	return s.send(ctx, "operator_report", msg)
}

func (s *Service) send(ctx context.Context, kind string, msg email.Message) error {
	if err := s.email.Send(ctx, msg); err != nil {
		s.log.Warn("notification.send_failed", zap.String("kind", kind), zap.Error(err))
		return fmt.Errorf("send %s: %w", kind, err)
	}
	s.log.Debug("notification.sent", zap.String("kind", kind), zap.Int("recipients", len(msg.Recipients())))
	return nil
}
