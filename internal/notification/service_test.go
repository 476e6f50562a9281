package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	runnerdomain "github.com/smallbiznis/alima/internal/billingrunner/domain"
	"github.com/smallbiznis/alima/internal/clock"
	"github.com/smallbiznis/alima/internal/config"
	paymentdomain "github.com/smallbiznis/alima/internal/payment/domain"
	"github.com/smallbiznis/alima/internal/providers/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type captureEmail struct {
	sent []email.Message
	err  error
}

func (c *captureEmail) Send(ctx context.Context, msg email.Message) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

type stubPDF struct{ err error }

func (s stubPDF) RenderReport(string, time.Time, []runnerdomain.Report) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte("%PDF-stub"), nil
}

func newTestService(t *testing.T, pdfErr error) (*Service, *captureEmail) {
	t.Helper()
	mail := &captureEmail{}
	cfg := config.DefaultBillingConfig()
	cfg.OperationsMailboxes = []string{"ops@alima.la"}
	svc, err := New(Params{
		Log:     zaptest.NewLogger(t),
		Email:   mail,
		PDF:     stubPDF{err: pdfErr},
		Billing: config.NewStaticBillingConfigHolder(cfg),
		Clock:   clock.NewFakeClock(time.Date(2024, 4, 5, 9, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return svc, mail
}

func testAccount() accountdomain.BillingAccount {
	return accountdomain.BillingAccount{
		Account:  accountdomain.PaidAccount{ID: 10},
		Customer: accountdomain.BillingCustomer{DisplayName: "Distribuidora Norte", Emails: "pagos@norte.mx, ceo@norte.mx"},
	}
}

func TestTransferPendingIncludesBankDetails(t *testing.T) {
	svc, mail := newTestService(t, nil)
	err := svc.TransferPending(context.Background(), TransferPendingInput{
		Account:  testAccount(),
		Label:    "03-2024",
		Amount:   decimal.RequireFromString("1160"),
		Currency: "MXN",
		Bank:     paymentdomain.BankInstructions{Clabe: "646180111812345678", BankName: "STP", Reference: "REF123"},
		DaysLeft: 3,
	})
	require.NoError(t, err)
	require.Len(t, mail.sent, 1)
	msg := mail.sent[0]
	assert.Equal(t, []string{"pagos@norte.mx", "ceo@norte.mx"}, msg.To)
	assert.Contains(t, msg.HTML, "646180111812345678")
	assert.Contains(t, msg.HTML, "STP")
	assert.Contains(t, msg.HTML, "$1,160.00 MXN")
	assert.Contains(t, msg.HTML, "Te quedan 3 días")
}

func TestInvoiceIssuedAttachesArtifacts(t *testing.T) {
	svc, mail := newTestService(t, nil)
	err := svc.InvoiceIssued(context.Background(), InvoiceIssuedInput{
		To:      []string{"finanzas@alima.la"},
		Account: testAccount(),
		Label:   "03-2024",
		Folio:   "42",
		Total:   decimal.RequireFromString("986"),
		Paid:    true,
		PDF:     []byte("%PDF"),
		XML:     []byte("<cfdi/>"),
	})
	require.NoError(t, err)
	msg := mail.sent[0]
	assert.Equal(t, []string{"finanzas@alima.la"}, msg.To)
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "alima-factura-03-2024-42.pdf", msg.Attachments[0].Filename)
	assert.Equal(t, "application/xml", msg.Attachments[1].ContentType)
}

func TestInvoiceIssuedWithoutArtifacts(t *testing.T) {
	svc, mail := newTestService(t, nil)
	require.NoError(t, svc.InvoiceIssued(context.Background(), InvoiceIssuedInput{To: []string{"a@b.mx"}, Account: testAccount(), Label: "03-2024"}))
	assert.Empty(t, mail.sent[0].Attachments)
}

func TestOperatorReportAttachesPDF(t *testing.T) {
	svc, mail := newTestService(t, nil)
	reports := []runnerdomain.Report{
		{AccountID: 1, CustomerName: "Norte", InvoiceLabel: "03-2024", Outcome: "charged", Success: true},
		{AccountID: 2, CustomerName: "Bajío", InvoiceLabel: "03-2024", Outcome: "failed", Reason: "card_declined"},
	}
	require.NoError(t, svc.OperatorReport(context.Background(), "Reporte de facturación", reports))
	msg := mail.sent[0]
	assert.Equal(t, []string{"ops@alima.la"}, msg.To)
	assert.Contains(t, msg.HTML, "card_declined")
	assert.Contains(t, msg.HTML, "1 con error")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "reporte-de-facturacion-2024-04-05.pdf", msg.Attachments[0].Filename)
}

func TestOperatorReportStillSendsWhenPDFFails(t *testing.T) {
	svc, mail := newTestService(t, errors.New("font missing"))
	require.NoError(t, svc.OperatorReport(context.Background(), "Reporte", nil))
	assert.Empty(t, mail.sent[0].Attachments)
	assert.Contains(t, mail.sent[0].HTML, "Sin cuentas procesadas")
}

func TestSendErrorIsWrapped(t *testing.T) {
	svc, mail := newTestService(t, nil)
	mail.err = email.ErrNoRecipients
	err := svc.AccountSuspended(context.Background(), AccountSuspendedInput{Account: testAccount(), Label: "03-2024"})
	assert.ErrorIs(t, err, email.ErrNoRecipients)
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "$0.00 MXN", formatMoney(decimal.Zero, ""))
	assert.Equal(t, "$991.80 MXN", formatMoney(decimal.RequireFromString("991.8"), "mxn"))
	assert.Equal(t, "$1,234,567.89 USD", formatMoney(decimal.RequireFromString("1234567.891"), "USD"))
}
