package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	accountrepo "github.com/smallbiznis/alima/internal/account/repository"
	accountservice "github.com/smallbiznis/alima/internal/account/service"
	"github.com/smallbiznis/alima/internal/billingevent"
	eventdomain "github.com/smallbiznis/alima/internal/billingevent/domain"
	"github.com/smallbiznis/alima/internal/billingperiod"
	runnerdomain "github.com/smallbiznis/alima/internal/billingrunner/domain"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	chargerepo "github.com/smallbiznis/alima/internal/charge/repository"
	chargeservice "github.com/smallbiznis/alima/internal/charge/service"
	"github.com/smallbiznis/alima/internal/clock"
	"github.com/smallbiznis/alima/internal/config"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/alima/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/alima/internal/invoice/service"
	"github.com/smallbiznis/alima/internal/lock"
	"github.com/smallbiznis/alima/internal/notification"
	obsmetrics "github.com/smallbiznis/alima/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/alima/internal/payment/domain"
	paymentservice "github.com/smallbiznis/alima/internal/payment/service"
	"github.com/smallbiznis/alima/internal/providers/email"
	taxdomain "github.com/smallbiznis/alima/internal/taxinvoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) ListCards(ctx context.Context, customerRef string) ([]paymentdomain.Card, error) {
	args := m.Called(ctx, customerRef)
	cards, _ := args.Get(0).([]paymentdomain.Card)
	return cards, args.Error(1)
}

func (m *mockProvider) IsDefaultCard(ctx context.Context, customerRef, cardID string) (bool, error) {
	args := m.Called(ctx, customerRef, cardID)
	return args.Bool(0), args.Error(1)
}

func (m *mockProvider) CreateCardIntent(ctx context.Context, req paymentdomain.CardIntentRequest) (paymentdomain.IntentResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(paymentdomain.IntentResult), args.Error(1)
}

func (m *mockProvider) CreateTransferIntent(ctx context.Context, req paymentdomain.TransferIntentRequest) (paymentdomain.TransferIntentResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(paymentdomain.TransferIntentResult), args.Error(1)
}

type fakeIssuer struct {
	mu        sync.Mutex
	requests  []taxdomain.InvoiceRequest
	customers []taxdomain.Profile
	canceled  []string
	err       error
	cancelErr error
}

func (f *fakeIssuer) CreateCustomer(ctx context.Context, profile taxdomain.Profile) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers = append(f.customers, profile)
	return "fc_" + profile.TaxID, nil
}

func (f *fakeIssuer) CreateInvoice(ctx context.Context, req taxdomain.InvoiceRequest) (taxdomain.InvoiceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return taxdomain.InvoiceResult{}, f.err
	}
	f.requests = append(f.requests, req)
	n := len(f.requests)
	return taxdomain.InvoiceResult{
		ID:           fmt.Sprintf("cfdi_%d", n),
		Folio:        fmt.Sprintf("%d", n),
		Result:       "issued",
		TaxStampUUID: fmt.Sprintf("uuid-%d", n),
	}, nil
}

func (f *fakeIssuer) CancelInvoice(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakeIssuer) GetPDF(ctx context.Context, id string) ([]byte, error) {
	return []byte("%PDF-" + id), nil
}

func (f *fakeIssuer) GetXML(ctx context.Context, id string) ([]byte, error) {
	return []byte("<cfdi id=\"" + id + "\"/>"), nil
}

type captureEmail struct {
	mu   sync.Mutex
	sent []email.Message
}

func (c *captureEmail) Send(ctx context.Context, msg email.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureEmail) withSubject(prefix string) []email.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []email.Message
	for _, m := range c.sent {
		if strings.HasPrefix(m.Subject, prefix) {
			out = append(out, m)
		}
	}
	return out
}

type stubPDF struct{}

func (stubPDF) RenderReport(string, time.Time, []runnerdomain.Report) ([]byte, error) {
	return []byte("%PDF"), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventdomain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, event eventdomain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	runner   *Runner
	db       *gorm.DB
	clk      *clock.FakeClock
	provider *mockProvider
	issuer   *fakeIssuer
	mail     *captureEmail
	events   *recordingPublisher
	ledger   invoicedomain.Ledger
	accounts accountdomain.Service
	locker   *lock.MemoryLocker
	registry *prometheus.Registry
}

const financeMailbox = "finanzas@alima.la"

func newFixture(t *testing.T, today time.Time, mutate func(*config.BillingConfig)) fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&accountdomain.BillingCustomer{},
		&accountdomain.PaidAccount{},
		&accountdomain.PaymentMethod{},
		&accountdomain.Usage{},
		&chargedomain.Charge{},
		&chargedomain.ChargeDiscount{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceCharge{},
		&invoicedomain.Paystatus{},
	))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)
	clk := clock.NewFakeClock(today)

	cfg := config.DefaultBillingConfig()
	cfg.FinanceMailbox = financeMailbox
	if mutate != nil {
		mutate(&cfg)
	}
	billing := config.NewStaticBillingConfigHolder(cfg)

	accounts, err := accountservice.New(accountservice.Params{DB: db, Log: log, GenID: node, Repo: accountrepo.Provide(), Clock: clk})
	require.NoError(t, err)
	charges, err := chargeservice.New(chargeservice.Params{DB: db, Log: log, GenID: node, Repo: chargerepo.Provide(), Clock: clk, BillingConfig: billing})
	require.NoError(t, err)
	ledger, err := invoiceservice.New(invoiceservice.Params{DB: db, Log: log, GenID: node, Repo: invoicerepo.Provide(), Clock: clk})
	require.NoError(t, err)

	provider := &mockProvider{}
	collector, err := paymentservice.NewCollector(paymentservice.CollectorParams{Log: log, Provider: provider, Ledger: ledger, Accounts: accounts})
	require.NoError(t, err)

	mail := &captureEmail{}
	notifier, err := notification.New(notification.Params{Log: log, Email: mail, PDF: stubPDF{}, Billing: billing, Clock: clk})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	emitter, err := billingevent.NewEmitter(billingevent.EmitterParams{Log: log, Clock: clk, Publisher: pub})
	require.NoError(t, err)

	issuer := &fakeIssuer{}
	locker := lock.NewMemoryLocker(clk)
	registry := prometheus.NewRegistry()

	runner, err := New(Params{
		Log:       log,
		GenID:     node,
		Clock:     clk,
		Accounts:  accounts,
		Charges:   charges,
		Ledger:    ledger,
		Collector: collector,
		Issuer:    issuer,
		Notifier:  notifier,
		Events:    emitter,
		Locker:    locker,
		Billing:   billing,
		Metrics:   obsmetrics.NewBillingMetricsForTest(registry),
	})
	require.NoError(t, err)

	return fixture{
		runner:   runner,
		db:       db,
		clk:      clk,
		provider: provider,
		issuer:   issuer,
		mail:     mail,
		events:   pub,
		ledger:   ledger,
		accounts: accounts,
		locker:   locker,
		registry: registry,
	}
}

type seed struct {
	id        snowflake.ID
	plan      chargedomain.PlanKind
	provider  accountdomain.PayProvider
	createdAt time.Time
	taxID     string
	saasFee   int64
}

func (f fixture) seedAccount(t *testing.T, s seed) {
	t.Helper()
	if s.plan == "" {
		s.plan = chargedomain.PlanPro
	}
	if s.provider == "" {
		s.provider = accountdomain.ProviderStripeCard
	}
	if s.taxID == "" {
		s.taxID = "PRO200101AB1"
	}
	now := s.createdAt
	require.NoError(t, f.db.Create(&accountdomain.BillingCustomer{
		ID: s.id + 1000, DisplayName: fmt.Sprintf("Proveedora %d", s.id), Emails: fmt.Sprintf("pagos%d@p.mx", s.id),
		TaxID: s.taxID, LegalName: "Proveedora SA de CV", FiscalRegime: "601", TaxZipCode: "06600",
		CreatedAt: now, UpdatedAt: now,
	}).Error)
	require.NoError(t, f.db.Create(&accountdomain.PaidAccount{
		ID: s.id, CustomerID: s.id + 1000, Plan: s.plan, ActiveCedis: 2, Active: true,
		CreatedAt: s.createdAt, UpdatedAt: now,
	}).Error)
	require.NoError(t, f.db.Create(&accountdomain.PaymentMethod{
		ID: s.id + 2000, PaidAccountID: s.id, PaymentType: accountdomain.TypeOf(s.provider), PaymentProvider: s.provider,
		ProviderRef: fmt.Sprintf("cus_%d", s.id), Active: true, CreatedAt: now, UpdatedAt: now,
	}).Error)
	if s.saasFee > 0 {
		require.NoError(t, f.db.Create(&chargedomain.Charge{
			ID: s.id + 3000, PaidAccountID: s.id, Kind: chargedomain.SaasFee, Amount: decimal.NewFromInt(s.saasFee),
			AmountKind: chargedomain.Fixed, Currency: "MXN", Active: true, CreatedAt: now, UpdatedAt: now,
		}).Error)
	}
}

func (f fixture) expectCardCharge(id snowflake.ID, intentID string, err error) {
	ref := fmt.Sprintf("cus_%d", id)
	f.provider.On("ListCards", mock.Anything, ref).Return([]paymentdomain.Card{{ID: "pm_" + ref}}, nil)
	f.provider.On("IsDefaultCard", mock.Anything, ref, "pm_"+ref).Return(true, nil)
	f.provider.On("CreateCardIntent", mock.Anything, mock.MatchedBy(func(req paymentdomain.CardIntentRequest) bool {
		return req.CustomerRef == ref
	})).Return(paymentdomain.IntentResult{ID: intentID, Status: "succeeded"}, err)
}

func (f fixture) activeInvoices(t *testing.T, id snowflake.ID) []invoicedomain.Invoice {
	t.Helper()
	var out []invoicedomain.Invoice
	require.NoError(t, f.db.Where("paid_account_id = ? AND status = ?", id, invoicedomain.InvoiceStatusActive).Find(&out).Error)
	return out
}

func (f fixture) isActive(t *testing.T, id snowflake.ID) bool {
	t.Helper()
	var acc accountdomain.PaidAccount
	require.NoError(t, f.db.First(&acc, "id = ?", id).Error)
	return acc.Active
}

func reportFor(t *testing.T, reports []runnerdomain.Report, id snowflake.ID) runnerdomain.Report {
	t.Helper()
	for _, r := range reports {
		if r.AccountID == id {
			return r
		}
	}
	t.Fatalf("no report for account %d", id)
	return runnerdomain.Report{}
}

var anchor = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func at(month time.Month, day int) time.Time {
	return time.Date(2024, month, day, 9, 0, 0, 0, time.UTC)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, runnerdomain.ErrInvalidConfig)
}

func TestCardFlowChargesAndInvoicesOnce(t *testing.T) {
	today := at(time.April, 10)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, createdAt: anchor, saasFee: 500})
	f.expectCardCharge(1, "pi_1", nil)
	ctx := context.Background()

	reports, err := f.runner.RunBillingRoutine(ctx, accountdomain.ProviderStripeCard, billingperiod.Monthly, today)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Success, reports[0].Reason)
	assert.Equal(t, obsmetrics.OutcomeCharged, reports[0].Outcome)
	assert.Equal(t, "04-2024", reports[0].InvoiceLabel)

	again, err := f.runner.RunBillingRoutine(ctx, accountdomain.ProviderStripeCard, billingperiod.Monthly, today)
	require.NoError(t, err)
	assert.Empty(t, again)

	invoices := f.activeInvoices(t, 1)
	require.Len(t, invoices, 1)
	assert.Equal(t, invoicedomain.PaymentTermPUE, invoices[0].PaymentTerm)
	assert.True(t, decimal.NewFromInt(1160).Equal(invoices[0].Total))
	assert.NotEmpty(t, invoices[0].PDF)

	statuses, err := f.ledger.FetchInvoicePaystatuses(ctx, []snowflake.ID{invoices[0].ID})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.PayStatusPaid, statuses[invoices[0].ID].Status)
	require.NotNil(t, statuses[invoices[0].ID].TransactionID)
	assert.Equal(t, "pi_1", *statuses[invoices[0].ID].TransactionID)

	f.provider.AssertNumberOfCalls(t, "CreateCardIntent", 1)
	require.Len(t, f.issuer.requests, 1)
	assert.Equal(t, taxdomain.PaymentFormCard, f.issuer.requests[0].PaymentForm)
	assert.Equal(t, "fc_PRO200101AB1", f.issuer.requests[0].CustomerRef)

	sent := f.mail.withSubject("Factura Alima")
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"pagos1@p.mx", financeMailbox}, sent[0].To)
	assert.Len(t, sent[0].Attachments, 2)

	assert.Equal(t, []string{eventdomain.PaymentCollected, eventdomain.InvoiceIssued}, f.events.types())
	count, err := testutil.GatherAndCount(f.registry, "alima_billing_account_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFirstMonthIsNotCharged(t *testing.T) {
	today := at(time.March, 20)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, createdAt: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), saasFee: 500})

	reports, err := f.runner.RunBillingRoutine(context.Background(), accountdomain.ProviderStripeCard, billingperiod.Monthly, today)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Success)
	assert.Equal(t, "03-2024", reports[0].InvoiceLabel)
	assert.Equal(t, "first month, do not charge", reports[0].Reason)
	f.provider.AssertNotCalled(t, "ListCards", mock.Anything, mock.Anything)
	assert.Empty(t, f.activeInvoices(t, 1))
}

func TestCardEscalation(t *testing.T) {
	declined := &paymentdomain.ProviderError{Code: "card_declined", Message: "Your card was declined."}

	cases := []struct {
		name       string
		today      time.Time
		outcome    string
		success    bool
		active     bool
		intents    int
		mailPrefix string
	}{
		{name: "collecting", today: at(time.April, 13), outcome: obsmetrics.OutcomeFailed, active: true, intents: 1, mailPrefix: "Intento de pago 3"},
		{name: "last collection day", today: at(time.April, 17), outcome: obsmetrics.OutcomeFailed, active: true, intents: 1, mailPrefix: "Intento de pago 7"},
		{name: "suspended", today: at(time.April, 18), outcome: obsmetrics.OutcomeSuspended, success: true, active: false, mailPrefix: "Cuenta Alima suspendida"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.today, nil)
			f.seedAccount(t, seed{id: 1, createdAt: anchor, saasFee: 500})
			f.expectCardCharge(1, "pi_failed", declined)

			reports, err := f.runner.RunBillingRoutine(context.Background(), accountdomain.ProviderStripeCard, billingperiod.Monthly, tc.today)
			require.NoError(t, err)
			require.Len(t, reports, 1)
			assert.Equal(t, tc.outcome, reports[0].Outcome, reports[0].Reason)
			assert.Equal(t, tc.success, reports[0].Success)
			assert.Equal(t, tc.active, f.isActive(t, 1))
			assert.Empty(t, f.activeInvoices(t, 1))
			f.provider.AssertNumberOfCalls(t, "CreateCardIntent", tc.intents)
			if tc.mailPrefix != "" {
				assert.Len(t, f.mail.withSubject(tc.mailPrefix), 1)
			} else {
				assert.Empty(t, f.mail.sent)
			}
		})
	}
}

func TestCardFailureReasonComesFromProvider(t *testing.T) {
	today := at(time.April, 12)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, createdAt: anchor, saasFee: 500})
	f.expectCardCharge(1, "", &paymentdomain.ProviderError{Code: "card_declined", Message: "Your card was declined."})

	reports, err := f.runner.RunBillingRoutine(context.Background(), accountdomain.ProviderStripeCard, billingperiod.Monthly, today)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "payment attempt 2 failed: Your card was declined.", reports[0].Reason)
	assert.Equal(t, []string{eventdomain.PaymentFailed}, f.events.types())
}

func TestZeroDueIsSkipped(t *testing.T) {
	today := at(time.April, 10)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, createdAt: anchor})

	reports, err := f.runner.RunBillingRoutine(context.Background(), accountdomain.ProviderStripeCard, billingperiod.Monthly, today)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, obsmetrics.OutcomeSkipped, reports[0].Outcome)
	assert.True(t, reports[0].Success)
	f.provider.AssertNotCalled(t, "ListCards", mock.Anything, mock.Anything)
	assert.Empty(t, f.activeInvoices(t, 1))
	assert.Empty(t, f.mail.sent)
	assert.Empty(t, f.events.types())
}

func TestOneAccountFailureDoesNotStopTheBatch(t *testing.T) {
	today := at(time.April, 10)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, createdAt: anchor, saasFee: 500})
	f.seedAccount(t, seed{id: 2, createdAt: anchor.Add(time.Hour), saasFee: 700})
	f.expectCardCharge(1, "", errors.New("processor unavailable"))
	f.expectCardCharge(2, "pi_2", nil)

	reports, err := f.runner.RunBillingRoutine(context.Background(), accountdomain.ProviderStripeCard, billingperiod.Monthly, today)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.False(t, reportFor(t, reports, 1).Success)
	assert.Contains(t, reportFor(t, reports, 1).Reason, "processor unavailable")
	assert.True(t, reportFor(t, reports, 2).Success)
	assert.Len(t, f.activeInvoices(t, 2), 1)
}

func TestPilotAccountsLimitTheRoutine(t *testing.T) {
	today := at(time.April, 10)
	f := newFixture(t, today, func(cfg *config.BillingConfig) {
		cfg.PilotAccounts = []string{"2"}
	})
	f.seedAccount(t, seed{id: 1, createdAt: anchor, saasFee: 500})
	f.seedAccount(t, seed{id: 2, createdAt: anchor, saasFee: 500})
	f.expectCardCharge(2, "pi_2", nil)

	reports, err := f.runner.RunBillingRoutine(context.Background(), accountdomain.ProviderStripeCard, billingperiod.Monthly, today)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, snowflake.ID(2), reports[0].AccountID)
}

func TestGeneralPublicInvoiceGoesToFinanceOnly(t *testing.T) {
	today := at(time.April, 10)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, createdAt: anchor, saasFee: 500, taxID: "XAXX010101000"})
	f.expectCardCharge(1, "pi_1", nil)

	reports, err := f.runner.RunBillingRoutine(context.Background(), accountdomain.ProviderStripeCard, billingperiod.Monthly, today)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.True(t, reports[0].Success, reports[0].Reason)

	assert.Empty(t, f.issuer.customers)
	require.Len(t, f.issuer.requests, 1)
	assert.True(t, f.issuer.requests[0].GeneralPublic)
	sent := f.mail.withSubject("Factura Alima")
	require.Len(t, sent, 1)
	assert.Equal(t, []string{financeMailbox}, sent[0].To)
}

func TestContendedAccountIsSkipped(t *testing.T) {
	today := at(time.April, 10)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, createdAt: anchor, saasFee: 500})
	_, ok, err := f.locker.TryLock(context.Background(), lock.BillingKey(1, "04-2024"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	reports, err := f.runner.RunBillingRoutine(context.Background(), accountdomain.ProviderStripeCard, billingperiod.Monthly, today)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, obsmetrics.OutcomeSkipped, reports[0].Outcome)
	f.provider.AssertNotCalled(t, "ListCards", mock.Anything, mock.Anything)
}

func TestUnimplementedCombination(t *testing.T) {
	today := at(time.April, 10)
	f := newFixture(t, today, nil)

	reports, err := f.runner.RunBillingRoutine(context.Background(), accountdomain.ProviderBankTransfer, billingperiod.Monthly, today)
	assert.ErrorIs(t, err, runnerdomain.ErrRoutineNotImplemented)
	assert.NotNil(t, reports)
	assert.Empty(t, reports)
}

func TestAnnualCardIsReportedNotImplemented(t *testing.T) {
	today := at(time.April, 10)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, plan: chargedomain.PlanProAnnual, createdAt: time.Date(2023, 4, 10, 0, 0, 0, 0, time.UTC), saasFee: 500})

	reports, err := f.runner.RunBillingRoutine(context.Background(), accountdomain.ProviderStripeCard, billingperiod.Annual, today)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, obsmetrics.OutcomeNotApplicable, reports[0].Outcome)
	assert.Equal(t, "not implemented", reports[0].Reason)
	assert.Empty(t, f.activeInvoices(t, 1))
}

func TestInvalidPlanIsReported(t *testing.T) {
	today := at(time.April, 10)
	f := newFixture(t, today, nil)
	item := DueAccount{
		Account: accountdomain.BillingAccount{Account: accountdomain.PaidAccount{ID: 1, Plan: "enterprise", CreatedAt: anchor}},
		Month:   time.April,
		Year:    2024,
		Label:   "04-2024",
	}
	run := &routine{provider: accountdomain.ProviderStripeCard, period: billingperiod.Monthly, today: today, log: f.runner.log}

	_, report, ok := f.runner.prepareElements(run, item)
	assert.False(t, ok)
	assert.False(t, report.Success)
	assert.Equal(t, "plan not valid: enterprise", report.Reason)
}

func TestTransferFlowInvoicesOnceAndReminds(t *testing.T) {
	today := at(time.April, 10)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, provider: accountdomain.ProviderStripeSPEI, createdAt: anchor, saasFee: 500})
	bank := paymentdomain.BankInstructions{Clabe: "646180111812345678", BankName: "STP", BankCode: "646", Reference: "REF1"}
	f.provider.On("CreateTransferIntent", mock.Anything, mock.MatchedBy(func(req paymentdomain.TransferIntentRequest) bool {
		return req.IdempotencyKey == "spei:1:04-2024"
	})).Return(paymentdomain.TransferIntentResult{ID: "pi_spei", Status: "requires_action", Bank: bank}, nil)
	ctx := context.Background()

	reports, err := f.runner.RunBillingRoutine(ctx, accountdomain.ProviderStripeSPEI, billingperiod.Monthly, today)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, obsmetrics.OutcomeInvoiced, reports[0].Outcome, reports[0].Reason)
	assert.True(t, reports[0].Success)

	invoices := f.activeInvoices(t, 1)
	require.Len(t, invoices, 1)
	assert.Equal(t, invoicedomain.PaymentTermPPD, invoices[0].PaymentTerm)
	assert.Equal(t, "646180111812345678", invoices[0].Metadata["clabe"])
	require.Len(t, f.issuer.requests, 1)
	assert.Equal(t, taxdomain.PaymentFormToBeDefined, f.issuer.requests[0].PaymentForm)

	f.clk.AdvanceDays(3)
	next := f.clk.Now()
	reports, err = f.runner.RunBillingRoutine(ctx, accountdomain.ProviderStripeSPEI, billingperiod.Monthly, next)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, obsmetrics.OutcomeReminded, reports[0].Outcome, reports[0].Reason)
	assert.Equal(t, "payment pending, 5 days left", reports[0].Reason)

	f.provider.AssertNumberOfCalls(t, "CreateTransferIntent", 1)
	assert.Len(t, f.activeInvoices(t, 1), 1)
	reminders := f.mail.withSubject("Pago pendiente Alima 04-2024")
	require.Len(t, reminders, 2)
	assert.Contains(t, reminders[1].HTML, "646180111812345678")
	assert.Contains(t, reminders[1].Subject, "5 días restantes")
}

func TestTransferFlowSuspendsOnDayEight(t *testing.T) {
	today := at(time.April, 18)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, provider: accountdomain.ProviderStripeSPEI, createdAt: anchor, saasFee: 500})

	reports, err := f.runner.RunBillingRoutine(context.Background(), accountdomain.ProviderStripeSPEI, billingperiod.Monthly, today)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, obsmetrics.OutcomeSuspended, reports[0].Outcome)
	assert.False(t, f.isActive(t, 1))
	assert.Contains(t, f.events.types(), eventdomain.AccountSuspended)
	f.provider.AssertNotCalled(t, "CreateTransferIntent", mock.Anything, mock.Anything)
}

func TestInvoiceAccountManual(t *testing.T) {
	today := at(time.April, 10)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, provider: accountdomain.ProviderBankTransfer, createdAt: anchor, saasFee: 500})
	ctx := context.Background()

	out, err := f.runner.InvoiceAccount(ctx, ManualInvoiceRequest{AccountID: 1, Month: 3, Year: 2024, Paid: true, TransactionID: "wire-77"})
	require.NoError(t, err)
	assert.Equal(t, "1", out.Folio)
	assert.Equal(t, []string{"pagos1@p.mx", financeMailbox}, out.Recipients)

	invoices := f.activeInvoices(t, 1)
	require.Len(t, invoices, 1)
	assert.Equal(t, "03-2024", invoices[0].InvoicePeriod)
	assert.Equal(t, invoicedomain.PaymentTermPPD, invoices[0].PaymentTerm)

	_, err = f.runner.InvoiceAccount(ctx, ManualInvoiceRequest{AccountID: 1, Month: 3, Year: 2024})
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceAlreadyExists)

	_, err = f.runner.InvoiceAccount(ctx, ManualInvoiceRequest{AccountID: 1, Month: 13, Year: 2024})
	assert.ErrorIs(t, err, ErrInvalidManualRequest)
}

func TestDispatchInvoiceRejectsZeroDue(t *testing.T) {
	f := newFixture(t, at(time.April, 10), nil)
	_, err := f.runner.DispatchInvoice(context.Background(), DispatchInput{
		Account: accountdomain.BillingAccount{Account: accountdomain.PaidAccount{ID: 1}},
		Label:   "04-2024",
		Due:     chargedomain.Due{Total: decimal.Zero},
		Term:    invoicedomain.PaymentTermPUE,
	})
	assert.ErrorIs(t, err, runnerdomain.ErrNothingToInvoice)
	assert.Empty(t, f.issuer.requests)
}

func TestCardRoutineIgnoresDaysPastCollectionWindow(t *testing.T) {
	today := at(time.April, 20)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, createdAt: anchor, saasFee: 500})

	reports, err := f.runner.RunBillingRoutine(context.Background(), accountdomain.ProviderStripeCard, billingperiod.Monthly, today)
	require.NoError(t, err)
	assert.Empty(t, reports)
	assert.True(t, f.isActive(t, 1))
	f.provider.AssertNotCalled(t, "ListCards", mock.Anything, mock.Anything)
}

func TestUnexpectedDaysLeaveAccountUntouched(t *testing.T) {
	today := at(time.April, 19)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, createdAt: anchor, saasFee: 500})
	ctx := context.Background()
	acc, err := f.accounts.GetBillingAccount(ctx, 1)
	require.NoError(t, err)
	item := DueAccount{Account: *acc, Month: time.April, Year: 2024, Label: "04-2024"}
	run := &routine{provider: accountdomain.ProviderStripeCard, period: billingperiod.Monthly, today: today, log: f.runner.log}

	report := f.runner.cardFlow(ctx, run, item, elements{days: billingperiod.CollectionWindow + 1})
	assert.Equal(t, obsmetrics.OutcomeUnexpected, report.Outcome)
	assert.False(t, report.Success)
	assert.Equal(t, "unexpected scenario: 9 days from checkday", report.Reason)
	assert.True(t, f.isActive(t, 1))
	assert.Empty(t, f.mail.sent)
	f.provider.AssertNotCalled(t, "ListCards", mock.Anything, mock.Anything)
}

func TestDayEightWithNothingDueKeepsService(t *testing.T) {
	for _, provider := range []accountdomain.PayProvider{accountdomain.ProviderStripeCard, accountdomain.ProviderStripeSPEI} {
		t.Run(string(provider), func(t *testing.T) {
			today := at(time.April, 18)
			f := newFixture(t, today, nil)
			f.seedAccount(t, seed{id: 1, provider: provider, createdAt: anchor})

			reports, err := f.runner.RunBillingRoutine(context.Background(), provider, billingperiod.Monthly, today)
			require.NoError(t, err)
			require.Len(t, reports, 1)
			assert.Equal(t, obsmetrics.OutcomeSkipped, reports[0].Outcome)
			assert.True(t, reports[0].Success)
			assert.Equal(t, "nothing due for the period", reports[0].Reason)
			assert.True(t, f.isActive(t, 1))
			assert.Empty(t, f.mail.sent)
			assert.Empty(t, f.events.types())
		})
	}
}

func (f fixture) draftInvoices(t *testing.T, id snowflake.ID) []invoicedomain.Invoice {
	t.Helper()
	var out []invoicedomain.Invoice
	require.NoError(t, f.db.Where("paid_account_id = ? AND status = ?", id, invoicedomain.InvoiceStatusDraft).Find(&out).Error)
	return out
}

func TestChargeIsRecordedWhenInvoicingFails(t *testing.T) {
	today := at(time.April, 10)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, createdAt: anchor, saasFee: 500})
	f.expectCardCharge(1, "pi_ok", nil)
	f.issuer.err = errors.New("pac unavailable")
	ctx := context.Background()

	reports, err := f.runner.RunBillingRoutine(ctx, accountdomain.ProviderStripeCard, billingperiod.Monthly, today)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Success)
	assert.Contains(t, reports[0].Reason, "charged pi_ok, invoice pending")
	assert.Empty(t, f.activeInvoices(t, 1))

	drafts := f.draftInvoices(t, 1)
	require.Len(t, drafts, 1)
	assert.Equal(t, invoicedomain.PaymentTermPUE, drafts[0].PaymentTerm)
	assert.True(t, decimal.NewFromInt(1160).Equal(drafts[0].Total))
	statuses, err := f.ledger.FetchInvoicePaystatuses(ctx, []snowflake.ID{drafts[0].ID})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.PayStatusPaid, statuses[drafts[0].ID].Status)
	require.NotNil(t, statuses[drafts[0].ID].TransactionID)
	assert.Equal(t, "pi_ok", *statuses[drafts[0].ID].TransactionID)

	// the provider recovers the next day
	f.issuer.err = nil
	f.clk.AdvanceDays(1)
	next := at(time.April, 11)
	reports, err = f.runner.RunBillingRoutine(ctx, accountdomain.ProviderStripeCard, billingperiod.Monthly, next)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Success, reports[0].Reason)
	assert.Equal(t, obsmetrics.OutcomeCharged, reports[0].Outcome)
	assert.Equal(t, "invoiced collected charge pi_ok, folio 1", reports[0].Reason)
	f.provider.AssertNumberOfCalls(t, "CreateCardIntent", 1)

	invoices := f.activeInvoices(t, 1)
	require.Len(t, invoices, 1)
	assert.Equal(t, drafts[0].ID, invoices[0].ID)
	assert.Equal(t, "cfdi_1", invoices[0].TaxInvoiceID)
	assert.Equal(t, "1", invoices[0].Folio)
	assert.NotEmpty(t, invoices[0].PDF)
	assert.Empty(t, f.draftInvoices(t, 1))

	require.Len(t, f.issuer.requests, 1)
	assert.Equal(t, taxdomain.PaymentFormCard, f.issuer.requests[0].PaymentForm)
	assert.NotEmpty(t, f.issuer.requests[0].Items)
	assert.Len(t, f.mail.withSubject("Factura Alima"), 1)

	settled, err := f.runner.RunBillingRoutine(ctx, accountdomain.ProviderStripeCard, billingperiod.Monthly, at(time.April, 12))
	require.NoError(t, err)
	assert.Empty(t, settled)
}

func TestRecordedChargeIsNotSuspendedOnDayEight(t *testing.T) {
	today := at(time.April, 17)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, createdAt: anchor, saasFee: 500})
	f.expectCardCharge(1, "pi_late", nil)
	f.issuer.err = errors.New("pac unavailable")
	ctx := context.Background()

	_, err := f.runner.RunBillingRoutine(ctx, accountdomain.ProviderStripeCard, billingperiod.Monthly, today)
	require.NoError(t, err)

	f.clk.AdvanceDays(1)
	reports, err := f.runner.RunBillingRoutine(ctx, accountdomain.ProviderStripeCard, billingperiod.Monthly, at(time.April, 18))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.NotEqual(t, obsmetrics.OutcomeSuspended, reports[0].Outcome)
	assert.Contains(t, reports[0].Reason, "charge pi_late collected, invoice pending")
	assert.True(t, f.isActive(t, 1))
	f.provider.AssertNumberOfCalls(t, "CreateCardIntent", 1)
}

func TestInvoiceAccountUsesRecordedCharge(t *testing.T) {
	today := at(time.April, 10)
	f := newFixture(t, today, nil)
	f.seedAccount(t, seed{id: 1, createdAt: anchor, saasFee: 500})
	f.expectCardCharge(1, "pi_ok", nil)
	f.issuer.err = errors.New("pac unavailable")
	ctx := context.Background()

	_, err := f.runner.RunBillingRoutine(ctx, accountdomain.ProviderStripeCard, billingperiod.Monthly, today)
	require.NoError(t, err)
	drafts := f.draftInvoices(t, 1)
	require.Len(t, drafts, 1)

	f.issuer.err = nil
	out, err := f.runner.InvoiceAccount(ctx, ManualInvoiceRequest{AccountID: 1, Month: 4, Year: 2024})
	require.NoError(t, err)
	assert.Equal(t, drafts[0].ID, out.InvoiceID)

	invoices := f.activeInvoices(t, 1)
	require.Len(t, invoices, 1)
	assert.Equal(t, invoicedomain.PaymentTermPUE, invoices[0].PaymentTerm)
	tx, ok, err := f.ledger.TransactionForPeriod(ctx, 1, "04-2024")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "pi_ok", tx)
	f.provider.AssertNumberOfCalls(t, "CreateCardIntent", 1)
}

func TestDispatchIntoInvoicedPeriodCancelsTaxInvoice(t *testing.T) {
	lines := []chargedomain.LineItem{{
		Kind: chargedomain.SaasFee, Label: "SaaS", Quantity: decimal.NewFromInt(1), UnitAmount: decimal.NewFromInt(1000),
		AmountKind: chargedomain.Fixed, Subtotal: decimal.NewFromInt(1000), Tax: decimal.NewFromInt(160),
		Total: decimal.NewFromInt(1160), Currency: "MXN",
	}}
	due := chargedomain.Due{Total: decimal.NewFromInt(1160), Currency: "MXN", Lines: lines}

	setup := func(t *testing.T) (fixture, DispatchInput) {
		f := newFixture(t, at(time.April, 10), nil)
		f.seedAccount(t, seed{id: 1, createdAt: anchor, saasFee: 1000})
		ctx := context.Background()
		_, err := f.ledger.CreateInvoice(ctx, invoicedomain.CreateInvoiceInput{
			AccountID: 1, Country: "MX", Period: "04-2024", TaxInvoiceID: "cfdi_prior", Folio: "9",
			Total: due.Total, Currency: "MXN", PaymentTerm: invoicedomain.PaymentTermPUE,
			Charges: invoicedomain.ChargesFromLines(lines), PayStatus: invoicedomain.PayStatusPaid,
		})
		require.NoError(t, err)
		acc, err := f.accounts.GetBillingAccount(ctx, 1)
		require.NoError(t, err)
		return f, DispatchInput{
			Account: *acc, Label: "04-2024", Due: due, Term: invoicedomain.PaymentTermPUE,
			PayStatus: invoicedomain.PayStatusPaid, Card: true,
		}
	}

	t.Run("canceled", func(t *testing.T) {
		f, in := setup(t)
		_, err := f.runner.DispatchInvoice(context.Background(), in)
		require.ErrorIs(t, err, invoicedomain.ErrInvoiceAlreadyExists)
		assert.NotErrorIs(t, err, ErrOrphanTaxInvoice)
		assert.Equal(t, []string{"cfdi_1"}, f.issuer.canceled)

		invoices := f.activeInvoices(t, 1)
		require.Len(t, invoices, 1)
		assert.Equal(t, "cfdi_prior", invoices[0].TaxInvoiceID)
		assert.Empty(t, f.mail.sent)
		assert.Empty(t, f.events.types())
	})

	t.Run("cancel refused", func(t *testing.T) {
		f, in := setup(t)
		f.issuer.cancelErr = errors.New("cfdi already stamped")
		_, err := f.runner.DispatchInvoice(context.Background(), in)
		require.ErrorIs(t, err, ErrOrphanTaxInvoice)
		assert.ErrorIs(t, err, invoicedomain.ErrInvoiceAlreadyExists)
		assert.Contains(t, err.Error(), "cfdi_1")
		assert.Empty(t, f.issuer.canceled)
	})
}
