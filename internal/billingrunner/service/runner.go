package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	"github.com/smallbiznis/alima/internal/billingevent"
	eventdomain "github.com/smallbiznis/alima/internal/billingevent/domain"
	"github.com/smallbiznis/alima/internal/billingperiod"
	runnerdomain "github.com/smallbiznis/alima/internal/billingrunner/domain"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	"github.com/smallbiznis/alima/internal/clock"
	"github.com/smallbiznis/alima/internal/config"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
	"github.com/smallbiznis/alima/internal/lock"
	"github.com/smallbiznis/alima/internal/notification"
	obscontext "github.com/smallbiznis/alima/internal/observability/context"
	obsmetrics "github.com/smallbiznis/alima/internal/observability/metrics"
	paymentservice "github.com/smallbiznis/alima/internal/payment/service"
	taxdomain "github.com/smallbiznis/alima/internal/taxinvoice/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Accounts  accountdomain.Service
	Charges   chargedomain.Service
	Ledger    invoicedomain.Ledger
	Collector *paymentservice.Collector
	Issuer    taxdomain.Issuer
	Notifier  *notification.Service
	Events    *billingevent.Emitter
	Locker    lock.Locker
	Billing   *config.BillingConfigHolder
	Metrics   *obsmetrics.BillingMetrics `optional:"true"`
}

// Runner evaluates every billing account of a provider and period, collects
// what is due, issues the tax invoice and escalates unpaid accounts.
type Runner struct {
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	accounts  accountdomain.Service
	charges   chargedomain.Service
	ledger    invoicedomain.Ledger
	collector *paymentservice.Collector
	issuer    taxdomain.Issuer
	notifier  *notification.Service
	events    *billingevent.Emitter
	locker    lock.Locker
	billing   *config.BillingConfigHolder
	metrics   *obsmetrics.BillingMetrics
}

func New(p Params) (*Runner, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Accounts == nil || p.Charges == nil ||
		p.Ledger == nil || p.Collector == nil || p.Issuer == nil || p.Notifier == nil ||
		p.Events == nil || p.Locker == nil || p.Billing == nil {
		return nil, runnerdomain.ErrInvalidConfig
	}
	return &Runner{
		log:       p.Log.Named("billingrunner"),
		genID:     p.GenID,
		clock:     p.Clock,
		accounts:  p.Accounts,
		charges:   p.Charges,
		ledger:    p.Ledger,
		collector: p.Collector,
		issuer:    p.Issuer,
		notifier:  p.Notifier,
		events:    p.Events,
		locker:    p.Locker,
		billing:   p.Billing,
		metrics:   p.Metrics,
	}, nil
}

type flowFunc func(ctx context.Context, run *routine, item DueAccount, el elements) runnerdomain.Report

type flowKey struct {
	provider accountdomain.PayProvider
	period   billingperiod.Period
}

func (r *Runner) flowFor(provider accountdomain.PayProvider, period billingperiod.Period) (flowFunc, bool) {
	flows := map[flowKey]flowFunc{
		{accountdomain.ProviderStripeCard, billingperiod.Monthly}: r.cardFlow,
		{accountdomain.ProviderStripeSPEI, billingperiod.Monthly}: r.transferFlow,
		{accountdomain.ProviderStripeSPEI, billingperiod.Annual}:  r.transferFlow,
		{accountdomain.ProviderStripeCard, billingperiod.Annual}:  r.annualCardFlow,
	}
	flow, ok := flows[flowKey{provider, period}]
	return flow, ok
}

// routine carries the per-execution context shared by every account.
type routine struct {
	id       string
	provider accountdomain.PayProvider
	period   billingperiod.Period
	today    time.Time
	log      *zap.Logger
}

// RunBillingRoutine bills every due account of one provider and period as of
// today. Accounts are processed one at a time and a failing account only
// produces a failed report.
func (r *Runner) RunBillingRoutine(ctx context.Context, provider accountdomain.PayProvider, period billingperiod.Period, today time.Time) ([]runnerdomain.Report, error) {
	flow, ok := r.flowFor(provider, period)
	if !ok {
		return []runnerdomain.Report{}, fmt.Errorf("%s/%s: %w", provider, period, runnerdomain.ErrRoutineNotImplemented)
	}

	run := &routine{
		id:       r.genID.Generate().String(),
		provider: provider,
		period:   period,
		today:    today,
	}
	run.log = r.log.With(
		zap.String("run_id", run.id),
		zap.String("provider", string(provider)),
		zap.String("period", string(period)),
		zap.String("date", today.Format(time.DateOnly)),
	)
	ctx = obscontext.WithRunID(ctx, run.id)

	ctx, span := otel.Tracer("alima/billingrunner").Start(ctx, "billingrunner.routine")
	span.SetAttributes(
		attribute.String("billing.provider", string(provider)),
		attribute.String("billing.period", string(period)),
	)
	defer span.End()

	start := r.clock.Now()
	run.log.Info("billing.routine.start")

	accounts, err := r.accounts.ListBillingAccounts(ctx, period)
	if err != nil {
		span.RecordError(err)
		return []runnerdomain.Report{}, err
	}
	accounts = r.filterProvider(accounts, provider)

	due := FilterPastDue(accounts, period, today)
	pending, err := r.FilterNotInvoiced(ctx, due, period, today, true)
	if err != nil {
		span.RecordError(err)
		return []runnerdomain.Report{}, err
	}

	reports := make([]runnerdomain.Report, 0, len(pending))
	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			run.log.Warn("billing.routine.canceled", zap.Int("remaining", len(pending)-len(reports)))
			return reports, err
		}
		report := r.processAccount(ctx, run, item, flow)
		r.metrics.IncAccountOutcome(string(provider), string(period), report.Outcome)
		reports = append(reports, report)
	}

	failed := len(runnerdomain.Failed(reports))
	span.SetAttributes(attribute.Int("billing.accounts", len(reports)), attribute.Int("billing.failed", failed))
	run.log.Info("billing.routine.finish",
		zap.Int("listed", len(accounts)),
		zap.Int("due", len(due)),
		zap.Int("processed", len(reports)),
		zap.Int("failed", failed),
		zap.Duration("duration", r.clock.Now().Sub(start)),
	)
	return reports, nil
}

func (r *Runner) filterProvider(accounts []accountdomain.BillingAccount, provider accountdomain.PayProvider) []accountdomain.BillingAccount {
	cfg := r.billing.Get()
	out := make([]accountdomain.BillingAccount, 0, len(accounts))
	for _, acc := range accounts {
		if acc.Provider() != provider {
			continue
		}
		if !cfg.IsPilotAccount(acc.Account.ID.String()) {
			continue
		}
		out = append(out, acc)
	}
	return out
}

// processAccount claims the account for the period, re-checks the ledger and
// runs the flow. Panics are reported as failures of that account only.
func (r *Runner) processAccount(ctx context.Context, run *routine, item DueAccount, flow flowFunc) (report runnerdomain.Report) {
	acc := item.Account
	ctx = obscontext.WithAccountID(ctx, acc.Account.ID.String())
	logger := run.log.With(zap.String("account_id", acc.Account.ID.String()), zap.String("invoice_label", item.Label))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("billing.account.panic", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			report = r.report(run, item, obsmetrics.OutcomeFailed, false, fmt.Sprintf("unexpected error: %v", rec))
		}
	}()

	key := lock.BillingKey(acc.Account.ID, item.Label)
	token, ok, err := r.locker.TryLock(ctx, key, r.billing.Get().LockTTL)
	if err != nil {
		logger.Error("billing.account.lock_failed", zap.Error(err))
		return r.report(run, item, obsmetrics.OutcomeFailed, false, "lock: "+err.Error())
	}
	if !ok {
		logger.Info("billing.account.locked")
		return r.report(run, item, obsmetrics.OutcomeSkipped, true, "another run holds the account")
	}
	defer func() {
		if err := r.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			logger.Warn("billing.account.unlock_failed", zap.Error(err))
		}
	}()

	settled, err := r.isSettled(ctx, acc.Account.ID, item.Label)
	if err != nil {
		return r.report(run, item, obsmetrics.OutcomeFailed, false, err.Error())
	}
	if settled {
		return r.report(run, item, obsmetrics.OutcomeSkipped, true, "already invoiced")
	}

	el, report, ok := r.prepareElements(run, item)
	if !ok {
		return report
	}
	report = flow(ctx, run, item, el)
	logger.Info("billing.account.processed",
		zap.String("outcome", report.Outcome),
		zap.Bool("success", report.Success),
		zap.Int("days_from_checkday", el.days),
		zap.String("reason", report.Reason),
	)
	return report
}

func (r *Runner) isSettled(ctx context.Context, accountID snowflake.ID, label string) (bool, error) {
	invoice, err := r.activeInvoice(ctx, accountID, label)
	if err != nil || invoice == nil {
		return false, err
	}
	statuses, err := r.ledger.FetchInvoicePaystatuses(ctx, []snowflake.ID{invoice.ID})
	if err != nil {
		return false, err
	}
	current, ok := statuses[invoice.ID]
	return ok && current.Status == invoicedomain.PayStatusPaid, nil
}

func (r *Runner) activeInvoice(ctx context.Context, accountID snowflake.ID, label string) (*invoicedomain.Invoice, error) {
	invoices, err := r.ledger.FindInvoiceByPeriod(ctx, accountID, label)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		if invoices[i].Status == invoicedomain.InvoiceStatusActive {
			return &invoices[i], nil
		}
	}
	return nil, nil
}

// elements are the per-account values every flow needs.
type elements struct {
	strategy chargedomain.Strategy
	checkday time.Time
	days     int
}

func (r *Runner) prepareElements(run *routine, item DueAccount) (elements, runnerdomain.Report, bool) {
	acc := item.Account.Account
	strategy, err := chargedomain.StrategyFor(acc.Plan)
	if err != nil {
		return elements{}, r.report(run, item, obsmetrics.OutcomeFailed, false, "plan not valid: "+string(acc.Plan)), false
	}
	if billingperiod.IsFirstPeriod(acc.CreatedAt, item.Month, item.Year) {
		return elements{}, r.report(run, item, obsmetrics.OutcomeSkipped, true, "first month, do not charge"), false
	}
	checkday := billingperiod.Checkday(acc.CreatedAt, item.Month, item.Year)
	return elements{
		strategy: strategy,
		checkday: checkday,
		days:     billingperiod.DaysFromCheckday(run.today, checkday),
	}, runnerdomain.Report{}, true
}

func (r *Runner) report(run *routine, item DueAccount, outcome string, success bool, reason string) runnerdomain.Report {
	return runnerdomain.Report{
		AccountID:    item.Account.Account.ID,
		CustomerName: item.Account.Customer.DisplayName,
		InvoiceLabel: item.Label,
		Provider:     string(run.provider),
		Period:       string(run.period),
		Outcome:      outcome,
		Success:      success,
		Reason:       reason,
		ExecutedAt:   r.clock.Now(),
	}
}

func (r *Runner) emit(ctx context.Context, eventType string, accountID snowflake.ID, label string, data map[string]any) {
	// delivery failures are logged by the emitter
	_, _ = r.events.Emit(ctx, eventType, accountID, label, data)
}

func (r *Runner) totalDue(ctx context.Context, run *routine, item DueAccount) (chargedomain.Due, error) {
	acc := item.Account.Account
	usage, err := r.accounts.Usage(ctx, acc.ID, item.Label)
	if err != nil {
		return chargedomain.Due{}, err
	}
	return r.charges.TotalDue(ctx, chargedomain.DueRequest{
		AccountID: acc.ID,
		Plan:      acc.Plan,
		Cedis:     acc.ActiveCedis,
		Usage:     usage,
		At:        run.today,
	})
}

// suspend disables the account once the collection window has run out.
func (r *Runner) suspend(ctx context.Context, run *routine, item DueAccount, amount chargedomain.Due) runnerdomain.Report {
	acc := item.Account
	if err := r.accounts.Disable(ctx, acc.Account.ID); err != nil {
		return r.report(run, item, obsmetrics.OutcomeFailed, false, "disable account: "+err.Error())
	}
	r.emit(ctx, eventdomain.AccountSuspended, acc.Account.ID, item.Label, map[string]any{
		"provider": string(run.provider),
		"total":    amount.Total.String(),
	})
	err := r.notifier.AccountSuspended(ctx, notification.AccountSuspendedInput{
		Account:  acc,
		Label:    item.Label,
		Amount:   amount.Total,
		Currency: amount.Currency,
	})
	if err != nil {
		return r.report(run, item, obsmetrics.OutcomeSuspended, false, "account suspended, notice not sent: "+err.Error())
	}
	return r.report(run, item, obsmetrics.OutcomeSuspended, true, fmt.Sprintf("account suspended after %d days without payment", billingperiod.CollectionWindow))
}

func (r *Runner) unexpected(run *routine, item DueAccount, days int) runnerdomain.Report {
	run.log.Error("billing.account.unexpected_scenario",
		zap.String("account_id", item.Account.Account.ID.String()),
		zap.Int("days_from_checkday", days),
	)
	return r.report(run, item, obsmetrics.OutcomeUnexpected, false, fmt.Sprintf("unexpected scenario: %d days from checkday", days))
}
