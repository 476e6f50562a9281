package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	BillingJobReasonDeadlineExceeded     = "deadline_exceeded"
	BillingJobReasonDBLockTimeout        = "db_lock_timeout"
	BillingJobReasonSerializationFailure = "serialization_failure"
	BillingJobReasonUniqueViolation      = "unique_violation"
	BillingJobReasonNotImplemented       = "not_implemented"
	BillingJobReasonUnknown              = "unknown"
)

// Account outcomes recorded per processed account.
const (
	OutcomeCharged       = "charged"
	OutcomeInvoiced      = "invoiced"
	OutcomeReminded      = "reminded"
	OutcomeSuspended     = "suspended"
	OutcomeSkipped       = "skipped"
	OutcomeFailed        = "failed"
	OutcomeUnexpected    = "unexpected"
	OutcomeNotApplicable = "not_applicable"
)

// ErrNotImplemented is matched by ClassifyBillingJobReason. Packages that
// reject unsupported routines wrap it.
var ErrNotImplemented = errors.New("not_implemented")

// BillingMetrics captures billing routine health signals.
type BillingMetrics struct {
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobTimeouts     *prometheus.CounterVec
	jobErrors       *prometheus.CounterVec
	accountOutcomes *prometheus.CounterVec
	amountInvoiced  *prometheus.CounterVec
	paymentEvents   *prometheus.CounterVec
	runLoopLag      prometheus.Observer
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the singleton billing metrics registry.
func Billing() *BillingMetrics {
	return BillingWithConfig(Config{})
}

// BillingWithConfig returns the singleton billing metrics registry using config labels.
func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

// ResetBillingMetricsForTest resets the singleton for tests.
func ResetBillingMetricsForTest() {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
}

// NewBillingMetricsForTest builds an unshared instance on the given registry.
func NewBillingMetricsForTest(registerer prometheus.Registerer) *BillingMetrics {
	return newBillingMetrics(registerer, Config{})
}

func newBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := cfg.constLabels()

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alima_billing_job_runs_total",
		Help:        "Billing routine runs by job.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "alima_billing_job_duration_seconds",
		Help:        "Billing routine latency by job.",
		Buckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alima_billing_job_timeouts_total",
		Help:        "Billing routine runs that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alima_billing_job_errors_total",
		Help:        "Billing routine errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	accountOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alima_billing_account_outcomes_total",
		Help:        "Per-account billing outcomes.",
		ConstLabels: constLabels,
	}, []string{"provider", "period", "outcome"})
	amountInvoiced := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alima_billing_amount_invoiced_total",
		Help:        "Tax-inclusive amount invoiced, in major currency units.",
		ConstLabels: constLabels,
	}, []string{"currency"})
	paymentEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alima_billing_payment_events_total",
		Help:        "Processor webhook events applied to the ledger.",
		ConstLabels: constLabels,
	}, []string{"provider", "type"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "alima_billing_runloop_lag_seconds",
		Help:        "Delay between the scheduled cron tick and the routine start.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(jobRuns, jobDuration, jobTimeouts, jobErrors, accountOutcomes, amountInvoiced, paymentEvents, runLoopLag)

	return &BillingMetrics{
		jobRuns:         jobRuns,
		jobDuration:     jobDuration,
		jobTimeouts:     jobTimeouts,
		jobErrors:       jobErrors,
		accountOutcomes: accountOutcomes,
		amountInvoiced:  amountInvoiced,
		paymentEvents:   paymentEvents,
		runLoopLag:      runLoopLag,
	}
}

func (m *BillingMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *BillingMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *BillingMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the job error counter with classification.
func (m *BillingMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyBillingJobReason(err)).Inc()
}

func (m *BillingMetrics) IncAccountOutcome(provider, period, outcome string) {
	if m == nil {
		return
	}
	m.accountOutcomes.WithLabelValues(provider, period, outcome).Inc()
}

// AddAmountInvoiced adds a tax-inclusive invoice total. Non-positive amounts are ignored.
func (m *BillingMetrics) AddAmountInvoiced(currency string, amount decimal.Decimal) {
	if m == nil || !amount.IsPositive() {
		return
	}
	m.amountInvoiced.WithLabelValues(currency).Add(amount.InexactFloat64())
}

func (m *BillingMetrics) IncPaymentEvent(provider, eventType string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(provider, eventType).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *BillingMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ClassifyBillingJobReason maps routine errors to low-cardinality reasons.
func ClassifyBillingJobReason(err error) string {
	switch {
	case err == nil:
		return BillingJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return BillingJobReasonDeadlineExceeded
	case errors.Is(err, ErrNotImplemented):
		return BillingJobReasonNotImplemented
	case hasPGCode(err, "55P03"):
		return BillingJobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return BillingJobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return BillingJobReasonUniqueViolation
	default:
		return BillingJobReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
