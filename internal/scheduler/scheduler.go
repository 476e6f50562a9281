package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	eventdomain "github.com/smallbiznis/alima/internal/billingevent/domain"
	"github.com/smallbiznis/alima/internal/billingperiod"
	runnerdomain "github.com/smallbiznis/alima/internal/billingrunner/domain"
	"github.com/smallbiznis/alima/internal/clock"
	obsmetrics "github.com/smallbiznis/alima/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUnknownJob    = errors.New("unknown_scheduler_job")
)

// Runner is the billing routine the scheduler drives.
type Runner interface {
	RunBillingRoutine(ctx context.Context, provider accountdomain.PayProvider, period billingperiod.Period, today time.Time) ([]runnerdomain.Report, error)
}

// Reporter delivers the consolidated outcome table to operators.
type Reporter interface {
	OperatorReport(ctx context.Context, title string, reports []runnerdomain.Report) error
}

type Emitter interface {
	Emit(ctx context.Context, eventType string, accountID snowflake.ID, period string, data map[string]any) (eventdomain.Event, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Runner   Runner
	Reporter Reporter
	Events   Emitter
	Metrics  *obsmetrics.BillingMetrics `optional:"true"`
	Config   Config                     `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	runner   Runner
	reporter Reporter
	events   Emitter
	metrics  *obsmetrics.BillingMetrics

	mu     sync.Mutex
	cron   *cronState
	cancel context.CancelFunc
}

// Job is one provider and period combination of the daily routine.
type Job struct {
	Name     string
	Provider accountdomain.PayProvider
	Period   billingperiod.Period
}

// Jobs lists every routine in the order reports are presented.
var Jobs = []Job{
	{Name: "billing.monthly.stripe_card", Provider: accountdomain.ProviderStripeCard, Period: billingperiod.Monthly},
	{Name: "billing.monthly.stripe_spei", Provider: accountdomain.ProviderStripeSPEI, Period: billingperiod.Monthly},
	{Name: "billing.annual.stripe_spei", Provider: accountdomain.ProviderStripeSPEI, Period: billingperiod.Annual},
	{Name: "billing.annual.stripe_card", Provider: accountdomain.ProviderStripeCard, Period: billingperiod.Annual},
}

// JobName names the routine of a provider and period.
func JobName(provider accountdomain.PayProvider, period billingperiod.Period) string {
	return fmt.Sprintf("billing.%s.%s", period, provider)
}

// Summary is the outcome of one scheduler pass.
type Summary struct {
	RunID   string                `json:"run_id"`
	Date    time.Time             `json:"date"`
	Jobs    []string              `json:"jobs"`
	Reports []runnerdomain.Report `json:"reports"`
}

// Failed counts the reports that need operator follow up.
func (s Summary) Failed() int {
	return len(runnerdomain.Failed(s.Reports))
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Runner == nil || p.Reporter == nil || p.Events == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      cfg,
		genID:    p.GenID,
		clock:    p.Clock,
		runner:   p.Runner,
		reporter: p.Reporter,
		events:   p.Events,
		metrics:  p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// a deadline is a soft timeout; the next pass resumes the work
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled routine concurrently for date, emails the
// consolidated report and publishes routine.completed. A zero date means
// today in the billing timezone.
func (s *Scheduler) RunOnce(ctx context.Context, date time.Time) (Summary, error) {
	jobs := make([]Job, 0, len(Jobs))
	for _, job := range Jobs {
		if s.isJobEnabled(job.Name) {
			jobs = append(jobs, job)
		}
	}
	return s.run(ctx, date, jobs)
}

// RunRoutine runs a single provider and period, then reports it like a
// full pass.
func (s *Scheduler) RunRoutine(ctx context.Context, provider accountdomain.PayProvider, period billingperiod.Period, date time.Time) (Summary, error) {
	name := JobName(provider, period)
	for _, job := range Jobs {
		if job.Name == name {
			return s.run(ctx, date, []Job{job})
		}
	}
	// unknown combinations still reach the runner, which rejects them
	return s.run(ctx, date, []Job{{Name: name, Provider: provider, Period: period}})
}

func (s *Scheduler) run(ctx context.Context, date time.Time, jobs []Job) (Summary, error) {
	today := s.today(date)
	summary := Summary{
		RunID: s.genID.Generate().String(),
		Date:  today,
		Jobs:  make([]string, 0, len(jobs)),
	}
	ctx = s.withLogContext(ctx)
	log := s.logger(ctx).With(zap.String("pass_id", summary.RunID))

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		err     error
		results = make([][]runnerdomain.Report, len(jobs))
	)
	for i, job := range jobs {
		summary.Jobs = append(summary.Jobs, job.Name)
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			jobErr := s.runJob(ctx, job.Name, s.cfg.JobTimeout, func(ctx context.Context) error {
				reports, err := s.runner.RunBillingRoutine(ctx, job.Provider, job.Period, today)
				if run := jobRunFromContext(ctx); run != nil {
					run.AddProcessed(len(reports))
					run.AddErrors(len(runnerdomain.Failed(reports)))
				}
				results[i] = reports
				return err
			})
			if jobErr != nil {
				mu.Lock()
				err = errors.Join(err, jobErr)
				mu.Unlock()
			}
		}(i, job)
	}
	wg.Wait()

	summary.Reports = make([]runnerdomain.Report, 0)
	for _, reports := range results {
		summary.Reports = append(summary.Reports, reports...)
	}

	title := fmt.Sprintf("%s %s", s.cfg.ReportTitle, today.Format("2006-01-02"))
	if reportErr := s.reporter.OperatorReport(ctx, title, summary.Reports); reportErr != nil {
		log.Error("scheduler.report.failed", zap.Error(reportErr))
		err = errors.Join(err, fmt.Errorf("operator report: %w", reportErr))
	}

	if _, emitErr := s.events.Emit(ctx, eventdomain.RoutineCompleted, 0, "", map[string]any{
		"pass_id":  summary.RunID,
		"date":     today.Format("2006-01-02"),
		"jobs":     summary.Jobs,
		"accounts": len(summary.Reports),
		"failed":   summary.Failed(),
	}); emitErr != nil {
		log.Warn("scheduler.event.failed", zap.Error(emitErr))
	}

	log.Info("scheduler.pass.finish",
		zap.Strings("jobs", summary.Jobs),
		zap.Int("accounts", len(summary.Reports)),
		zap.Int("failed", summary.Failed()),
	)
	return summary, err
}

// today pins date to the billing timezone. An explicit date keeps its
// calendar day; only the clock's instant is converted.
func (s *Scheduler) today(date time.Time) time.Time {
	if date.IsZero() {
		return s.clock.Now().In(s.cfg.Location)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.cfg.Location)
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, job := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(job), name) {
			return true
		}
	}
	return false
}
