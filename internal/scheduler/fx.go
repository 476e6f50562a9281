package scheduler

import (
	"context"

	"github.com/smallbiznis/alima/internal/billingevent"
	"github.com/smallbiznis/alima/internal/billingrunner/service"
	"github.com/smallbiznis/alima/internal/notification"
	"go.uber.org/fx"
)

// Module provides the scheduler without starting the cron loop, for one-shot
// commands.
var Module = fx.Module("scheduler",
	fx.Provide(
		ProvideConfig,
		provideRunner,
		provideReporter,
		provideEmitter,
		New,
	),
)

func provideRunner(r *service.Runner) Runner           { return r }
func provideReporter(n *notification.Service) Reporter { return n }
func provideEmitter(e *billingevent.Emitter) Emitter   { return e }

// CronModule starts the daily pass with the application lifecycle.
var CronModule = fx.Module("scheduler.cron",
	fx.Invoke(RegisterCron),
)

func RegisterCron(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sched.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return sched.Stop(ctx)
		},
	})
}
