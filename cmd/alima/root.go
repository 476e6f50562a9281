package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/alima/internal/account"
	"github.com/smallbiznis/alima/internal/billingevent"
	"github.com/smallbiznis/alima/internal/billingrunner"
	"github.com/smallbiznis/alima/internal/charge"
	"github.com/smallbiznis/alima/internal/clock"
	"github.com/smallbiznis/alima/internal/config"
	"github.com/smallbiznis/alima/internal/invoice"
	"github.com/smallbiznis/alima/internal/lock"
	"github.com/smallbiznis/alima/internal/migration"
	"github.com/smallbiznis/alima/internal/notification"
	"github.com/smallbiznis/alima/internal/observability"
	"github.com/smallbiznis/alima/internal/payment"
	"github.com/smallbiznis/alima/internal/providers"
	"github.com/smallbiznis/alima/internal/scheduler"
	"github.com/smallbiznis/alima/internal/taxinvoice"
	"github.com/smallbiznis/alima/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:           "alima",
	Short:         "Alima account billing",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// billingOptions wires everything a billing pass needs. Commands add their
// own surfaces on top.
func billingOptions(extra ...fx.Option) fx.Option {
	return fx.Options(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		lock.Module,
		providers.Module,

		// Functional Domains
		account.Module,
		charge.Module,
		invoice.Module,
		payment.Module,
		taxinvoice.Module,
		notification.Module,
		billingevent.Module,
		billingrunner.Module,
		scheduler.Module,

		fx.Options(extra...),
	)
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
