package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	"github.com/smallbiznis/alima/internal/billingperiod"
	"github.com/smallbiznis/alima/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	runProvider string
	runPeriod   string
	runDate     string
	runAll      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a billing routine once and email the report",
	Long: `Run one billing routine, or every routine with --all, print the
per-account report and email it to operators.

Examples:
  alima run --provider stripe_card --period monthly
  alima run --provider stripe_spei --period annual --date 2024-04-17
  alima run --all`,
	RunE: runRoutine,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runProvider, "provider", "", "pay provider: stripe_card or stripe_spei")
	runCmd.Flags().StringVar(&runPeriod, "period", "monthly", "billing period: monthly or annual")
	runCmd.Flags().StringVar(&runDate, "date", "", "billing date YYYY-MM-DD, defaults to today")
	runCmd.Flags().BoolVar(&runAll, "all", false, "run every routine of the daily pass")
}

func runRoutine(cmd *cobra.Command, args []string) error {
	var date time.Time
	if runDate != "" {
		parsed, err := time.Parse(time.DateOnly, runDate)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
		date = parsed
	}
	var (
		provider accountdomain.PayProvider
		period   billingperiod.Period
		err      error
	)
	if !runAll {
		if provider, err = accountdomain.ParsePayProvider(runProvider); err != nil {
			return fmt.Errorf("invalid --provider %q: %w", runProvider, err)
		}
		if period, err = billingperiod.ParsePeriod(runPeriod); err != nil {
			return fmt.Errorf("invalid --period %q: %w", runPeriod, err)
		}
	}

	var sched *scheduler.Scheduler
	return oneShot(cmd.Context(), fx.Populate(&sched), func(ctx context.Context) error {
		var summary scheduler.Summary
		var runErr error
		if runAll {
			summary, runErr = sched.RunOnce(ctx, date)
		} else {
			summary, runErr = sched.RunRoutine(ctx, provider, period, date)
		}
		printSummary(cmd.OutOrStdout(), summary)
		return runErr
	})
}

func printSummary(out io.Writer, summary scheduler.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tCUSTOMER\tPERIOD\tROUTINE\tOUTCOME\tOK\tREASON")
	for _, r := range summary.Reports {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s/%s\t%s\t%t\t%s\n",
			r.AccountID, r.CustomerName, r.InvoiceLabel, r.Period, r.Provider, r.Outcome, r.Success, r.Reason)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d accounts, %d need follow up\n", len(summary.Reports), summary.Failed())
}

// oneShot starts the billing graph, runs fn and stops it again.
func oneShot(parent context.Context, populate fx.Option, fn func(ctx context.Context) error) error {
	if parent == nil {
		parent = context.Background()
	}
	app := fx.New(billingOptions(populate))
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(parent, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	runErr := fn(parent)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
