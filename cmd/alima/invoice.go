package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/alima/internal/billingrunner/service"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	invoiceAccount     string
	invoiceMonth       int
	invoiceYear        int
	invoiceTerm        string
	invoicePaid        bool
	invoiceTransaction string
)

var invoiceCmd = &cobra.Command{
	Use:   "invoice",
	Short: "Issue the invoice of one account and period",
	Long: `Compute the period's charges of an account, issue its CFDI and email it.

Examples:
  alima invoice --account 1759000000000000000 --month 3 --year 2024
  alima invoice --account 1759000000000000000 --month 3 --year 2024 --term pue --paid --transaction pi_123`,
	RunE: runInvoice,
}

func init() {
	rootCmd.AddCommand(invoiceCmd)

	invoiceCmd.Flags().StringVar(&invoiceAccount, "account", "", "paid account id")
	invoiceCmd.Flags().IntVar(&invoiceMonth, "month", 0, "period month 1-12")
	invoiceCmd.Flags().IntVar(&invoiceYear, "year", 0, "period year")
	invoiceCmd.Flags().StringVar(&invoiceTerm, "term", "ppd", "payment term: ppd or pue")
	invoiceCmd.Flags().BoolVar(&invoicePaid, "paid", false, "record the invoice as paid")
	invoiceCmd.Flags().StringVar(&invoiceTransaction, "transaction", "", "payment transaction id")
	_ = invoiceCmd.MarkFlagRequired("account")
	_ = invoiceCmd.MarkFlagRequired("month")
	_ = invoiceCmd.MarkFlagRequired("year")
}

func runInvoice(cmd *cobra.Command, args []string) error {
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceAccount))
	if err != nil {
		return fmt.Errorf("invalid --account: %w", err)
	}
	req := service.ManualInvoiceRequest{
		AccountID:     id,
		Month:         invoiceMonth,
		Year:          invoiceYear,
		Term:          invoicedomain.PaymentTerm(strings.ToUpper(strings.TrimSpace(invoiceTerm))),
		Paid:          invoicePaid,
		TransactionID: strings.TrimSpace(invoiceTransaction),
	}

	var runner *service.Runner
	return oneShot(cmd.Context(), fx.Populate(&runner), func(ctx context.Context) error {
		out, err := runner.InvoiceAccount(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "invoice %s issued, folio %s, sent to %s\n",
			out.InvoiceID, out.Folio, strings.Join(out.Recipients, ", "))
		if out.NotifyErr != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "email not sent: %v\n", out.NotifyErr)
		}
		return nil
	})
}
