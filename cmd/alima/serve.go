package main

import (
	"github.com/smallbiznis/alima/internal/scheduler"
	"github.com/smallbiznis/alima/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daily billing scheduler and the admin HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(billingOptions(
			scheduler.CronModule,
			server.Module,
		))
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
