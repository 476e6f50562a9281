package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/alima/internal/observability/metrics"
)

var (
	ErrRoutineNotImplemented = fmt.Errorf("billing_routine_not_implemented: %w", obsmetrics.ErrNotImplemented)
	ErrInvalidConfig         = errors.New("invalid_billing_runner_config")
	ErrNothingToInvoice      = errors.New("nothing_to_invoice")
	ErrAccountInactive       = errors.New("account_inactive")
)

// Report summarises the outcome of one account in one routine execution.
// Reports are never persisted.
type Report struct {
	AccountID    snowflake.ID `json:"account_id"`
	CustomerName string       `json:"customer_name"`
	InvoiceLabel string       `json:"invoice_label"`
	Provider     string       `json:"provider"`
	Period       string       `json:"period"`
	Outcome      string       `json:"outcome"`
	Success      bool         `json:"success"`
	Reason       string       `json:"reason"`
	ExecutedAt   time.Time    `json:"executed_at"`
}

// Failed returns the reports that need operator follow up.
func Failed(reports []Report) []Report {
	out := make([]Report, 0)
	for _, r := range reports {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}
