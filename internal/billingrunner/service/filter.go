package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	"github.com/smallbiznis/alima/internal/billingperiod"
	invoicedomain "github.com/smallbiznis/alima/internal/invoice/domain"
)

// DueAccount is an account whose cycle fired, with the period it targets.
type DueAccount struct {
	Account accountdomain.BillingAccount
	Month   time.Month
	Year    int
	Label   string
	// Invoice is the active, still unpaid invoice of the period, if any.
	Invoice *invoicedomain.Invoice
}

// FilterPastDue keeps the accounts whose cycle is due on today.
func FilterPastDue(accounts []accountdomain.BillingAccount, period billingperiod.Period, today time.Time) []DueAccount {
	out := make([]DueAccount, 0, len(accounts))
	for _, acc := range accounts {
		ok, month, year := billingperiod.Due(period, today, acc.Account.CreatedAt)
		if !ok {
			continue
		}
		out = append(out, DueAccount{
			Account: acc,
			Month:   month,
			Year:    year,
			Label:   billingperiod.Label(month, year),
		})
	}
	return out
}

// FilterNotInvoiced drops accounts that already have an active invoice for
// their target period. With includeUnpaid, accounts whose active invoice is
// still unpaid are kept and carry that invoice.
func (r *Runner) FilterNotInvoiced(ctx context.Context, due []DueAccount, period billingperiod.Period, today time.Time, includeUnpaid bool) ([]DueAccount, error) {
	if len(due) == 0 {
		return []DueAccount{}, nil
	}
	ids := make([]snowflake.ID, 0, len(due))
	for _, d := range due {
		ids = append(ids, d.Account.Account.ID)
	}
	from, until := billingperiod.LedgerWindow(period, today)
	invoices, err := r.ledger.FetchInvoices(ctx, ids, from, until)
	if err != nil {
		return nil, err
	}

	type periodKey struct {
		account snowflake.ID
		label   string
	}
	active := make(map[periodKey]invoicedomain.Invoice, len(invoices))
	for _, inv := range invoices {
		if inv.Status != invoicedomain.InvoiceStatusActive {
			continue
		}
		active[periodKey{inv.PaidAccountID, inv.InvoicePeriod}] = inv
	}

	var statuses map[snowflake.ID]invoicedomain.Paystatus
	if includeUnpaid && len(active) > 0 {
		invoiceIDs := make([]snowflake.ID, 0, len(active))
		for _, inv := range active {
			invoiceIDs = append(invoiceIDs, inv.ID)
		}
		statuses, err = r.ledger.FetchInvoicePaystatuses(ctx, invoiceIDs)
		if err != nil {
			return nil, err
		}
	}

	out := make([]DueAccount, 0, len(due))
	for _, d := range due {
		inv, invoiced := active[periodKey{d.Account.Account.ID, d.Label}]
		if !invoiced {
			out = append(out, d)
			continue
		}
		if !includeUnpaid {
			continue
		}
		if current, ok := statuses[inv.ID]; ok && current.Status == invoicedomain.PayStatusPaid {
			continue
		}
		d.Invoice = &inv
		out = append(out, d)
	}
	return out, nil
}
