package service

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
)

var (
	twelve  = decimal.NewFromInt(12)
	hundred = decimal.NewFromInt(100)
)

var labels = map[chargedomain.ChargeKind]string{
	chargedomain.SaasFee:               "Licencia de software Alima",
	chargedomain.FinanceFee:            "Modulo de finanzas Alima",
	chargedomain.ReportsFee:            "Modulo de reportes Alima",
	chargedomain.MarketplaceCommission: "Comision por venta en marketplace",
	chargedomain.InvoiceFolioFee:       "Folios de facturacion adicionales",
}

func labelFor(kind chargedomain.ChargeKind, charge chargedomain.Charge) string {
	if desc := strings.TrimSpace(charge.Description); desc != "" {
		return desc
	}
	if label, ok := labels[kind]; ok {
		return label
	}
	return string(kind)
}

// ComputeFeeCharge prices a per-unit fee. Discounts are applied in the
// order given and the discounted base never drops below zero.
func ComputeFeeCharge(
	kind chargedomain.ChargeKind,
	charge chargedomain.Charge,
	unitCount int64,
	discounts []chargedomain.ChargeDiscount,
	annual bool,
	vat decimal.Decimal,
) chargedomain.LineItem {
	unit := charge.Amount
	if annual {
		unit = unit.Mul(twelve)
	}
	quantity := decimal.NewFromInt(unitCount)
	return discounted(kind, charge, quantity, unit, discounts, annual, vat)
}

// ComputeReportsCharge prices the flat reports fee: one unit monthly, twelve
// when billed annually.
func ComputeReportsCharge(
	charge chargedomain.Charge,
	discounts []chargedomain.ChargeDiscount,
	annual bool,
	vat decimal.Decimal,
) chargedomain.LineItem {
	quantity := decimal.NewFromInt(1)
	if annual {
		quantity = twelve
	}
	return discounted(chargedomain.ReportsFee, charge, quantity, charge.Amount, discounts, annual, vat)
}

func discounted(
	kind chargedomain.ChargeKind,
	charge chargedomain.Charge,
	quantity, unit decimal.Decimal,
	discounts []chargedomain.ChargeDiscount,
	annual bool,
	vat decimal.Decimal,
) chargedomain.LineItem {
	base := quantity.Mul(unit)
	label := labelFor(kind, charge)

	for _, d := range discounts {
		switch d.AmountKind {
		case chargedomain.Fixed:
			amount := d.Amount
			if annual {
				amount = amount.Mul(twelve)
			}
			base = base.Sub(amount)
			label += fmt.Sprintf(" (descuento $%s)", amount.StringFixed(2))
		case chargedomain.Percentage:
			base = base.Mul(decimal.NewFromInt(1).Sub(d.Amount))
			label += fmt.Sprintf(" (descuento %s%%)", d.Amount.Mul(hundred).String())
		}
	}
	if base.IsNegative() {
		base = decimal.Zero
	}

	return finish(kind, charge, label, quantity, unit, base, vat)
}

// ComputeCommissionCharge prices the legacy marketplace commission on GMV.
// Discounts do not apply.
func ComputeCommissionCharge(charge chargedomain.Charge, gmv decimal.Decimal, vat decimal.Decimal) chargedomain.LineItem {
	base := gmv.Mul(charge.Amount)
	if base.IsNegative() {
		base = decimal.Zero
	}
	label := fmt.Sprintf("%s (%s%% sobre $%s)", labelFor(chargedomain.MarketplaceCommission, charge),
		charge.Amount.Mul(hundred).String(), gmv.StringFixed(2))
	return finish(chargedomain.MarketplaceCommission, charge, label, decimal.NewFromInt(1), base, base, vat)
}

// ComputeFolioOverage prices folios issued beyond allotment*cedis. ok is
// false when usage stays within the allotment.
func ComputeFolioOverage(
	charge chargedomain.Charge,
	folioCount, cedis, allotment int64,
	vat decimal.Decimal,
) (chargedomain.LineItem, bool) {
	excess := folioCount - allotment*cedis
	if excess <= 0 {
		return chargedomain.LineItem{}, false
	}
	quantity := decimal.NewFromInt(excess)
	label := fmt.Sprintf("%s (%d folios)", labelFor(chargedomain.InvoiceFolioFee, charge), excess)
	return finish(chargedomain.InvoiceFolioFee, charge, label, quantity, charge.Amount, quantity.Mul(charge.Amount), vat), true
}

func finish(
	kind chargedomain.ChargeKind,
	charge chargedomain.Charge,
	label string,
	quantity, unit, base decimal.Decimal,
	vat decimal.Decimal,
) chargedomain.LineItem {
	total := base.Mul(decimal.NewFromInt(1).Add(vat)).Round(2)
	subtotal := base.Round(2)
	return chargedomain.LineItem{
		ChargeID:   charge.ID,
		Kind:       kind,
		Label:      label,
		Quantity:   quantity,
		UnitAmount: unit,
		AmountKind: charge.AmountKind,
		Subtotal:   subtotal,
		Tax:        total.Sub(subtotal),
		Total:      total,
		Currency:   charge.Currency,
	}
}

// DueInput is everything a plan needs to price one period.
type DueInput struct {
	Charges        []chargedomain.Charge
	Discounts      map[snowflake.ID][]chargedomain.ChargeDiscount
	Cedis          int64
	Usage          chargedomain.Usage
	VAT            decimal.Decimal
	FolioAllotment int64
	Currency       string
}

// TotalDue dispatches every active charge through the plan's strategy and
// sums the resulting line items. Charges the plan does not bill are skipped.
func TotalDue(plan chargedomain.PlanKind, in DueInput) (chargedomain.Due, error) {
	strategy, err := chargedomain.StrategyFor(plan)
	if err != nil {
		return chargedomain.Due{}, err
	}

	due := chargedomain.Due{Total: decimal.Zero, Currency: in.Currency}
	for _, charge := range in.Charges {
		if !charge.Active || !strategy.Applies(charge.Kind) {
			continue
		}
		discounts := in.Discounts[charge.ID]

		var (
			line chargedomain.LineItem
			ok   = true
		)
		switch charge.Kind {
		case chargedomain.SaasFee, chargedomain.FinanceFee:
			line = ComputeFeeCharge(charge.Kind, charge, in.Cedis, discounts, strategy.Annual, in.VAT)
		case chargedomain.ReportsFee:
			line = ComputeReportsCharge(charge, discounts, strategy.Annual, in.VAT)
		case chargedomain.MarketplaceCommission:
			line = ComputeCommissionCharge(charge, in.Usage.GMV, in.VAT)
		case chargedomain.InvoiceFolioFee:
			line, ok = ComputeFolioOverage(charge, in.Usage.Folios, in.Cedis, in.FolioAllotment, in.VAT)
		default:
			ok = false
		}
		if !ok || line.Total.IsZero() {
			continue
		}
		if due.Currency == "" {
			due.Currency = line.Currency
		}
		due.Lines = append(due.Lines, line)
		due.Total = due.Total.Add(line.Total)
	}
	return due, nil
}
