package domain

type PlanKind string

const (
	PlanCommercial       PlanKind = "commercial"
	PlanPro              PlanKind = "pro"
	PlanCommercialAnnual PlanKind = "commercial_annual"
	PlanProAnnual        PlanKind = "pro_annual"
	// PlanStandard is the legacy commission based plan.
	PlanStandard PlanKind = "standard"
)

// Strategy describes how a plan turns active charges into a period total.
type Strategy struct {
	Annual bool
	kinds  map[ChargeKind]struct{}
}

// Applies reports whether charges of kind are billed under the plan.
func (s Strategy) Applies(kind ChargeKind) bool {
	_, ok := s.kinds[kind]
	return ok
}

func kinds(list ...ChargeKind) map[ChargeKind]struct{} {
	out := make(map[ChargeKind]struct{}, len(list))
	for _, k := range list {
		out[k] = struct{}{}
	}
	return out
}

var strategies = map[PlanKind]Strategy{
	PlanCommercial: {
		kinds: kinds(SaasFee, InvoiceFolioFee),
	},
	PlanPro: {
		kinds: kinds(SaasFee, FinanceFee, ReportsFee, InvoiceFolioFee),
	},
	PlanCommercialAnnual: {
		Annual: true,
		kinds:  kinds(SaasFee),
	},
	PlanProAnnual: {
		Annual: true,
		kinds:  kinds(SaasFee, FinanceFee, ReportsFee),
	},
	PlanStandard: {
		kinds: kinds(SaasFee, MarketplaceCommission),
	},
}

// StrategyFor returns the computation strategy of a plan.
func StrategyFor(plan PlanKind) (Strategy, error) {
	s, ok := strategies[plan]
	if !ok {
		return Strategy{}, ErrPlanNotValid
	}
	return s, nil
}

func (p PlanKind) Valid() bool {
	_, ok := strategies[p]
	return ok
}

// PlansFor lists the plans billed on the given cadence.
func PlansFor(annual bool) []PlanKind {
	out := make([]PlanKind, 0, len(strategies))
	for _, plan := range []PlanKind{PlanCommercial, PlanPro, PlanStandard, PlanCommercialAnnual, PlanProAnnual} {
		if strategies[plan].Annual == annual {
			out = append(out, plan)
		}
	}
	return out
}
