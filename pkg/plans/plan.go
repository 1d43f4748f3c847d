package plans

import (
	"errors"
	"fmt"
	"strings"
)

// Plan identifies a subscription tier.
type Plan string

const (
	PlanFree  Plan = "free"
	PlanBasic Plan = "basic"
	PlanPro   Plan = "pro"
)

// ParsePlan accepts a plan name in any letter case.
func ParsePlan(s string) (Plan, error) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanFree, PlanBasic, PlanPro:
		return p, nil
	}
	return "", errors.Join(ErrInvalidPlan, fmt.Errorf("unknown plan %q", s))
}

func (p Plan) String() string { return string(p) }

// IsPaid reports whether the plan is sold through the billing provider.
func (p Plan) IsPaid() bool { return p == PlanBasic || p == PlanPro }

// Cycle is a billing interval of a paid plan.
type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleYearly  Cycle = "yearly"
)

// ParseCycle accepts the canonical names and the provider interval aliases
// ("month", "year", "annual").
func ParseCycle(s string) (Cycle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "monthly", "month":
		return CycleMonthly, nil
	case "yearly", "year", "annual", "annually":
		return CycleYearly, nil
	}
	return "", errors.Join(ErrInvalidCycle, fmt.Errorf("unknown billing cycle %q", s))
}

func (c Cycle) String() string { return string(c) }

// Ref names a plan sold at a specific cycle.
type Ref struct {
	Plan  Plan
	Cycle Cycle
}
