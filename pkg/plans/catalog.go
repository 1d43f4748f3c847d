package plans

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/currency"
)

// Spec describes one plan of the catalog.
// Prices maps a billing cycle to provider price identifiers keyed by
// ISO 4217 currency code.
type Spec struct {
	Plan   Plan
	Name   string
	Quotas Quotas
	Prices map[Cycle]map[string]string
}

// Catalog is an immutable mapping of plans to quotas and provider prices.
// It is safe for concurrent use.
type Catalog struct {
	specs   map[Plan]Spec
	byPrice map[string]Ref
}

// DefaultSpecs is the built-in catalog. Price identifiers are empty, so
// deployments selling paid plans load a catalog file.
func DefaultSpecs() []Spec {
	return []Spec{
		{Plan: PlanFree, Name: "Free", Quotas: Quotas{Images: Limited(20), Text: Limited(10)}},
		{Plan: PlanBasic, Name: "Basic", Quotas: Quotas{Images: Limited(300), Text: Limited(100)}},
		{Plan: PlanPro, Name: "Pro", Quotas: UnlimitedQuotas()},
	}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(DefaultSpecs()...)
	if err != nil {
		panic(err)
	}
	return c
}

// New validates the specs and builds a catalog. Every plan must be defined
// exactly once, price identifiers must be unique, and the free plan may not
// carry prices. Pro is always unlimited regardless of the quotas given.
func New(specs ...Spec) (*Catalog, error) {
	c := &Catalog{
		specs:   make(map[Plan]Spec, len(specs)),
		byPrice: make(map[string]Ref),
	}

	for _, s := range specs {
		if _, err := ParsePlan(string(s.Plan)); err != nil {
			return nil, errors.Join(ErrInvalidCatalog, err)
		}
		if _, dup := c.specs[s.Plan]; dup {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %q defined twice", s.Plan))
		}
		if s.Plan == PlanPro {
			s.Quotas = UnlimitedQuotas()
		}
		if s.Plan == PlanFree && len(s.Prices) > 0 {
			return nil, errors.Join(ErrInvalidCatalog, errors.New("free plan cannot have prices"))
		}

		prices := make(map[Cycle]map[string]string, len(s.Prices))
		for rawCycle, byCurrency := range s.Prices {
			cycle, err := ParseCycle(string(rawCycle))
			if err != nil {
				return nil, errors.Join(ErrInvalidCatalog, err)
			}
			if _, dup := prices[cycle]; dup {
				return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %q prices cycle %q twice", s.Plan, cycle))
			}
			normalized := make(map[string]string, len(byCurrency))
			for cur, priceID := range byCurrency {
				code, err := NormalizeCurrency(cur)
				if err != nil {
					return nil, errors.Join(ErrInvalidCatalog, err)
				}
				if _, dup := normalized[code]; dup {
					return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %q prices %s/%s twice", s.Plan, cycle, code))
				}
				if priceID == "" {
					continue
				}
				if prev, dup := c.byPrice[priceID]; dup {
					return nil, errors.Join(ErrInvalidCatalog,
						fmt.Errorf("price %q used by %s/%s and %s/%s", priceID, prev.Plan, prev.Cycle, s.Plan, cycle))
				}
				c.byPrice[priceID] = Ref{Plan: s.Plan, Cycle: cycle}
				normalized[code] = priceID
			}
			prices[cycle] = normalized
		}
		s.Prices = prices
		c.specs[s.Plan] = s
	}

	for _, p := range []Plan{PlanFree, PlanBasic, PlanPro} {
		if _, ok := c.specs[p]; !ok {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %q is missing", p))
		}
	}

	return c, nil
}

// QuotasFor returns the quotas granted by the plan on every reset.
func (c *Catalog) QuotasFor(p Plan) (Quotas, error) {
	s, ok := c.specs[p]
	if !ok {
		return Quotas{}, errors.Join(ErrNotFound, fmt.Errorf("plan %q", p))
	}
	return s.Quotas, nil
}

// PriceIDFor returns the provider price identifier for a paid plan.
func (c *Catalog) PriceIDFor(p Plan, cycle Cycle, cur string) (string, error) {
	code, err := NormalizeCurrency(cur)
	if err != nil {
		return "", err
	}
	s, ok := c.specs[p]
	if !ok || !p.IsPaid() {
		return "", errors.Join(ErrNotFound, fmt.Errorf("no prices for plan %q", p))
	}
	id, ok := s.Prices[cycle][code]
	if !ok {
		return "", errors.Join(ErrNotFound, fmt.Errorf("no %s price for %s/%s", code, p, cycle))
	}
	return id, nil
}

// PlanFor resolves a provider price identifier back to a plan and cycle.
func (c *Catalog) PlanFor(priceID string) (Ref, error) {
	ref, ok := c.byPrice[priceID]
	if !ok {
		return Ref{}, errors.Join(ErrNotFound, fmt.Errorf("price %q", priceID))
	}
	return ref, nil
}

// Specs lists the catalog ordered free, basic, pro.
func (c *Catalog) Specs() []Spec {
	out := make([]Spec, 0, len(c.specs))
	for _, s := range c.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return rank(out[i].Plan) < rank(out[j].Plan) })
	return out
}

func rank(p Plan) int {
	switch p {
	case PlanFree:
		return 0
	case PlanBasic:
		return 1
	}
	return 2
}

// NormalizeCurrency validates an ISO 4217 code and returns it upper-cased.
func NormalizeCurrency(cur string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(cur))
	if err != nil {
		return "", errors.Join(ErrInvalidCurrency, fmt.Errorf("currency %q: %w", cur, err))
	}
	return unit.String(), nil
}
