package api

import (
	"cmp"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/quotakit/pkg/plans"
)

type planView struct {
	Plan   plans.Plan                   `json:"plan"`
	Name   string                       `json:"name"`
	Quotas plans.Quotas                 `json:"quotas"`
	Prices map[plans.Cycle][]priceEntry `json:"prices,omitempty"`
}

type priceEntry struct {
	Currency string `json:"currency"`
	PriceID  string `json:"priceId"`
}

type priceView struct {
	Plan     plans.Plan  `json:"plan"`
	Cycle    plans.Cycle `json:"cycle"`
	Currency string      `json:"currency"`
	PriceID  string      `json:"priceId"`
}

func (s *server) handleListPlans(w http.ResponseWriter, _ *http.Request) {
	specs := s.ledger.Catalog().Specs()
	out := make([]planView, 0, len(specs))
	for _, spec := range specs {
		v := planView{Plan: spec.Plan, Name: spec.Name, Quotas: spec.Quotas}
		for cycle, byCurrency := range spec.Prices {
			if v.Prices == nil {
				v.Prices = make(map[plans.Cycle][]priceEntry, len(spec.Prices))
			}
			for cur, id := range byCurrency {
				v.Prices[cycle] = append(v.Prices[cycle], priceEntry{Currency: cur, PriceID: id})
			}
			slices.SortFunc(v.Prices[cycle], func(a, b priceEntry) int { return cmp.Compare(a.Currency, b.Currency) })
		}
		out = append(out, v)
	}
	writeData(w, http.StatusOK, out)
}

// handlePrice resolves ?cycle= (default monthly) and ?currency= (default
// USD) to the provider price id of a paid plan.
func (s *server) handlePrice(w http.ResponseWriter, r *http.Request) {
	plan, err := plans.ParsePlan(chi.URLParam(r, "plan"))
	if err != nil {
		writeErr(w, err)
		return
	}

	q := r.URL.Query()
	cycle := plans.CycleMonthly
	if c := q.Get("cycle"); c != "" {
		if cycle, err = plans.ParseCycle(c); err != nil {
			writeErr(w, err)
			return
		}
	}
	cur := q.Get("currency")
	if cur == "" {
		cur = "USD"
	}

	id, err := s.ledger.Catalog().PriceIDFor(plan, cycle, cur)
	if err != nil {
		writeErr(w, err)
		return
	}
	normalized, _ := plans.NormalizeCurrency(cur)
	writeData(w, http.StatusOK, priceView{Plan: plan, Cycle: cycle, Currency: normalized, PriceID: id})
}
