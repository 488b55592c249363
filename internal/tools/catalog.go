package tools

import (
	"errors"

	"github.com/gammarips/tool-service/internal/store"
)

// Deps are the backends the tool catalog reads from. A nil backend leaves its
// tools unregistered.
type Deps struct {
	Warehouse  store.Warehouse
	PriceTable string
	Analysis   AnalysisStore
	Search     WebSearcher
	// Policy overrides the embedded support policy document.
	Policy string
}

// Catalog returns every tool the deps can serve.
func Catalog(deps Deps) []Descriptor {
	var out []Descriptor
	if deps.Warehouse != nil {
		out = append(out,
			winnersDashboard(deps.Warehouse),
			performanceTracker(deps.Warehouse),
			performanceSummary(deps.Warehouse),
			marketEvents(deps.Warehouse),
			marketStructure(deps.Warehouse),
			priceQuery(deps.Warehouse, deps.PriceTable),
		)
	}
	if deps.Analysis != nil {
		out = append(out,
			technicalAnalysis(deps.Analysis),
			macroThesis(deps.Analysis),
			stockAnalysis(deps.Analysis),
		)
		for _, kind := range analysisKinds {
			out = append(out, tickerAnalysis(deps.Analysis, kind))
		}
	}
	if deps.Search != nil {
		out = append(out, webSearch(deps.Search))
	}
	out = append(out, supportPolicyTool(deps.Policy))
	return out
}

// RegisterCatalog registers Catalog(deps) into r.
func RegisterCatalog(r *Registry, deps Deps) error {
	var errs []error
	for _, d := range Catalog(deps) {
		if err := r.Register(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
