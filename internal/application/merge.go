package application

import (
	"slices"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

// Record is anything the merge engine can unify.
type Record interface {
	Key() model.RecordKey
	RecordSource() model.Provider
}

// Policy names the primary provider per category. A primary provider's
// record wins its key whenever one is present.
type Policy struct {
	primary map[model.Category]model.Provider
}

// DefaultPolicy prefers the dedicated tracker for body metrics and the food
// diary for intake categories.
func DefaultPolicy() Policy {
	return Policy{primary: map[model.Category]model.Provider{
		model.CategoryActivity:  model.ProviderFitbit,
		model.CategorySleep:     model.ProviderFitbit,
		model.CategoryHeartRate: model.ProviderFitbit,
		model.CategoryNutrition: model.ProviderMyFitnessPal,
		model.CategoryWater:     model.ProviderMyFitnessPal,
		model.CategoryWeight:    model.ProviderMyFitnessPal,
	}}
}

// WithOverrides returns a copy of p with the given primaries replaced.
func (p Policy) WithOverrides(overrides map[model.Category]model.Provider) Policy {
	out := Policy{primary: make(map[model.Category]model.Provider, len(p.primary)+len(overrides))}
	for c, prov := range p.primary {
		out.primary[c] = prov
	}
	for c, prov := range overrides {
		out.primary[c] = prov
	}
	return out
}

// Primary returns the primary provider for c, if one is set.
func (p Policy) Primary(c model.Category) (model.Provider, bool) {
	prov, ok := p.primary[c]
	return prov, ok
}

// sourceRank orders sources for the fallback rule: enumeration order, then
// manual, then anything unrecognized.
func sourceRank(src model.Provider) int {
	providers := model.Providers()
	if i := slices.Index(providers, src); i >= 0 {
		return i
	}
	if src == model.SourceManual {
		return len(providers)
	}
	return len(providers) + 1
}

// Merge unifies per-provider record lists into at most one record per key.
// For each key: manual records are dropped when any other source has one;
// the category's primary provider wins if present; otherwise the source
// earliest in enumeration order wins. The result is sorted by date then
// time and does not depend on the order of the inputs.
func Merge[R Record](policy Policy, category model.Category, recordsByProvider ...[]R) []R {
	primary, hasPrimary := policy.Primary(category)

	best := make(map[model.RecordKey]R)
	for _, records := range recordsByProvider {
		for _, rec := range records {
			k := rec.Key()
			cur, ok := best[k]
			if !ok || beats(rec, cur, primary, hasPrimary) {
				best[k] = rec
			}
		}
	}

	out := make([]R, 0, len(best))
	for _, rec := range best {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b R) int {
		ka, kb := a.Key(), b.Key()
		switch {
		case ka.Less(kb):
			return -1
		case kb.Less(ka):
			return 1
		default:
			return 0
		}
	})
	return out
}

// beats reports whether candidate should replace current for the same key.
// Ties keep current, so the first record seen from a source stands.
func beats[R Record](candidate, current R, primary model.Provider, hasPrimary bool) bool {
	cs, os := candidate.RecordSource(), current.RecordSource()
	if cs == os {
		return false
	}

	cManual, oManual := cs == model.SourceManual, os == model.SourceManual
	if cManual != oManual {
		return oManual
	}

	if hasPrimary {
		if cs == primary {
			return true
		}
		if os == primary {
			return false
		}
	}

	return sourceRank(cs) < sourceRank(os)
}
