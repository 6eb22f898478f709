package model

import (
	"github.com/rotisserie/eris"
)

// SearchTag labels the research facet a planned search covers. Tags are a
// closed planning vocabulary, not free text.
type SearchTag string

const (
	TagPreparation  SearchTag = "Vorbereitung & Planung"
	TagMaterials    SearchTag = "Material & Werkzeuge"
	TagSafety       SearchTag = "Sicherheit & Umwelt"
	TagDemolition   SearchTag = "Demontage/Untergrund"
	TagExecution    SearchTag = "Schritt-für-Schritt-Ausführung"
	TagQuality      SearchTag = "Qualität & Kontrolle"
	TagTimeCost     SearchTag = "Zeit & Kosten"
	TagUpgrades     SearchTag = "Optionen & Upgrades"
	TagMaintenance  SearchTag = "Pflege & Wartung"
	TagVisualGuide  SearchTag = "Visual Guide"
	TagShoppingList SearchTag = "Einkaufsliste Bauhaus"
	TagPremium      SearchTag = "Premium-Optionen und Markenvergleich"
)

// AllSearchTags returns the full planning vocabulary.
func AllSearchTags() []SearchTag {
	return []SearchTag{
		TagPreparation, TagMaterials, TagSafety, TagDemolition,
		TagExecution, TagQuality, TagTimeCost, TagUpgrades,
		TagMaintenance, TagVisualGuide, TagShoppingList, TagPremium,
	}
}

// SearchTask is a single planned search.
type SearchTask struct {
	Tag   SearchTag `json:"reason"`
	Query string    `json:"query"`
}

// SearchPlan is the ordered set of searches derived from a user query.
type SearchPlan struct {
	Tasks []SearchTask `json:"searches"`
}

// MaxPlanSize bounds how many searches a single plan may carry.
const MaxPlanSize = 10

// Validate enforces the plan contract: 1..MaxPlanSize tasks, non-empty
// queries, and no duplicate tags (a duplicate tag indicates a planning
// defect, since tags are facets).
func (p SearchPlan) Validate() error {
	if len(p.Tasks) == 0 {
		return eris.New("plan: no searches planned")
	}
	if len(p.Tasks) > MaxPlanSize {
		return eris.Errorf("plan: %d searches exceeds the maximum of %d", len(p.Tasks), MaxPlanSize)
	}
	seen := make(map[SearchTag]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.Query == "" {
			return eris.Errorf("plan: empty query for tag %q", t.Tag)
		}
		if seen[t.Tag] {
			return eris.Errorf("plan: duplicate tag %q", t.Tag)
		}
		seen[t.Tag] = true
	}
	return nil
}
