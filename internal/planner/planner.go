// Package planner derives a structured search plan from a user query. The
// backend produces the plan as JSON; malformed responses are retried with a
// sharpened prompt before a heuristic fallback plan keeps the job moving.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/llm"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/pkg/anthropic"
)

// parseAttempts is how often a malformed plan response is re-requested
// before falling back to the heuristic plan.
const parseAttempts = 3

// ErrRejected reports that the model refused the query as out of scope.
var ErrRejected = eris.New("planner: model rejected the request as out of scope")

// Planner turns a query into a SearchPlan.
type Planner struct {
	caller  *llm.Caller
	model   string
	howMany int
}

// New creates a Planner requesting howMany searches per plan.
func New(caller *llm.Caller, backendModel string, howMany int) *Planner {
	if howMany <= 0 || howMany > model.MaxPlanSize {
		howMany = 3
	}
	return &Planner{caller: caller, model: backendModel, howMany: howMany}
}

// Plan derives the search plan for a query. The model gets parseAttempts
// chances to produce a valid plan of the requested size; after that a
// heuristic plan built from standard facets is returned so one flaky plan
// response does not fail the whole job.
func (p *Planner) Plan(ctx context.Context, query string) (model.SearchPlan, error) {
	var lastErr error
	for attempt := 0; attempt < parseAttempts; attempt++ {
		raw, err := p.invoke(ctx, query, attempt)
		if err != nil {
			return model.SearchPlan{}, err
		}

		if strings.Contains(strings.ToUpper(raw), "REJECT") {
			return model.SearchPlan{}, ErrRejected
		}

		var plan model.SearchPlan
		if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &plan); err != nil {
			lastErr = eris.Wrap(err, "planner: parse plan response")
			continue
		}
		if err := plan.Validate(); err != nil {
			lastErr = err
			continue
		}
		if len(plan.Tasks) != p.howMany {
			lastErr = eris.Errorf("planner: expected %d searches, got %d", p.howMany, len(plan.Tasks))
			continue
		}

		return ensurePremiumSlot(plan, query), nil
	}

	zap.L().Warn("planner: falling back to heuristic plan",
		zap.String("query", query),
		zap.Error(lastErr),
	)
	if fallback, ok := p.heuristicPlan(query); ok {
		return ensurePremiumSlot(fallback, query), nil
	}
	return model.SearchPlan{}, eris.Wrap(lastErr, "planner: no valid plan produced")
}

func (p *Planner) invoke(ctx context.Context, query string, attempt int) (string, error) {
	systemPrompt := fmt.Sprintf(
		"Du bist ein Planer fuer Heimwerker-Recherchen. Erzeuge exakt %d Suchanfragen als JSON im Format "+
			"{\"searches\": [{\"reason\": \"...\", \"query\": \"...\"}]}. "+
			"Das Feld 'reason' benennt die Recherche-Facette und darf sich nicht wiederholen. "+
			"Nur Heimwerker- und DIY-Themen sind zulaessig. Antworte nur mit 'REJECT', wenn das Anliegen eindeutig nicht DIY ist.",
		p.howMany,
	)
	switch attempt {
	case 1:
		systemPrompt += " Bedenke: Laminat verlegen, bauen, reparieren etc. sind typische DIY-Themen."
	case 2:
		systemPrompt += " Stelle sicher, dass du ausschliesslich die JSON-Struktur ohne umgebenden Text erzeugst."
	}

	text, err := p.caller.Complete(ctx, "planner", anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: 2048,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: query},
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "planner: plan request")
	}
	return text, nil
}

// heuristicPlan builds an emergency plan from standard facets so the flow
// does not block on a persistently malformed model response.
func (p *Planner) heuristicPlan(query string) (model.SearchPlan, bool) {
	seeds := []model.SearchTask{
		{Tag: model.TagMaterials, Query: "Materialien und Werkzeuge fuer " + query},
		{Tag: model.TagExecution, Query: "Anleitung " + query},
		{Tag: model.TagSafety, Query: "Sicherheitscheck " + query},
	}
	if p.howMany < len(seeds) {
		seeds = seeds[:p.howMany]
	}

	plan := model.SearchPlan{Tasks: seeds}
	if err := plan.Validate(); err != nil {
		return model.SearchPlan{}, false
	}
	return plan, true
}

// premiumKeywords mark queries that warrant an extra brand-comparison search.
var premiumKeywords = []string{"laminat", "parkett", "material", "boden"}

// ensurePremiumSlot appends the premium brand-comparison facet for
// material-related queries unless the plan already carries it.
func ensurePremiumSlot(plan model.SearchPlan, query string) model.SearchPlan {
	lowered := strings.ToLower(query)
	match := false
	for _, kw := range premiumKeywords {
		if strings.Contains(lowered, kw) {
			match = true
			break
		}
	}
	if !match {
		return plan
	}

	for _, task := range plan.Tasks {
		if strings.EqualFold(string(task.Tag), string(model.TagPremium)) {
			return plan
		}
	}
	plan.Tasks = append(plan.Tasks, model.SearchTask{
		Tag:   model.TagPremium,
		Query: "Premium Laminat Markenvergleich " + query,
	})
	return plan
}
