// Package guard classifies inbound queries and audits generated reports
// against the content policy. Both checks run on the completion backend and
// fail closed: a guard that cannot produce a valid verdict returns an error
// instead of a permissive default.
package guard

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/research-agent/internal/llm"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/pkg/anthropic"
)

const classifySystemPrompt = "Klassifiziere die Nutzeranfrage eindeutig: DIY, KI_CONTROL (Meta-Themen wie KI-Steuerung/Evaluierung, Guardrails, Orchestrierung), " +
	"REJECT (alles andere). DIY umfasst klassische Heimwerker-Arbeiten in Haus, Wohnung oder Garten (z. B. Laminat verlegen, Waschbecken tauschen, Regale montieren, Streichen, Reparaturen). " +
	"Nur REJECT, wenn es um fachfremde Themen wie Medizin, Finanzen, kontroverse Politik, illegale Inhalte oder riskante Arbeiten geht, die ohne Fachkraft nicht erlaubt sind. " +
	"Antworte nur als JSON mit den Feldern 'category' und 'reasons' (Liste von Begruendungen)."

const auditSystemPrompt = "Pruefe den Markdown-Report auf Richtlinien. Erlaubt: DIY-Inhalte oder Meta-Bewertungen zu KI-Steuerung. " +
	"Verboten: unsichere Anleitungen (Elektrik/Gas ohne Fachkraft und Warnhinweise), medizinische/finanzielle Beratung, personenbezogene Daten. " +
	"Antworte nur als JSON mit 'allowed', 'category' (DIY, KI_CONTROL, UNKNOWN) und 'issues'."

// Guard runs the input classification and output audit calls.
type Guard struct {
	caller *llm.Caller
	model  string
}

// New creates a Guard backed by the given caller and model.
func New(caller *llm.Caller, backendModel string) *Guard {
	return &Guard{caller: caller, model: backendModel}
}

// Classify assigns the query to one of the closed categories.
func (g *Guard) Classify(ctx context.Context, query string) (model.GuardResult, error) {
	var result model.GuardResult

	text, err := g.caller.Complete(ctx, "input_guard", anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: 1024,
		System:    anthropic.BuildCachedSystemBlocks(classifySystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: query},
		},
		Temperature: zeroTemperature(),
	})
	if err != nil {
		return result, eris.Wrap(err, "guard: classify query")
	}
	if strings.TrimSpace(text) == "" {
		return result, eris.New("guard: empty classifier response")
	}

	if err := json.Unmarshal([]byte(llm.CleanJSON(text)), &result); err != nil {
		return result, eris.Wrap(err, "guard: parse classifier response")
	}
	if err := validateCategory(result.Category, false); err != nil {
		return model.GuardResult{}, err
	}
	if len(result.Reasons) == 0 {
		return model.GuardResult{}, eris.New("guard: classifier returned no reasons")
	}
	return result, nil
}

// Audit checks the generated report against the content policy.
func (g *Guard) Audit(ctx context.Context, query, reportMarkdown string) (model.AuditResult, error) {
	var result model.AuditResult

	payload, err := json.Marshal(map[string]string{
		"query":  query,
		"report": reportMarkdown,
	})
	if err != nil {
		return result, eris.Wrap(err, "guard: marshal audit input")
	}

	text, err := g.caller.Complete(ctx, "output_guard", anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: 1024,
		System:    anthropic.BuildCachedSystemBlocks(auditSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: string(payload)},
		},
		Temperature: zeroTemperature(),
	})
	if err != nil {
		return result, eris.Wrap(err, "guard: audit report")
	}
	if strings.TrimSpace(text) == "" {
		return result, eris.New("guard: empty auditor response")
	}

	if err := json.Unmarshal([]byte(llm.CleanJSON(text)), &result); err != nil {
		return result, eris.Wrap(err, "guard: parse auditor response")
	}
	if err := validateCategory(result.Category, true); err != nil {
		return model.AuditResult{}, err
	}
	return result, nil
}

// validateCategory enforces the closed vocabulary. The auditor may report
// UNKNOWN; the classifier may not.
func validateCategory(c model.Category, allowUnknown bool) error {
	switch c {
	case model.CategoryDIY, model.CategoryKIControl:
		return nil
	case model.CategoryReject:
		if !allowUnknown {
			return nil
		}
	case model.CategoryUnknown:
		if allowUnknown {
			return nil
		}
	}
	return eris.Errorf("guard: unexpected category %q", string(c))
}

func zeroTemperature() *float64 {
	t := 0.0
	return &t
}
