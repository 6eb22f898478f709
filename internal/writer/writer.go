// Package writer turns a query, the collected search summaries and any
// extracted product records into the structured report contract the emailer
// renders.
package writer

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/research-agent/internal/llm"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/pkg/anthropic"
)

// MaxReportLength caps the markdown body; longer reports are truncated with
// a visible marker instead of failing the job.
const MaxReportLength = 40_000

const truncationMarker = "[Gekuerzt]"

// parseAttempts bounds re-requests on malformed report JSON. Unlike product
// extraction, a report that never parses propagates as an error.
const parseAttempts = 2

const diySystemPrompt = "Du bist ein Heimwerker-Technikautor fuer Premium-Projekte. Erstelle einen ausfuehrlichen Markdown-Report (mindestens 1.800 bis 2.500 Woerter) mit folgenden Abschnitten: " +
	"1) H1-Projekttitel, 2) Executive Summary (5-7 Saetze), 3) Projektueberblick & Voraussetzungen, 4) Tabelle 'Material & Werkzeuge' mit Spalten Position, Spezifikation, Menge, Stueckpreis, Summe, " +
	"5) Schritt-fuer-Schritt-Anleitung (nummeriert, detailreich), 6) Zeit- & Kostenplan (Tabelle mit Puffer), 7) Qualitaetssicherung & typische Fehler, 8) Sicherheit (Schutz, Lueftung, Entsorgung), " +
	"9) Abschnitt 'Premium-Optionen' mit 3-5 kuratierten Optionen, 10) Pflege & Wartung, 11) FAQ. " +
	"Nutze klares Deutsch, sinnvolle Zwischenueberschriften (H2/H3), Tabellen, Listen und Zitat-Bloecke fuer Hinweise. " +
	"Antworte ausschliesslich mit einem JSON-Objekt (kein Text davor oder danach) mit den Feldern short_summary, markdown_report, followup_questions (4-6 Fragen) " +
	"und optional payload (strukturierter Report mit title, teaser, meta, preparation, shopping_list, step_by_step, quality_safety, time_cost, faq, followups)."

const kiControlSystemPrompt = "Du bist ein KI-Governance-Analyst. Erstelle einen strukturierten Markdown-Report zur Steuerung und Evaluierung von KI-Agenten im Heimwerker-Kontext. " +
	"Pflichtabschnitte: 1) Ziel & Kontext, 2) Steuerbare Aspekte (Tools, Prompts, Guardrails), 3) Risiken & Mitigations, 4) Metriken (Halluzination, Coverage, Freshness), " +
	"5) Evaluationsplan (Testfaelle, Akzeptanzkriterien), 6) Governance (Freigaben, Logging, Tracing), 7) Empfehlungen & Roadmap, 8) FAQ. " +
	"Nutze sachliches Deutsch, klare Listen, Tabellen und Hervorhebungen. " +
	"Antworte ausschliesslich mit JSON (short_summary, markdown_report, followup_questions mit 4-6 Fragen)."

// Writer generates reports.
type Writer struct {
	caller *llm.Caller
	model  string
}

// New creates a Writer.
func New(caller *llm.Caller, backendModel string) *Writer {
	return &Writer{caller: caller, model: backendModel}
}

// Write generates the report. Empty summaries are an error; the prompt
// template follows the classification category.
func (w *Writer) Write(ctx context.Context, query string, summaries []string, category model.Category, products []model.ProductItem) (model.ReportData, error) {
	if len(summaries) == 0 {
		return model.ReportData{}, eris.New("writer: no search results available")
	}

	input := map[string]any{
		"query":          query,
		"search_results": summaries,
	}
	if len(products) > 0 {
		input["products"] = products
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return model.ReportData{}, eris.Wrap(err, "writer: marshal report input")
	}

	req := anthropic.MessageRequest{
		Model:     w.model,
		MaxTokens: 16_384,
		System:    anthropic.BuildCachedSystemBlocks(systemPromptFor(category)),
		Messages: []anthropic.Message{
			{Role: "user", Content: "Hier sind Anfrage und Zusammenfassungen als JSON:\n" + string(payload)},
		},
	}

	var lastErr error
	for attempt := 0; attempt < parseAttempts; attempt++ {
		raw, err := w.caller.Complete(ctx, "writer", req)
		if err != nil {
			return model.ReportData{}, eris.Wrap(err, "writer: report request")
		}

		report, err := parseReport(raw)
		if err != nil {
			lastErr = err
			continue
		}
		return report, nil
	}
	return model.ReportData{}, eris.Wrap(lastErr, "writer: report response never parsed")
}

func systemPromptFor(category model.Category) string {
	if category == model.CategoryKIControl {
		return kiControlSystemPrompt
	}
	return diySystemPrompt
}

// parseReport decodes and validates one report response, applying the
// length cap to the markdown body.
func parseReport(raw string) (model.ReportData, error) {
	var report model.ReportData
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &report); err != nil {
		return model.ReportData{}, eris.Wrap(err, "writer: parse report response")
	}

	if strings.TrimSpace(report.MarkdownReport) == "" {
		return model.ReportData{}, eris.New("writer: report body is empty")
	}
	if strings.TrimSpace(report.ShortSummary) == "" {
		return model.ReportData{}, eris.New("writer: short summary is empty")
	}
	if len(report.FollowupQuestions) < 4 || len(report.FollowupQuestions) > 6 {
		return model.ReportData{}, eris.Errorf("writer: expected 4-6 followup questions, got %d", len(report.FollowupQuestions))
	}

	if len(report.MarkdownReport) > MaxReportLength {
		cut := MaxReportLength - len(truncationMarker)
		for cut > 0 && !utf8.RuneStart(report.MarkdownReport[cut]) {
			cut--
		}
		report.MarkdownReport = report.MarkdownReport[:cut] + truncationMarker
	}
	return report, nil
}
