// Package search executes a SearchPlan as a bounded-concurrency fan-out
// against the completion backend's web-search tooling. Plain tasks produce
// prose summaries in plan order; product tasks produce sanitized retailer
// records. A shared Gate keeps the number of in-flight calls at the
// configured limit regardless of plan size.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/research-agent/internal/llm"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/sanitize"
	"github.com/sells-group/research-agent/pkg/anthropic"
)

// productParseAttempts bounds the re-requests on malformed extraction
// responses before the task degrades to an empty record list.
const productParseAttempts = 2

const summarySystemPrompt = "Du bist ein Heimwerker-Rechercheur. Fasse fuer die folgende Suchanfrage die wichtigsten Erkenntnisse in 2-3 Absaetzen zusammen. " +
	"Bleibe strikt bei DIY-Inhalten und vermeide fachfremde Hinweise."

const productSystemPrompt = "Du bist ein Einkaufsassistent fuer Bauhaus-Produkte. Suche konkrete, aktuell erhaeltliche Produkte und antworte nur als JSON " +
	"im Format {\"items\": [{\"title\": \"...\", \"url\": \"...\", \"note\": \"...\", \"price_text\": \"...\"}]}. " +
	"Nur Links auf bauhaus.info, bauhaus.de oder bauhaus.at sind zulaessig. Gib hoechstens 8 Produkte zurueck."

// Searcher runs search fan-outs.
type Searcher struct {
	caller  *llm.Caller
	model   string
	cleaner *sanitize.Cleaner
	gate    *Gate

	maxProducts int
}

// New creates a Searcher. maxProducts caps the merged record list per
// fan-out; non-positive values use the sanitize default.
func New(caller *llm.Caller, backendModel string, cleaner *sanitize.Cleaner, gate *Gate, maxProducts int) *Searcher {
	if maxProducts <= 0 {
		maxProducts = sanitize.DefaultMaxProducts
	}
	return &Searcher{
		caller:      caller,
		model:       backendModel,
		cleaner:     cleaner,
		gate:        gate,
		maxProducts: maxProducts,
	}
}

// ExecutePlan runs every task of the plan concurrently under the gate.
// Summaries are positional: summaries[i] belongs to plan.Tasks[i] for any
// completion interleaving. Product records are collected in completion order
// and deduplicated by canonical URL before returning. An empty plan is an
// error.
func (s *Searcher) ExecutePlan(ctx context.Context, plan model.SearchPlan) ([]string, []model.ProductItem, error) {
	if len(plan.Tasks) == 0 {
		return nil, nil, eris.New("search: no searches planned")
	}

	summaries := make([]string, len(plan.Tasks))
	var (
		mu       sync.Mutex
		products []model.ProductItem
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, task := range plan.Tasks {
		g.Go(func() error {
			if err := s.gate.Acquire(gctx); err != nil {
				return eris.Wrapf(err, "search: acquire gate for %q", task.Query)
			}
			defer s.gate.Release()

			if isProductSearch(task) {
				items, err := s.searchProducts(gctx, task.Query, "")
				if err != nil {
					return err
				}
				summaries[i] = fmt.Sprintf("Produktrecherche %q: %d geprüfte Produkte.", task.Query, len(items))
				mu.Lock()
				products = append(products, items...)
				mu.Unlock()
				return nil
			}

			summary, err := s.summarize(gctx, task)
			if err != nil {
				return err
			}
			summaries[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return summaries, s.cleaner.SanitizeProducts(products, s.maxProducts), nil
}

// ProductEnrichment requests one additional structured extraction grounded
// on the already-collected summaries. It is used when the classification
// category calls for purchasable-item enrichment the plan did not cover.
func (s *Searcher) ProductEnrichment(ctx context.Context, query string, summaries []string) ([]model.ProductItem, error) {
	if err := s.gate.Acquire(ctx); err != nil {
		return nil, eris.Wrapf(err, "search: acquire gate for enrichment of %q", query)
	}
	defer s.gate.Release()

	grounding, err := json.Marshal(map[string]any{
		"projekt":           query,
		"zusammenfassungen": summaries,
	})
	if err != nil {
		return nil, eris.Wrap(err, "search: marshal enrichment grounding")
	}

	items, err := s.searchProducts(ctx, "Einkaufsliste "+query+" site:bauhaus.info", string(grounding))
	if err != nil {
		return nil, err
	}
	return s.cleaner.SanitizeProducts(items, s.maxProducts), nil
}

// summarize runs one plain search task through the fallback cascade.
func (s *Searcher) summarize(ctx context.Context, task model.SearchTask) (string, error) {
	text, err := s.caller.SearchWithFallback(ctx, "search", task.Query, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: 2048,
		System:    anthropic.BuildCachedSystemBlocks(summarySystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: "Suchanfrage: " + task.Query},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// searchProducts runs one structured-extraction call. Transport failures
// propagate; malformed payloads are re-requested productParseAttempts times
// and then degrade to an empty list so one bad extraction never fails the
// whole fan-out.
func (s *Searcher) searchProducts(ctx context.Context, query, grounding string) ([]model.ProductItem, error) {
	content := "Suchanfrage: " + query
	if grounding != "" {
		content += "\nKontext aus der bisherigen Recherche:\n" + grounding
	}
	req := anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: 2048,
		System:    anthropic.BuildCachedSystemBlocks(productSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: content},
		},
	}

	var lastParseErr error
	for attempt := 0; attempt <= productParseAttempts; attempt++ {
		raw, err := s.caller.SearchWithFallback(ctx, "product_search", query, req)
		if err != nil {
			return nil, err
		}

		items, err := parseProductResponse(raw)
		if err == nil {
			return s.cleaner.SanitizeProducts(items, s.maxProducts), nil
		}
		lastParseErr = err
	}

	zap.L().Warn("search: product extraction kept returning malformed payloads, degrading to empty result",
		zap.String("query", query),
		zap.Error(lastParseErr),
	)
	return nil, nil
}

// isProductSearch routes tasks to structured extraction: either the
// shopping-list facet or an explicit retailer site query.
func isProductSearch(task model.SearchTask) bool {
	if strings.EqualFold(string(task.Tag), string(model.TagShoppingList)) {
		return true
	}
	return strings.Contains(strings.ToLower(task.Query), "site:bauhaus.")
}

// parseProductResponse decodes the extraction payload. Records are returned
// unsanitized; the caller owns allow-listing and dedup.
func parseProductResponse(raw string) ([]model.ProductItem, error) {
	var payload struct {
		Items []model.ProductItem `json:"items"`
	}
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &payload); err != nil {
		return nil, eris.Wrap(err, "search: parse product response")
	}
	if payload.Items == nil {
		return nil, eris.New("search: product response has no items field")
	}
	return payload.Items, nil
}
