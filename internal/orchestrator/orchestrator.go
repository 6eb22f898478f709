// Package orchestrator drives one research job through its phases:
// queued, planning, searching, writing, email, done, with the terminal
// short-circuits rejected and error. All collaborators are injected as
// interfaces; results surface exclusively through the status store.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/sanitize"
	"github.com/sells-group/research-agent/internal/status"
)

// Classifier decides whether a query is in scope and which category it
// belongs to.
type Classifier interface {
	Classify(ctx context.Context, query string) (model.GuardResult, error)
}

// Planner derives the search plan for an accepted query.
type Planner interface {
	Plan(ctx context.Context, query string) (model.SearchPlan, error)
}

// Searcher runs the plan fan-out and the optional product enrichment pass.
type Searcher interface {
	ExecutePlan(ctx context.Context, plan model.SearchPlan) ([]string, []model.ProductItem, error)
	ProductEnrichment(ctx context.Context, query string, summaries []string) ([]model.ProductItem, error)
}

// Writer generates the structured report.
type Writer interface {
	Write(ctx context.Context, query string, summaries []string, category model.Category, products []model.ProductItem) (model.ReportData, error)
}

// Auditor checks the generated report against the content policy.
type Auditor interface {
	Audit(ctx context.Context, query, reportMarkdown string) (model.AuditResult, error)
}

// Mailer delivers the finished report.
type Mailer interface {
	Deliver(ctx context.Context, report model.ReportData, toEmail string, products []model.ProductItem) (model.DeliveryResult, error)
}

// Orchestrator owns the job state machine.
type Orchestrator struct {
	store      status.Store
	classifier Classifier
	planner    Planner
	searcher   Searcher
	writer     Writer
	auditor    Auditor
	mailer     Mailer
	cleaner    *sanitize.Cleaner
}

// New wires the state machine to its collaborators.
func New(store status.Store, classifier Classifier, planner Planner, searcher Searcher, writer Writer, auditor Auditor, mailer Mailer, cleaner *sanitize.Cleaner) *Orchestrator {
	if cleaner == nil {
		cleaner = sanitize.NewCleaner(nil)
	}
	return &Orchestrator{
		store:      store,
		classifier: classifier,
		planner:    planner,
		searcher:   searcher,
		writer:     writer,
		auditor:    auditor,
		mailer:     mailer,
		cleaner:    cleaner,
	}
}

// RunJob drives one job end to end. It never returns an error: every
// failure, including panics from collaborators, is recorded as the terminal
// error phase on the status store, since the job runs detached from the
// caller that created it.
func (o *Orchestrator) RunJob(ctx context.Context, jobID, query, toEmail string) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("orchestrator: job panicked",
				zap.String("job_id", jobID),
				zap.Any("panic", r),
			)
			o.store.Set(jobID, model.PhaseError, fmt.Sprintf("panic: %v", r), nil)
		}
	}()

	if err := o.run(ctx, jobID, query, toEmail); err != nil {
		zap.L().Error("orchestrator: job failed",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		o.store.Set(jobID, model.PhaseError, err.Error(), nil)
	}
}

func (o *Orchestrator) run(ctx context.Context, jobID, query, toEmail string) error {
	o.store.Set(jobID, model.PhasePlanning, "", nil)

	guard, err := o.classifier.Classify(ctx, query)
	if err != nil {
		return err
	}
	if guard.Category == model.CategoryReject {
		o.store.Set(jobID, model.PhaseRejected, "Kein zulässiger Scope: "+strings.Join(guard.Reasons, "; "), nil)
		return nil
	}
	o.store.Set(jobID, model.PhasePlanning, "Kategorie: "+string(guard.Category), nil)

	plan, err := o.planner.Plan(ctx, query)
	if err != nil {
		return err
	}

	o.store.Set(jobID, model.PhaseSearching, "", nil)
	summaries, products, err := o.searcher.ExecutePlan(ctx, plan)
	if err != nil {
		return err
	}

	if guard.Category == model.CategoryDIY && len(products) == 0 {
		enriched, err := o.searcher.ProductEnrichment(ctx, query, summaries)
		if err != nil {
			return err
		}
		products = enriched
	}

	o.store.Set(jobID, model.PhaseWriting, "", nil)
	report, err := o.writer.Write(ctx, query, summaries, guard.Category, products)
	if err != nil {
		return err
	}
	report = mergeProducts(o.cleaner, report, products)

	audit, err := o.auditor.Audit(ctx, query, report.MarkdownReport)
	if err != nil {
		return err
	}
	if !audit.Allowed {
		o.store.Set(jobID, model.PhaseRejected, "Policy: "+strings.Join(audit.Issues, "; "), nil)
		return nil
	}

	o.store.Set(jobID, model.PhaseEmail, "", nil)
	delivery, err := o.mailer.Deliver(ctx, report, toEmail, products)
	if err != nil {
		return err
	}

	o.store.Set(jobID, model.PhaseDone, "", donePayload(report, products, delivery))
	return nil
}

// mergeProducts refreshes the writer's shopping list with the sanitized
// product records. Writer-authored metadata survives; price and URL come
// from the fresh records.
func mergeProducts(cleaner *sanitize.Cleaner, report model.ReportData, products []model.ProductItem) model.ReportData {
	if report.Payload == nil || len(products) == 0 {
		return report
	}
	payload := *report.Payload
	payload.ShoppingList.Items = cleaner.MergeShoppingItems(payload.ShoppingList.Items, products)
	report.Payload = &payload
	return report
}

func donePayload(report model.ReportData, products []model.ProductItem, delivery model.DeliveryResult) map[string]any {
	payload := map[string]any{
		"product_results": products,
		"report":          report,
	}
	if len(delivery.Links) > 0 {
		payload["links"] = delivery.Links
	}
	return payload
}
