package main

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/config"
	"github.com/sells-group/research-agent/internal/emailer"
	"github.com/sells-group/research-agent/internal/guard"
	"github.com/sells-group/research-agent/internal/llm"
	"github.com/sells-group/research-agent/internal/orchestrator"
	"github.com/sells-group/research-agent/internal/planner"
	"github.com/sells-group/research-agent/internal/sanitize"
	"github.com/sells-group/research-agent/internal/search"
	"github.com/sells-group/research-agent/internal/status"
	"github.com/sells-group/research-agent/internal/trace"
	"github.com/sells-group/research-agent/internal/writer"
	"github.com/sells-group/research-agent/pkg/anthropic"
	"github.com/sells-group/research-agent/pkg/sendgrid"
)

// env is the composition root: every collaborator is constructed here and
// injected explicitly, nothing reaches for process-global handles.
type env struct {
	Store        status.Store
	Orchestrator *orchestrator.Orchestrator
}

func initEnv(c *config.Config) (*env, error) {
	if c.Backend.Key == "" {
		return nil, eris.New("backend.key is not set (RESEARCH_BACKEND_KEY)")
	}

	store, err := newStore(c.Status)
	if err != nil {
		return nil, err
	}

	var recorder *trace.Recorder
	if c.Trace.Enabled {
		recorder, err = trace.NewRecorder(c.Trace.Dir, c.Trace.Raw)
		if err != nil {
			return nil, eris.Wrap(err, "init trace recorder")
		}
	}

	backend := anthropic.NewClient(c.Backend.Key)
	caller := llm.NewCaller(
		backend,
		recorder,
		time.Duration(c.Search.TimeoutSecs)*time.Second,
		c.Search.MaxAttempts,
		c.Backend.WebToolTypes,
	)

	cleaner := sanitize.NewCleaner(c.Sanitize.AllowedDomains)
	gate := search.NewGate(c.Search.MaxConcurrency)

	guards := guard.New(caller, c.Backend.GuardModel)
	mailer := emailer.New(
		sendgrid.NewClient(c.SendGrid.Key,
			sendgrid.WithBaseURL(c.SendGrid.BaseURL),
			sendgrid.WithRateLimit(c.SendGrid.RPS),
		),
		c.SendGrid.FromEmail,
		"DIY Research",
	)

	orch := orchestrator.New(
		store,
		guards,
		planner.New(caller, c.Backend.PlannerModel, c.Search.HowManyTasks),
		search.New(caller, c.Backend.SearchModel, cleaner, gate, c.Sanitize.MaxProducts),
		writer.New(caller, c.Backend.WriterModel),
		guards,
		mailer,
		cleaner,
	)

	zap.L().Info("environment initialized",
		zap.String("status_driver", c.Status.Driver),
		zap.Int("max_concurrency", c.Search.MaxConcurrency),
		zap.Strings("web_tool_types", c.Backend.WebToolTypes),
	)

	return &env{Store: store, Orchestrator: orch}, nil
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close status store", zap.Error(err))
	}
}

func newStore(c config.StatusConfig) (status.Store, error) {
	switch c.Driver {
	case "", "memory":
		return status.NewMemoryStore(), nil
	case "sqlite":
		return status.NewSQLite(c.SQLitePath)
	default:
		return nil, eris.Errorf("unknown status driver %q", c.Driver)
	}
}
