package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/status"
)

var servePort int

// jobRunner is what the front door needs from the state machine.
type jobRunner interface {
	RunJob(ctx context.Context, jobID, query, toEmail string)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP front door",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(ctx, env.Store, env.Orchestrator, cfg.Server.CORSOrigins),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the front-door routes. jobCtx is the base context jobs
// detach onto; it outlives individual requests.
func newRouter(jobCtx context.Context, store status.Store, runner jobRunner, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/start_research", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Query string `json:"query"`
			Email string `json:"email"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if strings.TrimSpace(body.Query) == "" || strings.TrimSpace(body.Email) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query and email are required"})
			return
		}

		jobID := uuid.NewString()
		store.Set(jobID, model.PhaseQueued, "", nil)

		go runner.RunJob(jobCtx, jobID, body.Query, body.Email)

		zap.L().Info("job accepted",
			zap.String("job_id", jobID),
			zap.String("query", body.Query),
		)
		writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
	})

	r.Get("/status/{job_id}", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, store.Get(chi.URLParam(req, "job_id")))
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
