package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/model"
	"gopkg.in/yaml.v3"
)

var (
	runQuery    string
	runEmail    string
	runSettings string
)

// settingsBundle overrides the configured per-agent models for a single run.
type settingsBundle struct {
	PlannerModel string `yaml:"planner_model"`
	SearchModel  string `yaml:"search_model"`
	WriterModel  string `yaml:"writer_model"`
	GuardModel   string `yaml:"guard_model"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single research job from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runQuery == "" {
			return eris.New("--query is required")
		}
		if runEmail == "" {
			return eris.New("--email is required")
		}

		if runSettings != "" {
			if err := applySettingsBundle(runSettings); err != nil {
				return err
			}
		}

		env, err := initEnv(cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		jobID := uuid.NewString()
		env.Store.Set(jobID, model.PhaseQueued, "", nil)

		zap.L().Info("running job",
			zap.String("job_id", jobID),
			zap.String("query", runQuery),
		)
		env.Orchestrator.RunJob(cmd.Context(), jobID, runQuery, runEmail)

		final := env.Store.Get(jobID)
		out, err := json.MarshalIndent(final, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal final status")
		}
		fmt.Println(string(out))

		if final.Phase == model.PhaseError {
			return eris.Errorf("job ended in error: %s", final.Detail)
		}
		return nil
	},
}

// applySettingsBundle reads a YAML model-settings file and overrides the
// per-agent models for this invocation.
func applySettingsBundle(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read settings bundle %s", path)
	}

	var bundle settingsBundle
	if err := yaml.Unmarshal(raw, &bundle); err != nil {
		return eris.Wrapf(err, "parse settings bundle %s", path)
	}

	if bundle.PlannerModel != "" {
		cfg.Backend.PlannerModel = bundle.PlannerModel
	}
	if bundle.SearchModel != "" {
		cfg.Backend.SearchModel = bundle.SearchModel
	}
	if bundle.WriterModel != "" {
		cfg.Backend.WriterModel = bundle.WriterModel
	}
	if bundle.GuardModel != "" {
		cfg.Backend.GuardModel = bundle.GuardModel
	}
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runQuery, "query", "", "research query")
	runCmd.Flags().StringVar(&runEmail, "email", "", "destination email address")
	runCmd.Flags().StringVar(&runSettings, "settings", "", "YAML file overriding per-agent models")
	rootCmd.AddCommand(runCmd)
}
