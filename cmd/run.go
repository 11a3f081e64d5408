package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medofficehq/chargerules/internal/execution"
	"github.com/medofficehq/chargerules/internal/lib"
	"github.com/medofficehq/chargerules/internal/models"
	"github.com/medofficehq/chargerules/internal/rules"
	"github.com/medofficehq/chargerules/internal/services"
	"github.com/medofficehq/chargerules/internal/ui"
)

var (
	runPatientsFile string
	runRules        []int
	runAddModifiers bool
	runRollback     bool
	runProjectID    string
	runProjectName  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run billing rules against a patient list",
	Long: `Run billing rules against the patients in a JSON file and print the
per-patient outcomes. The file holds an array of patient cases:

  [{"patientid": "123", "appointmentid": "456", "appointmentdate": "01/15/2026",
    "firstname": "Jane", "lastname": "Doe"}]`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runPatientsFile, "patients", "", "path to patients JSON file (required)")
	runCmd.Flags().IntSliceVar(&runRules, "rules", nil, "rule numbers to execute (required)")
	runCmd.Flags().BoolVar(&runAddModifiers, "add-modifiers", false, "apply modifiers instead of analysis only")
	runCmd.Flags().BoolVar(&runRollback, "rollback", false, "roll back previously applied modifiers")
	runCmd.Flags().StringVar(&runProjectID, "project-id", "", "project id to persist results under")
	runCmd.Flags().StringVar(&runProjectName, "project-name", "", "project name for the persisted run")
	_ = runCmd.MarkFlagRequired("patients")
	_ = runCmd.MarkFlagRequired("rules")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := lib.NewConsoleLogger(verbose)

	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	if err := config.Athena.Validate(); err != nil {
		return fmt.Errorf("athena configuration: %w", err)
	}

	data, err := os.ReadFile(runPatientsFile)
	if err != nil {
		return fmt.Errorf("failed to read patients file: %w", err)
	}
	var patients []models.PatientCase
	if err := json.Unmarshal(data, &patients); err != nil {
		return fmt.Errorf("failed to parse patients file: %w", err)
	}

	// A named project can be targeted by concurrent invocations; hold its
	// lock for the whole run. Generated project ids cannot collide.
	if runProjectID != "" {
		lockDir := filepath.Join(os.TempDir(), "chargerules-locks")
		return services.WithRunLock(lockDir, runProjectID, logger, func() error {
			return executeRun(cmd.Context(), config, patients, logger)
		})
	}
	return executeRun(cmd.Context(), config, patients, logger)
}

func executeRun(ctx context.Context, config *models.ProjectConfig, patients []models.PatientCase, logger zerolog.Logger) error {
	httpClient := services.NewHTTPClient(config.Athena.RequestTimeout(), config.Retry, logger)
	provider := services.NewAthenaClient(httpClient, config.Athena, logger)
	registry := rules.DefaultRegistry(provider)

	var store services.ResultStore
	if config.Database.URL != "" {
		pgStore, err := services.NewPostgresStore(ctx, config.Database, logger)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		store = services.NewMemoryStore()
	}

	tracker := execution.NewTracker()
	executor := execution.NewExecutor(registry, store, tracker, config.Execution, logger)

	submitted, err := executor.Submit(models.RunRequest{
		ProjectName:  runProjectName,
		ProjectID:    runProjectID,
		Rules:        runRules,
		AddModifiers: runAddModifiers,
		Patients:     patients,
		IsRollback:   runRollback,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Execution %s started (project %s)\n", submitted.ExecutionID, submitted.ProjectID)

	total := int64(len(patients) * len(runRules))
	bar := ui.NewRunBar(total, "executing rules")

	for {
		time.Sleep(250 * time.Millisecond)
		progress, ok := tracker.GetProgress(submitted.ExecutionID)
		if !ok {
			return fmt.Errorf("execution %s disappeared from tracker", submitted.ExecutionID)
		}
		_ = bar.Update(int64(progress.Overall.PatientsProcessed))
		if progress.Status.IsTerminal() {
			_ = bar.Finish()
			_ = bar.Clear()
			if progress.Status == models.ExecutionError && progress.ErrorMessage != "" {
				return fmt.Errorf("execution failed: %s", progress.ErrorMessage)
			}
			break
		}
	}

	run, err := executor.Result(context.Background(), submitted.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load results: %w", err)
	}

	fmt.Printf("\n%s (%s)\n", run.Message, ui.FormatDuration(bar.Elapsed()))
	for _, result := range run.Results {
		fmt.Printf("\nPatient %s (%s %s), appointment %s:\n",
			result.PatientID, result.FirstName, result.LastName, result.AppointmentID)
		for _, detail := range result.Details {
			fmt.Printf("  rule %d: [%s] %s\n", detail.RuleID, detail.Status, detail.Reason)
		}
	}
	if len(run.RulesWithErrors) > 0 {
		fmt.Printf("\nRules with errors: %v\n", run.RulesWithErrors)
	}

	return nil
}
