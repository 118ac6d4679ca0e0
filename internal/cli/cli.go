package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	internal_http "github.com/ACUY-D/MULTI-AGENT-CODE-sub001/internal/http"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/internal/log"
	internal_storage "github.com/ACUY-D/MULTI-AGENT-CODE-sub001/internal/storage"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/checkpoint"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/models"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/orchestrator"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/pipeline"
)

// SetupCLI registers the pipeline commands on the root command.
func SetupCLI(rootCmd *cobra.Command) {
	logger := log.New()

	rootCmd.PersistentFlags().String("db", "", "Postgres connection string (optional; file store is used without it)")
	rootCmd.PersistentFlags().String("checkpoint-dir", ".checkpoints", "Directory for file-based checkpoints")

	runCmd := &cobra.Command{
		Use:   "run [objective]",
		Short: "Run a pipeline for the given objective",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mode, _ := cmd.Flags().GetString("mode")
			store := initStore(cmd, logger)
			orch := newOrchestrator(store, logger)
			result, err := orch.Run(context.Background(), args[0], orchestrator.Mode(mode))
			if err != nil {
				logger.Errorf("Pipeline failed: %v", err)
				fmt.Fprintf(os.Stderr, "Error: pipeline failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Pipeline %s completed (%d phases)\n",
				result.PipelineID, len(result.CompletedPhases))
			if result.LastCheckpointID != "" {
				fmt.Fprintf(os.Stdout, "Last checkpoint: %s\n", result.LastCheckpointID)
			}
		},
	}
	runCmd.Flags().String("mode", string(orchestrator.ModeAuto), "Run mode: auto, semi or dry-run")

	resumeCmd := &cobra.Command{
		Use:   "resume [checkpoint-id]",
		Short: "Resume a pipeline from a checkpoint",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mode, _ := cmd.Flags().GetString("mode")
			store := initStore(cmd, logger)
			orch := newOrchestrator(store, logger)
			result, err := orch.ResumeFromCheckpoint(context.Background(), args[0], orchestrator.Mode(mode))
			if err != nil {
				logger.Errorf("Resume failed: %v", err)
				fmt.Fprintf(os.Stderr, "Error: resume failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Pipeline %s completed (%d phases)\n",
				result.PipelineID, len(result.CompletedPhases))
		},
	}
	resumeCmd.Flags().String("mode", string(orchestrator.ModeAuto), "Run mode: auto, semi or dry-run")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline status API",
		Run: func(cmd *cobra.Command, args []string) {
			port, _ := cmd.Flags().GetString("port")
			store := initStore(cmd, logger)
			orch := newOrchestrator(store, logger)
			if err := internal_http.StartServer(port, orch, store, logger); err != nil {
				logger.Errorf("Server failed: %v", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("port", "8080", "Port to listen on")

	checkpointsCmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect stored checkpoints",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			pipelineID, _ := cmd.Flags().GetString("pipeline")
			store := initStore(cmd, logger)
			metas, err := store.List(context.Background(), pipelineID)
			if err != nil {
				logger.Errorf("Failed to list checkpoints: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list checkpoints: %v\n", err)
				os.Exit(1)
			}
			if len(metas) == 0 {
				fmt.Fprintf(os.Stdout, "No checkpoints found.\n")
				return
			}
			fmt.Fprintf(os.Stdout, "Checkpoints:\n")
			for _, meta := range metas {
				fmt.Fprintf(os.Stdout, "- ID: %s, Pipeline: %s, Created: %s, Size: %d\n",
					meta.ID, meta.PipelineID, meta.Timestamp.Format(time.RFC3339), meta.Size)
			}
		},
	}
	listCmd.Flags().String("pipeline", "", "Filter by pipeline id")

	validateCmd := &cobra.Command{
		Use:   "validate [checkpoint-id]",
		Short: "Check that a checkpoint is loadable",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd, logger)
			if !store.Validate(context.Background(), args[0]) {
				fmt.Fprintf(os.Stdout, "Checkpoint %s is INVALID\n", args[0])
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Checkpoint %s is valid\n", args[0])
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [checkpoint-id]",
		Short: "Delete a checkpoint",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd, logger)
			if err := store.Delete(context.Background(), args[0]); err != nil {
				logger.Errorf("Failed to delete checkpoint: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to delete checkpoint: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Deleted checkpoint %s\n", args[0])
		},
	}

	checkpointsCmd.AddCommand(listCmd, validateCmd, deleteCmd)
	rootCmd.AddCommand(runCmd, resumeCmd, serveCmd, checkpointsCmd)
}

// initStore picks the checkpoint backend: Postgres when --db is given,
// otherwise the file store under --checkpoint-dir.
func initStore(cmd *cobra.Command, logger *logrus.Logger) checkpoint.Store {
	cfg := models.DefaultConfig()
	dbConnStr, _ := cmd.Flags().GetString("db")
	if dbConnStr != "" {
		store, err := internal_storage.NewPostgresStore(internal_storage.PostgresConfig{
			ConnStr:   dbConnStr,
			Compress:  true,
			MaxCount:  cfg.CheckpointMaxCount,
			Retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
			MaxBytes:  cfg.MaxTotalBytes,
		}, logger)
		if err != nil {
			logger.Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		return store
	}
	dir, _ := cmd.Flags().GetString("checkpoint-dir")
	if dir == "" {
		dir = ".checkpoints"
	}
	store, err := checkpoint.NewFileStore(checkpoint.FileStoreConfig{
		Dir:       dir,
		Compress:  true,
		MaxCount:  cfg.CheckpointMaxCount,
		Retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		MaxBytes:  cfg.MaxTotalBytes,
	}, logger)
	if err != nil {
		logger.Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}

// newOrchestrator wires a ready-to-run engine with one general-purpose
// worker per phase task type. Objective content generation stays behind
// the planner; the CLI ships a pass-through one.
func newOrchestrator(store checkpoint.Store, logger *logrus.Logger) *orchestrator.Orchestrator {
	workers := []models.Worker{
		orchestrator.NewFuncWorker("worker-1", nil, passThrough),
		orchestrator.NewFuncWorker("worker-2", nil, passThrough),
	}
	return orchestrator.New(models.DefaultConfig(), store, phasePlanner{}, workers, logger)
}

func passThrough(ctx context.Context, t *models.Task) (models.TaskResult, error) {
	return t.Input, nil
}

// phasePlanner emits one bookkeeping task per phase so the engine
// exercises scheduling, checkpointing and progress end to end.
type phasePlanner struct{}

func (phasePlanner) PlanPhase(ctx context.Context, phase string, run *pipeline.RunContext) ([]*models.Task, error) {
	return []*models.Task{{
		ID:       phase + "-main",
		Name:     phase,
		Type:     "generic",
		Priority: models.MediumPriority,
		Input:    map[string]interface{}{"objective": run.Objective, "phase": phase},
	}}, nil
}
