package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/classletter/newsletter-engine/internal/domain"
	"github.com/classletter/newsletter-engine/internal/workflow"
)

var (
	genRunID     string
	genSettings  string
	genOutput    string
	genUserID    string
	genSessionID string
)

var generateCmd = &cobra.Command{
	Use:   "generate <transcript-file>",
	Short: "Generate a newsletter from a transcript",
	Long: `Runs planning, generation and validation for one transcript and prints
the quality report. Re-running with the same --run-id resumes an interrupted run.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&genRunID, "run-id", "", "run identifier (default: new UUID)")
	generateCmd.Flags().StringVar(&genSettings, "settings", "", "JSON file with newsletter settings passed to the planner")
	generateCmd.Flags().StringVarP(&genOutput, "output", "o", "", "write the newsletter HTML to this file")
	generateCmd.Flags().StringVar(&genUserID, "user", "", "user id recorded on the run")
	generateCmd.Flags().StringVar(&genSessionID, "session", "", "session id recorded on the run")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	transcript, err := readInput(args[0])
	if err != nil {
		return err
	}
	var settings json.RawMessage
	if genSettings != "" {
		data, err := os.ReadFile(genSettings)
		if err != nil {
			return fmt.Errorf("read settings: %w", err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("settings file %s is not valid JSON", genSettings)
		}
		settings = data
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.engine.Run(ctx, workflow.RunRequest{
		RunID:      genRunID,
		Transcript: string(transcript),
		Config:     settings,
		UserID:     genUserID,
		SessionID:  genSessionID,
	})
	if err != nil {
		if run != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "run %s stopped in phase %s\n", run.ID, run.Phase)
		}
		return err
	}

	if genOutput != "" {
		html, err := a.engine.Artifacts.Read(ctx, run.ID, domain.ArtifactHTML)
		if err != nil {
			return fmt.Errorf("read newsletter: %w", err)
		}
		if err := os.WriteFile(genOutput, html, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", genOutput, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s complete", run.ID)
	if run.Degraded {
		fmt.Fprint(cmd.OutOrStdout(), " (degraded)")
	}
	fmt.Fprintln(cmd.OutOrStdout())
	if run.Report != nil {
		printReport(cmd.OutOrStdout(), *run.Report)
	}
	return nil
}
