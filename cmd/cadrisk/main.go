package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/synaptica-ai/cardiorisk/pkg/common/config"
	"github.com/synaptica-ai/cardiorisk/pkg/common/kafka"
	"github.com/synaptica-ai/cardiorisk/pkg/common/logger"
	"github.com/synaptica-ai/cardiorisk/pkg/features"
	"github.com/synaptica-ai/cardiorisk/pkg/pipeline"
	"github.com/synaptica-ai/cardiorisk/pkg/report"
	"github.com/synaptica-ai/cardiorisk/pkg/riskservice"
)

func main() {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		logger.Log.WithError(err).Fatal("Invalid configuration")
	}

	rootCmd := &cobra.Command{
		Use:           "cadrisk",
		Short:         "Cardiovascular risk stratification over encounter notes and lab results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(runCmd(cfg))
	rootCmd.AddCommand(rulesCmd(cfg))
	rootCmd.AddCommand(submitCmd(cfg))

	if err := rootCmd.Execute(); err != nil {
		logger.Log.WithError(err).Error("cadrisk failed")
		os.Exit(1)
	}
}

func runCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Score a notes file and a lab results file",
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, _ := cmd.Flags().GetString("notes")
			labs, _ := cmd.Flags().GetString("labs")
			out, _ := cmd.Flags().GetString("out")
			format, _ := cmd.Flags().GetString("format")

			rules, err := features.LoadRules(cfg.RulesPath)
			if err != nil {
				return err
			}
			p, err := pipeline.New(pipeline.OptionsFromConfig(cfg, rules))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := p.RunFiles(ctx, notes, labs)
			if err != nil {
				return err
			}

			if err := writeOutput(cmd.OutOrStdout(), out, format, result); err != nil {
				return err
			}
			logger.ForRun(result.Summary.RunID).WithFields(map[string]interface{}{
				"rows":   len(result.Records),
				"labels": result.Summary.Labels,
				"out":    out,
			}).Info("run complete")
			return nil
		},
	}
	cmd.Flags().String("notes", cfg.NotesPath, "encounter notes table (.csv or .xlsx)")
	cmd.Flags().String("labs", cfg.LabsPath, "lab results table (.csv or .xlsx)")
	cmd.Flags().String("out", cfg.OutputPath, "output path; stdout when empty")
	cmd.Flags().String("format", cfg.OutputFormat, "output format: csv or xlsx")
	return cmd
}

func writeOutput(stdout io.Writer, path, format string, result *pipeline.Result) error {
	if path == "" {
		return report.Write(stdout, format, result.Records)
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	if err := report.Write(f, format, result.Records); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing output: %w", err)
	}
	return nil
}

func rulesCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the effective note classification rules as yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := features.LoadRules(cfg.RulesPath)
			if err != nil {
				return err
			}
			out, err := rules.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// submitCmd queues a run on the risk service through the event bus.
func submitCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Publish a run request for the risk service",
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, _ := cmd.Flags().GetString("notes")
			labs, _ := cmd.Flags().GetString("labs")
			if notes == "" || labs == "" {
				return fmt.Errorf("--notes and --labs are required")
			}
			producer := kafka.NewProducer(cfg, cfg.RunRequestTopic)
			defer producer.Close()
			return producer.PublishEvent(cmd.Context(), riskservice.EventRunRequest, "cadrisk-cli", map[string]interface{}{
				"notes_path": notes,
				"labs_path":  labs,
			})
		},
	}
	cmd.Flags().String("notes", cfg.NotesPath, "notes path readable by the service")
	cmd.Flags().String("labs", cfg.LabsPath, "labs path readable by the service")
	return cmd
}
