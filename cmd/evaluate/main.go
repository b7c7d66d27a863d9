package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prodlens/backend/internal/app"
	"github.com/prodlens/backend/internal/evaluation"
	"github.com/prodlens/backend/internal/metrics"
	"github.com/prodlens/backend/pkg/config"
	appLogger "github.com/prodlens/backend/pkg/logger"
)

var (
	datasetPath string
	outputPath  string
	concurrency int
	timeout     time.Duration
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate the answer engine against a labelled dataset",
	Long: `Runs every dataset question through the answer engine twice and reports
route accuracy, grounded and degraded answer rates, citation stability and
similarity of answers to the ground truth.`,
	SilenceUsage: true,
	RunE:         runEvaluate,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a single question and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "overall time limit")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.Flags().StringVarP(&datasetPath, "dataset", "d", "", "dataset JSON file (required)")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the full JSON report to this file")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 4, "questions evaluated in parallel")
	_ = rootCmd.MarkFlagRequired("dataset")

	rootCmd.AddCommand(askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(ctx context.Context) (*app.App, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := appLogger.Init(cfg.Logging.Level, "console", "stderr"); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return a, nil
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	dataset, err := evaluation.LoadDatasetFile(datasetPath)
	if err != nil {
		return err
	}

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	defer appLogger.Sync()

	report, err := evaluation.NewEvaluator(a.Engine, a.Embedder, concurrency).Run(ctx, dataset)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), evaluation.Render(report))

	if outputPath != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		appLogger.Info("Report written", zap.String("path", outputPath))
	}

	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	defer appLogger.Sync()

	result, answerErr := a.Engine.Answer(ctx, args[0])
	if result != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}
	return answerErr
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}
