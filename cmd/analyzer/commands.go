package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mule_analyzer/internal/config"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/loader"
	"mule_analyzer/internal/processor"
	"mule_analyzer/internal/report"
	"mule_analyzer/internal/repository/memory"
	"mule_analyzer/internal/service"
	"mule_analyzer/pkg/crypto"
	"mule_analyzer/pkg/metrics"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load the dataset, run every detector and write the report",
	Args:  cobra.NoArgs,
	RunE:  runAnalysis,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the dataset and report validation issues only",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the manifest signature and every artifact digest in the output directory",
	Args:  cobra.NoArgs,
	RunE:  runVerify,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

func runAnalysis(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	runID := uuid.New().String()
	logger := setupLogger(cfg.Logging).With(slog.String("run_id", runID))
	ctx := cmd.Context()
	start := time.Now()

	logger.Info("Starting analysis",
		slog.String("name", appName),
		slog.String("data", cfg.Data.Dir),
		slog.String("output", cfg.Output.Dir))

	collector := metrics.NewMetricsCollector(logger)
	ds, err := loadDataset(ctx, cfg, collector, logger)
	if err != nil {
		return err
	}

	params, err := processor.ParamsFromConfig(cfg)
	if err != nil {
		return err
	}
	rules, err := screenRepository(ctx, cfg.Screens)
	if err != nil {
		return err
	}

	res, err := processor.NewAnalyzer(ds, rules, params, collector, logger).Run(ctx)
	if err != nil {
		return err
	}

	builder := report.Compose(res, report.Meta{RunID: runID, GeneratedAt: time.Now(), Source: cfg.Data.Dir})
	signer := crypto.NewSigner(cfg.Signing.Key, logger)
	exporter := service.NewExportService(cfg.Output.Dir, signer, cfg.Output.Workers, logger)
	manifest, err := exporter.Export(ctx, service.Run{
		ID:      runID,
		Result:  res,
		Report:  builder,
		Metrics: collector,
		Title:   "Mule Account EDA Report",
		Output:  cfg.Output,
	})
	if err != nil {
		return err
	}

	if cfg.Metrics.PushgatewayURL != "" {
		if err := collector.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, runID); err != nil {
			logger.Warn("Continuing without pushed metrics", slog.String("error", err.Error()))
		}
	}

	logger.Info("Analysis finished",
		slog.Int("artifacts", len(manifest.Artifacts)),
		slog.Duration("duration", time.Since(start)))
	fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %d artifacts written to %s\n", runID, len(manifest.Artifacts), cfg.Output.Dir)
	return nil
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)
	ctx := cmd.Context()

	rules, err := screenRepository(ctx, cfg.Screens)
	if err != nil {
		return err
	}
	if err := processor.NewRuleEngine(rules, logger).Validate(ctx); err != nil {
		return fmt.Errorf("invalid screen: %w", err)
	}

	ds, err := loadDataset(ctx, cfg, metrics.NewMetricsCollector(logger), logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if screenSample > 0 {
		if err := sampleScreens(ctx, out, ds, processor.NewRuleEngine(rules, logger), screenSample); err != nil {
			return err
		}
	}
	for _, t := range ds.Tables {
		fmt.Fprintf(out, "%-14s %10d rows %3d columns\n", t.Name, t.Rows, len(t.Columns))
	}
	kinds := ds.Validation.Kinds()
	if len(kinds) == 0 {
		fmt.Fprintf(out, "No validation issues in %d transactions\n", ds.Validation.Checked)
		return nil
	}
	for _, k := range kinds {
		fmt.Fprintf(out, "%-22s %d\n", k, ds.Validation.Counts[k])
	}
	return nil
}

func runVerify(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	signer := crypto.NewSigner(cfg.Signing.Key, logger)
	manifest, err := service.VerifyManifest(cfg.Output.Dir, cfg.Output.Manifest, signer)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, a := range manifest.Artifacts {
		fmt.Fprintf(out, "ok  %-20s %12s  %s\n", a.Name, humanize.Bytes(uint64(a.Size)), a.Digest)
	}
	fmt.Fprintf(out, "Run %s: %d artifacts verified\n", manifest.RunID, len(manifest.Artifacts))
	return nil
}

// sampleScreens evaluates the active screens on the first n transactions
// and prints how often each one triggered.
func sampleScreens(ctx context.Context, out io.Writer, ds *loader.Dataset, engine *processor.RuleEngine, n int) error {
	txs, err := ds.Transactions.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to read transactions: %w", err)
	}
	if len(txs) > n {
		txs = txs[:n]
	}

	hits := make(map[string]int)
	var order []string
	for _, tx := range txs {
		results, err := engine.EvaluateRules(ctx, tx)
		if err != nil {
			return err
		}
		for _, r := range results {
			if _, ok := hits[r.RuleID]; !ok {
				order = append(order, r.RuleID)
			}
			hits[r.RuleID]++
		}
	}

	fmt.Fprintf(out, "Screens on %d sampled transactions:\n", len(txs))
	for _, id := range order {
		fmt.Fprintf(out, "  %-20s %d\n", id, hits[id])
	}
	return nil
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Signing.Key != "" {
		cfg.Signing.Key = "<redacted>"
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

func loadDataset(ctx context.Context, cfg *config.Config, collector *metrics.MetricsCollector, logger *slog.Logger) (*loader.Dataset, error) {
	src, err := loader.NewSource(ctx, cfg.Data.Dir)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	ds, err := loader.NewLoader(src, loader.Options{
		Shards:           cfg.Data.TransactionShards,
		Workers:          cfg.Data.Workers,
		StrictDirection:  cfg.Validation.StrictDirection,
		StrictDuplicates: cfg.Validation.StrictDuplicates,
	}, logger).Load(ctx)
	if err != nil {
		return nil, err
	}

	for _, t := range ds.Tables {
		collector.RecordRows(t.Name, t.Rows)
	}
	for kind, n := range ds.Validation.Counts {
		collector.RecordValidationIssue(kind, n)
	}
	return ds, nil
}

// screenRepository loads the configured screens as active rules.
func screenRepository(ctx context.Context, screens []config.ScreenConfig) (*memory.RuleRepository, error) {
	repo := memory.NewRuleRepository()
	for _, s := range screens {
		err := repo.Save(ctx, &domain.Rule{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Condition:   s.Condition,
			Priority:    s.Priority,
			IsActive:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("screen %s: %w", s.ID, err)
		}
	}
	return repo, nil
}
