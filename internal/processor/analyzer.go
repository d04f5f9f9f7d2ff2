package processor

import (
	"context"
	"fmt"
	"log/slog"
	"mule_analyzer/internal/analysis"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/loader"
	"mule_analyzer/internal/repository"
	"mule_analyzer/pkg/metrics"
	"time"
)

// Analyzer runs the analysis pipeline over a loaded dataset: join,
// aggregate, profile, detect and export features. Stages run in sequence.
type Analyzer struct {
	dataset    *loader.Dataset
	ruleRepo   repository.RuleRepository
	detector   *PatternDetector
	ruleEngine *RuleEngine
	metrics    *metrics.MetricsCollector
	params     Params
	logger     *slog.Logger
}

// Result is everything the reporter and exporters need.
type Result struct {
	Input    *Input
	Profile  *Profile
	Findings []*domain.Finding
	Flags    []domain.AccountFlags
	Features []domain.FeatureRow
	// Stats is the flat key/value checkpoint written to stats.json.
	Stats map[string]float64
}

// Finding returns the finding of the named pattern, or nil.
func (r *Result) Finding(pattern string) *domain.Finding {
	for _, f := range r.Findings {
		if f != nil && f.Pattern == pattern {
			return f
		}
	}
	return nil
}

func NewAnalyzer(
	dataset *loader.Dataset,
	ruleRepo repository.RuleRepository,
	params Params,
	collector *metrics.MetricsCollector,
	logger *slog.Logger,
) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.NewMetricsCollector(logger)
	}

	detector := NewPatternDetector(logger)
	detector.OnDetect = collector.RecordDetector

	return &Analyzer{
		dataset:    dataset,
		ruleRepo:   ruleRepo,
		detector:   detector,
		ruleEngine: NewRuleEngine(ruleRepo, logger),
		metrics:    collector,
		params:     params,
		logger:     logger,
	}
}

func (a *Analyzer) Run(ctx context.Context) (*Result, error) {
	res := &Result{}

	var table *analysis.Table
	err := a.stage(ctx, "join", func() (err error) {
		table, err = analysis.Join(ctx, a.dataset, analysis.Params{
			ReferenceDate:  a.params.ReferenceDate,
			NewAccountDays: a.params.NewAccountDays,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	err = a.stage(ctx, "aggregate", func() (err error) {
		res.Input, err = NewInput(ctx, a.dataset, table, a.params)
		return err
	})
	if err != nil {
		return nil, err
	}
	in := res.Input

	err = a.stage(ctx, "profile", func() (err error) {
		res.Profile, err = BuildProfile(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = a.stage(ctx, "detect", func() error {
		var screens []Pattern
		if a.ruleRepo != nil {
			var err error
			if screens, err = a.ruleEngine.Patterns(ctx); err != nil {
				return fmt.Errorf("failed to compile screens: %w", err)
			}
		}
		detector := a.detector
		if len(screens) > 0 {
			detector = &PatternDetector{patterns: detector.Patterns(), logger: a.logger, OnDetect: detector.OnDetect}
			for _, s := range screens {
				detector.Register(s)
			}
		}
		findings, err := detector.Run(ctx, in, a.params.Workers)
		res.Findings = findings
		return err
	})
	if err != nil {
		return nil, err
	}

	err = a.stage(ctx, "features", func() error {
		res.Flags = FlagList(in.Flags)
		res.Features = BuildFeatures(in)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for flag, n := range flagCounts(in.Flags) {
		a.metrics.SetFlagged(flag, n)
	}
	if res.Stats, err = a.checkpoint(ctx, res); err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}

	a.logger.InfoContext(ctx, "Analysis complete",
		slog.Int("base_rows", in.Table.Len()),
		slog.Int("accounts_with_transactions", len(in.AccountOrder)),
		slog.Int("findings", len(res.Findings)),
		slog.Int("features", len(res.Features)))

	return res, nil
}

func (a *Analyzer) stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	a.logger.DebugContext(ctx, "Stage started", slog.String("stage", name))

	if err := fn(); err != nil {
		a.logger.ErrorContext(ctx, "Stage failed",
			slog.String("stage", name),
			slog.String("error", err.Error()))
		return fmt.Errorf("%s: %w", name, err)
	}

	elapsed := time.Since(start)
	a.metrics.RecordStage(name, elapsed)
	a.logger.InfoContext(ctx, "Stage finished",
		slog.String("stage", name),
		slog.Duration("duration", elapsed))
	return nil
}

func (a *Analyzer) checkpoint(ctx context.Context, res *Result) (map[string]float64, error) {
	out := make(map[string]float64)

	txCount, err := a.dataset.Transactions.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	accountCount, err := a.dataset.Accounts.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}
	customers, err := a.dataset.Customers.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read customers: %w", err)
	}
	out["total_transactions"] = float64(txCount)
	out["total_accounts"] = float64(accountCount)
	out["total_customers"] = float64(len(customers))

	tp := res.Profile.Target
	out["mule_rate"] = tp.MuleRate
	out["mule_count"] = float64(tp.Mules)
	out["legit_count"] = float64(tp.Legit)

	for _, f := range res.Findings {
		for k, v := range f.Stats {
			out[k] = v
		}
	}
	for flag, n := range flagCounts(res.Input.Flags) {
		out["flagged_"+flag] = float64(n)
	}
	return out, nil
}
